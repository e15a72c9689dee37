package reactor

import "strings"

// Interest is a set of readiness directions.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable

	ReadWrite = Readable | Writable
)

func (i Interest) String() string {
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "readable")
	}
	if i&Writable != 0 {
		parts = append(parts, "writable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
