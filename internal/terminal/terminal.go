// Package terminal reports the dimensions of the controlling terminal.
//
// Detection order:
//
//  1. stdin, stdout, stderr (first one attached to a terminal wins)
//  2. the controlling terminal device (/dev/tty)
//  3. LINES and COLUMNS environment variables
//  4. 25 rows x 80 columns
//
// Detection never fails; every error degrades to the next source.
package terminal

import (
	"os"
	"strconv"

	"golang.org/x/term"
)

// Fallback dimensions used when neither a terminal nor the environment
// provides a usable value.
const (
	DefaultRows = 25
	DefaultCols = 80
)

// controllingTTY is the device opened when no standard stream is a terminal.
var controllingTTY = "/dev/tty"

// Size holds terminal dimensions in character cells.
type Size struct {
	Rows int
	Cols int
}

// Size implements Sizer with a fixed value.
func (s Size) Size() Size { return s }

// Sizer reports terminal dimensions. Implementations are queried on every
// bar reset, so a resized window is picked up by the next run.
type Sizer interface {
	Size() Size
}

// System is the Sizer backed by Detect.
type System struct{}

// Size implements Sizer.
func (System) Size() Size { return Detect() }

// Detect queries the terminal size, falling back to the environment and
// then to DefaultRows x DefaultCols.
func Detect() Size {
	for _, f := range []*os.File{os.Stdin, os.Stdout, os.Stderr} {
		if s, ok := query(int(f.Fd())); ok {
			return s
		}
	}
	if tty, err := os.Open(controllingTTY); err == nil {
		s, ok := query(int(tty.Fd()))
		_ = tty.Close()
		if ok {
			return s
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv derives a size from LINES and COLUMNS using lookup.
// Missing, malformed, or non-positive values fall back per dimension.
func FromEnv(lookup func(string) (string, bool)) Size {
	return Size{
		Rows: envInt(lookup, "LINES", DefaultRows),
		Cols: envInt(lookup, "COLUMNS", DefaultCols),
	}
}

func query(fd int) (Size, bool) {
	if !term.IsTerminal(fd) {
		return Size{}, false
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil || cols <= 0 || rows <= 0 {
		return Size{}, false
	}
	return Size{Rows: rows, Cols: cols}, true
}

func envInt(lookup func(string) (string, bool), key string, fallback int) int {
	raw, ok := lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
