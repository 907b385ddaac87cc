package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
		want Size
	}{
		{"unset", nil, Size{Rows: 25, Cols: 80}},
		{"both set", map[string]string{"LINES": "40", "COLUMNS": "132"}, Size{Rows: 40, Cols: 132}},
		{"columns only", map[string]string{"COLUMNS": "100"}, Size{Rows: 25, Cols: 100}},
		{"malformed", map[string]string{"LINES": "tall", "COLUMNS": "wide"}, Size{Rows: 25, Cols: 80}},
		{"zero", map[string]string{"LINES": "0", "COLUMNS": "0"}, Size{Rows: 25, Cols: 80}},
		{"negative", map[string]string{"COLUMNS": "-5"}, Size{Rows: 25, Cols: 80}},
		{"empty", map[string]string{"COLUMNS": ""}, Size{Rows: 25, Cols: 80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FromEnv(mapLookup(tt.env)))
		})
	}
}

func TestFixedSizeIsSizer(t *testing.T) {
	t.Parallel()

	var s Sizer = Size{Rows: 10, Cols: 60}
	assert.Equal(t, Size{Rows: 10, Cols: 60}, s.Size())
}

// TestDetectNeverFails runs detection in whatever environment the test binary
// has (usually no terminal) and only checks the result is usable.
func TestDetectNeverFails(t *testing.T) {
	s := Detect()
	assert.Positive(t, s.Rows)
	assert.Positive(t, s.Cols)
}

func TestDetectFallsBackToEnv(t *testing.T) {
	// Not parallel: mutates process environment and package state.
	orig := controllingTTY
	controllingTTY = "/nonexistent/tty"
	t.Cleanup(func() { controllingTTY = orig })
	t.Setenv("LINES", "33")
	t.Setenv("COLUMNS", "111")

	s := Detect()
	if s.Cols != 111 {
		// A standard stream is attached to a real terminal (interactive run).
		t.Skipf("standard stream is a terminal (%dx%d); fallback not exercised", s.Rows, s.Cols)
	}
	assert.Equal(t, Size{Rows: 33, Cols: 111}, s)
}
