// Package progress shows an indeterminate spinner for phases whose total is
// not known yet, such as file discovery. Determinate progress goes through
// package bar.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

const updateInterval = 50 * time.Millisecond

// Spinner wraps progressbar in spinner mode with enabled/disabled handling.
// All methods are no-ops when disabled or on a nil Spinner.
type Spinner struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewSpinner creates a spinner writing to out.
// If enabled=false, returns a Spinner where all methods are no-ops.
func NewSpinner(enabled bool, out io.Writer) *Spinner {
	if !enabled || out == nil {
		return &Spinner{}
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(out),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetElapsedTime(false),
	)
	return &Spinner{bar: bar, out: out}
}

// Describe updates the spinner description. Safe for concurrent use.
func (s *Spinner) Describe(d fmt.Stringer) {
	if s != nil && s.bar != nil {
		s.bar.Describe(d.String())
	}
}

// Finish clears the spinner and prints a final summary line.
func (s *Spinner) Finish(d fmt.Stringer) {
	if s != nil && s.bar != nil {
		_ = s.bar.Finish()
		fmt.Fprintln(s.out, "✔ "+d.String())
	}
}
