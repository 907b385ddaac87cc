package bar

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/terminal"
)

// Defaults applied at construction.
const (
	DefaultMax     = 100.0
	DefaultUpEvery = 2
	DefaultYield   = 100 * time.Millisecond
)

const (
	// frameWidth is the width of everything on a bar line except the bar
	// itself: "[", "] ", a 3-digit percent and " %".
	frameWidth = 8
	// placeholder is printed in text mode for a step.
	placeholder = "tic"
)

// Config is the user-visible bar configuration. It is replaced wholesale on
// every reset; options passed to Reset are merged over the previous value.
type Config struct {
	Max     float64 // finish value, always > 0
	Width   int     // bar width in characters; 0 fits the terminal
	Title   string  // printed once above the bar; empty for none
	Bar     bool    // false switches to text mode
	UpEvery int     // redraw every UpEvery percent, 0..100
}

// DefaultConfig returns the configuration a bar starts from.
func DefaultConfig() Config {
	return Config{Max: DefaultMax, Bar: true, UpEvery: DefaultUpEvery}
}

// settings is Config plus the plumbing that is not part of the visible
// configuration but survives resets the same way.
type settings struct {
	cfg      Config
	out      io.Writer
	term     terminal.Sizer
	yield    time.Duration
	logger   *zap.Logger
	observer Observer
}

func defaultSettings() settings {
	return settings{
		cfg:      DefaultConfig(),
		out:      os.Stdout,
		term:     terminal.System{},
		yield:    DefaultYield,
		logger:   zap.NewNop(),
		observer: nopObserver{},
	}
}

// Option changes one setting. Options not passed to Reset keep their
// previous value.
type Option func(*settings)

// WithConfig replaces the whole visible configuration, applying the same
// normalization as the individual options.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		WithMax(cfg.Max)(s)
		WithWidth(cfg.Width)(s)
		WithTitle(cfg.Title)(s)
		WithBar(cfg.Bar)(s)
		WithUpEvery(cfg.UpEvery)(s)
	}
}

// WithMax sets the finish value. Non-positive values are ignored.
func WithMax(v float64) Option {
	return func(s *settings) {
		if v > 0 {
			s.cfg.Max = v
		}
	}
}

// WithWidth sets the bar width in characters; 0 (or less) fits the terminal.
func WithWidth(n int) Option {
	return func(s *settings) { s.cfg.Width = max(0, n) }
}

// WithTitle sets the title line; an empty title disables it.
func WithTitle(title string) Option {
	return func(s *settings) { s.cfg.Title = title }
}

// WithBar selects bar mode (true) or text mode (false).
func WithBar(enabled bool) Option {
	return func(s *settings) { s.cfg.Bar = enabled }
}

// WithUpEvery sets the redraw throttle in percent, clamped to [0, 100].
// 0 redraws on every update.
func WithUpEvery(pct int) Option {
	return func(s *settings) { s.cfg.UpEvery = min(100, max(0, pct)) }
}

// WithOutput sets the destination of all rendering. nil is ignored.
func WithOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.out = w
		}
	}
}

// WithTerminal sets the source of the terminal width. nil is ignored.
func WithTerminal(t terminal.Sizer) Option {
	return func(s *settings) {
		if t != nil {
			s.term = t
		}
	}
}

// WithYield sets how long the consumer of a Serialized bar pauses after each
// applied event. Negative values are treated as 0.
func WithYield(d time.Duration) Option {
	return func(s *settings) { s.yield = max(0, d) }
}

// WithLogger sets the logger for dropped and malformed events. nil is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver attaches event accounting hooks. nil is ignored.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}
