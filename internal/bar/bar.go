// Package bar renders a single-line terminal progress bar.
//
// Two types share one rendering core:
//
//   - Bar draws directly on the calling goroutine. It has no locking; the
//     caller serializes every call.
//   - Serialized wraps a Bar behind an unbounded queue. Any number of
//     goroutines (or, through package relay, other processes) may call
//     Update concurrently; one consumer goroutine owns the Bar and performs
//     every write to the terminal, so lines never interleave.
//
// A bar line looks like
//
//	\r<pad>[=========          ]  47 %<pad>
//
// centered in the terminal. In text mode each update prints one line instead.
package bar

import (
	"fmt"
	"io"
	"math"
	"strings"

	"go.uber.org/zap"
)

// Updater accepts progress events. Producers should depend on this rather
// than on a concrete bar.
type Updater interface {
	Update(ev Event)
}

// Bar is a progress bar that renders on the calling goroutine.
// It is not safe for concurrent use.
type Bar struct {
	settings settings

	// Derived at reset
	winWidth int // terminal columns
	barSize  int // effective bar width

	// Run state
	step         float64 // current value, within [0, Max]
	nextUp       int     // percent at which the next redraw is allowed
	titleWritten bool
	running      bool
}

// New creates a bar with the given options over DefaultConfig.
func New(opts ...Option) *Bar {
	b := &Bar{settings: defaultSettings()}
	b.Reset(opts...)
	return b
}

// Reset starts a new run. Options are merged over the current settings;
// anything not passed keeps its value. The terminal width is measured again.
func (b *Bar) Reset(opts ...Option) {
	for _, opt := range opts {
		opt(&b.settings)
	}

	b.winWidth = b.settings.term.Size().Cols
	b.barSize = b.settings.cfg.Width
	if b.barSize <= 0 {
		b.barSize = max(1, b.winWidth-frameWidth)
	}

	b.step = 0
	b.nextUp = 0
	b.titleWritten = false
	b.running = false
}

// Update applies one event and renders if needed.
func (b *Bar) Update(ev Event) {
	cfg := b.settings.cfg
	out := b.settings.out
	defer flush(out)

	if !b.titleWritten {
		if cfg.Title != "" {
			fmt.Fprintln(out, cfg.Title)
		}
		b.titleWritten = true
		b.running = true
	}

	if cfg.Bar {
		if !b.advance(ev) {
			return
		}
		pct := percent(b.step, cfg.Max)
		if pct < b.nextUp {
			return
		}
		b.nextUp = min(100, pct+cfg.UpEvery)
		b.render(pct)
	} else {
		line := ev.Payload()
		if ev.Kind() == KindStep {
			line = placeholder
		}
		fmt.Fprintln(out, line)
		b.settings.observer.Rendered()
		b.step = min(b.step+1, cfg.Max)
	}

	if b.step >= cfg.Max {
		_, _ = io.WriteString(out, "\r\n")
		b.running = false
	}
}

// advance moves the bar-mode value for ev. Returns false if ev is dropped.
func (b *Bar) advance(ev Event) bool {
	switch ev.Kind() {
	case KindStep:
		b.step = min(b.step+1, b.settings.cfg.Max)
	case KindSet:
		v, ok := ev.Number()
		if !ok {
			b.settings.logger.Debug("ignoring malformed progress value", zap.String("value", ev.Payload()))
			b.settings.observer.Discarded(ReasonMalformed, 1)
			return false
		}
		b.step = min(max(v, 0), b.settings.cfg.Max)
	default:
		b.settings.observer.Discarded(ReasonTextInBar, 1)
		return false
	}
	return true
}

// render draws the bar for pct, centered in the terminal.
func (b *Bar) render(pct int) {
	filled := min(b.barSize, max(0, int(float64(pct)/100*float64(b.barSize))))
	left, right := b.padding()

	var sb strings.Builder
	sb.Grow(b.winWidth + 2)
	sb.WriteByte('\r')
	sb.WriteString(strings.Repeat(" ", left))
	sb.WriteByte('[')
	sb.WriteString(strings.Repeat("=", filled))
	sb.WriteString(strings.Repeat(" ", b.barSize-filled))
	fmt.Fprintf(&sb, "] %3d %%", pct)
	sb.WriteString(strings.Repeat(" ", right))

	_, _ = io.WriteString(b.settings.out, sb.String())
	b.settings.observer.Rendered()
}

// padding splits the free terminal width around the bar; the right side
// takes the odd column.
func (b *Bar) padding() (left, right int) {
	spacing := float64(b.winWidth-b.barSize-frameWidth) / 2
	return max(0, int(spacing)), max(0, int(spacing+0.5))
}

// Config returns the current configuration.
func (b *Bar) Config() Config { return b.settings.cfg }

// Max returns the finish value.
func (b *Bar) Max() float64 { return b.settings.cfg.Max }

// Width returns the effective bar width in characters.
func (b *Bar) Width() int { return b.barSize }

// Title returns the title, or "" if none.
func (b *Bar) Title() string { return b.settings.cfg.Title }

// BarEnabled reports whether the bar is in bar mode.
func (b *Bar) BarEnabled() bool { return b.settings.cfg.Bar }

// UpEvery returns the redraw throttle in percent.
func (b *Bar) UpEvery() int { return b.settings.cfg.UpEvery }

// Running reports whether a run is in progress: true from the first update
// until the value reaches Max.
func (b *Bar) Running() bool { return b.running }

// Value returns the current progress value.
func (b *Bar) Value() float64 { return b.step }

// percent is the whole percentage of v over total, rounded down.
func percent(v, total float64) int {
	return int(math.Floor(v * 100 / total))
}

// flush pushes buffered output through writers that buffer (bufio.Writer).
func flush(w io.Writer) {
	if f, ok := w.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}
