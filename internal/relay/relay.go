// Package relay carries progress events between processes.
//
// A worker process writes one JSON frame per line to a pipe inherited from
// its parent; the parent decodes frames and feeds them into its own bar.
// Frames from many workers may share one reader as long as each line is
// written with a single write call, which Writer guarantees.
package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivoronin/patiencebar/internal/bar"
)

// maxFrameSize bounds a single encoded frame, text payload included.
const maxFrameSize = 64 * 1024

// Frame is the wire form of one event.
type Frame struct {
	Worker  string `json:"worker,omitempty"`
	Kind    string `json:"kind"`
	Payload string `json:"payload,omitempty"`
}

// Writer encodes events as frames. It satisfies bar.Updater and is safe for
// concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	worker string
	err    error
}

// NewWriter creates a Writer tagging every frame with a fresh worker ID.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, worker: uuid.NewString()}
}

// Worker returns the ID stamped on this writer's frames.
func (w *Writer) Worker() string { return w.worker }

// Update writes ev as a single line. After the first write error all further
// events are dropped; Err reports it.
func (w *Writer) Update(ev bar.Event) {
	line, err := encode(Frame{Worker: w.worker, Kind: ev.Kind().String(), Payload: ev.Payload()})
	if err != nil {
		w.setErr(err)
		return
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if _, err := w.w.Write(line); err != nil {
		w.err = fmt.Errorf("write frame: %w", err)
	}
}

// encode marshals f so that the line, newline included, fits maxFrameSize.
// Long text payloads are cut at a rune boundary. Any other payload that does
// not fit is dropped, leaving an event the bar ignores as malformed.
func encode(f Frame) ([]byte, error) {
	for {
		line, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("encode frame: %w", err)
		}
		over := len(line) + 1 - maxFrameSize
		if over <= 0 {
			return line, nil
		}
		if f.Kind != bar.KindText.String() || over >= len(f.Payload) {
			f.Payload = ""
			continue
		}
		f.Payload = truncate(f.Payload, len(f.Payload)-over)
	}
}

// truncate returns the longest prefix of s of at most n bytes that does not
// split a UTF-8 sequence.
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Err returns the first error hit by Update, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}

// Serve reads frames from r until EOF and passes each event to u.
// Malformed and oversized frames are logged and skipped. Serve stops early when ctx is
// done, but a blocked read only returns once r is closed or yields data.
// It returns the number of events delivered.
func Serve(ctx context.Context, r io.Reader, u bar.Updater, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	br := bufio.NewReaderSize(r, 4096)

	delivered := 0
	for {
		line, tooLong, err := readFrame(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return delivered, nil
			}
			return delivered, fmt.Errorf("read relay frames: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return delivered, fmt.Errorf("relay canceled: %w", err)
		}
		if tooLong {
			logger.Warn("skipping oversized relay frame", zap.Int("limit", maxFrameSize))
			continue
		}

		ev, err := Decode(line)
		if err != nil {
			logger.Warn("skipping malformed relay frame", zap.Error(err), zap.ByteString("frame", line))
			continue
		}
		u.Update(ev)
		delivered++
	}
}

// readFrame returns the next line of br without its line ending. A line
// longer than maxFrameSize is consumed up to its newline and reported as
// tooLong instead.
func readFrame(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, more, err := br.ReadLine()
		if err != nil {
			return nil, false, err
		}
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > maxFrameSize {
				tooLong, line = true, nil
			}
		}
		if !more {
			return line, tooLong, nil
		}
	}
}

// Decode parses a single frame line into an event.
func Decode(line []byte) (bar.Event, error) {
	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return bar.Event{}, fmt.Errorf("decode frame: %w", err)
	}
	kind, ok := bar.ParseKind(f.Kind)
	if !ok {
		return bar.Event{}, fmt.Errorf("decode frame: unknown kind %q", f.Kind)
	}
	return bar.NewEvent(kind, f.Payload), nil
}
