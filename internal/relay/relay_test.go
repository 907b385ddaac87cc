package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ivoronin/patiencebar/internal/bar"
	"github.com/ivoronin/patiencebar/internal/terminal"
)

// recorder is an Updater that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []bar.Event
}

func (r *recorder) Update(ev bar.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []bar.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bar.Event(nil), r.events...)
}

func TestWriterServeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	sent := []bar.Event{bar.Step(), bar.Set(12.5), bar.Text("hello \"world\"\nsecond line"), bar.SetString("junk")}
	for _, ev := range sent {
		w.Update(ev)
	}
	require.NoError(t, w.Err())
	assert.Equal(t, len(sent), strings.Count(buf.String(), "\n"), "one line per frame")

	var rec recorder
	n, err := Serve(context.Background(), &buf, &rec, nil)
	require.NoError(t, err)
	assert.Equal(t, len(sent), n)
	assert.Equal(t, sent, rec.all())
}

func TestWriterStampsWorker(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Update(bar.Step())

	assert.NotEmpty(t, w.Worker())
	assert.Contains(t, buf.String(), `"worker":"`+w.Worker()+`"`)
	assert.NotEqual(t, w.Worker(), NewWriter(io.Discard).Worker())
}

func TestServeSkipsMalformedFrames(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	input := strings.Join([]string{
		`{"kind":"step"}`,
		`not json`,
		``,
		`{"kind":"explode"}`,
		`{"kind":"set","payload":"40"}`,
		``,
	}, "\n")

	var rec recorder
	n, err := Serve(context.Background(), strings.NewReader(input), &rec, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []bar.Event{bar.Step(), bar.SetString("40")}, rec.all())
	assert.Equal(t, 3, logs.FilterMessage("skipping malformed relay frame").Len())
}

// TestWriterCutsLongText checks a text line over the frame limit is shortened
// rather than breaking the events that follow it.
func TestWriterCutsLongText(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	long := strings.Repeat("é", 35*1024) // 70 KiB of two-byte runes
	w.Update(bar.Step())
	w.Update(bar.Text(long))
	for range 5 {
		w.Update(bar.Step())
	}
	require.NoError(t, w.Err())

	for _, line := range strings.SplitAfter(buf.String(), "\n") {
		assert.LessOrEqual(t, len(line), maxFrameSize)
	}

	var rec recorder
	n, err := Serve(context.Background(), &buf, &rec, nil)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	got := rec.all()
	assert.Equal(t, bar.KindText, got[1].Kind())
	assert.NotEmpty(t, got[1].Payload())
	assert.True(t, strings.HasPrefix(long, got[1].Payload()))
	assert.True(t, utf8.ValidString(got[1].Payload()))
	for _, ev := range got[2:] {
		assert.Equal(t, bar.KindStep, ev.Kind())
	}
}

// TestWriterDropsLongSetValue checks an oversized value is not cut into a
// different number.
func TestWriterDropsLongSetValue(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Update(bar.SetString(strings.Repeat("9", maxFrameSize)))
	require.NoError(t, w.Err())

	var rec recorder
	_, err := Serve(context.Background(), &buf, &rec, nil)
	require.NoError(t, err)
	require.Len(t, rec.all(), 1)

	_, ok := rec.all()[0].Number()
	assert.False(t, ok, "value must stay malformed")
}

// TestServeSkipsOversizedLine feeds a line no Writer would produce and
// expects every later frame to arrive.
func TestServeSkipsOversizedLine(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	input := `{"kind":"step"}` + "\n" +
		strings.Repeat("x", 70*1024) + "\n" +
		strings.Repeat(`{"kind":"step"}`+"\n", 5)

	var rec recorder
	n, err := Serve(context.Background(), strings.NewReader(input), &rec, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 6, n)
	assert.Equal(t, 1, logs.FilterMessage("skipping oversized relay frame").Len())
}

func TestServeStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec recorder
	n, err := Serve(ctx, strings.NewReader("{\"kind\":\"step\"}\n"), &rec, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
}

type failingWriter struct{ writes int }

func (f *failingWriter) Write([]byte) (int, error) {
	f.writes++
	return 0, errors.New("broken pipe")
}

func TestWriterKeepsFirstError(t *testing.T) {
	var fw failingWriter
	w := NewWriter(&fw)
	w.Update(bar.Step())
	w.Update(bar.Step())

	require.ErrorContains(t, w.Err(), "broken pipe")
	assert.Equal(t, 1, fw.writes, "writes stop after the first failure")
}

// TestConcurrentWritersIntoSerializedBar runs several writers sharing one
// pipe, as worker processes do, and relays into a serialized bar.
func TestConcurrentWritersIntoSerializedBar(t *testing.T) {
	const workers, steps = 4, 30

	pr, pw := io.Pipe()
	var out bytes.Buffer
	sb := bar.NewSerialized(
		bar.WithMax(workers*steps),
		bar.WithOutput(&out),
		bar.WithTerminal(terminal.Size{Cols: 80}),
		bar.WithYield(0),
	)
	t.Cleanup(sb.Stop)

	served := make(chan int, 1)
	go func() {
		n, err := Serve(context.Background(), pr, sb, nil)
		assert.NoError(t, err)
		served <- n
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := NewWriter(pw)
			for range steps {
				w.Update(bar.Step())
			}
			assert.NoError(t, w.Err())
		}()
	}
	wg.Wait()
	require.NoError(t, pw.Close())

	assert.Equal(t, workers*steps, <-served)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sb.Wait(ctx))
	assert.Equal(t, float64(workers*steps), sb.Value())
}
