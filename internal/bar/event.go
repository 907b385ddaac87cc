package bar

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies what an Event asks the bar to do.
type Kind uint8

// Supported event kinds.
const (
	KindStep Kind = iota // advance by one
	KindSet              // jump to an absolute value
	KindText             // print a line (text mode only)
)

func (k Kind) String() string {
	switch k {
	case KindStep:
		return "step"
	case KindSet:
		return "set"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseKind maps the String form of a kind back to it.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "step":
		return KindStep, true
	case "set":
		return KindSet, true
	case "text":
		return KindText, true
	default:
		return 0, false
	}
}

// Event is a single progress update passed from a producer to the renderer.
// Events are values: created at call time, consumed once.
type Event struct {
	kind    Kind
	payload string
}

// Step returns an event advancing the bar by one.
func Step() Event { return Event{kind: KindStep} }

// Set returns an event moving the bar to v.
func Set(v float64) Event {
	return Event{kind: KindSet, payload: strconv.FormatFloat(v, 'g', -1, 64)}
}

// SetString returns an event moving the bar to the number written in raw.
// raw is parsed when the event is applied; if it is not a finite number the
// event is ignored.
func SetString(raw string) Event { return Event{kind: KindSet, payload: raw} }

// Text returns an event printing line. Bars in bar mode drop it.
func Text(line string) Event { return Event{kind: KindText, payload: line} }

// NewEvent rebuilds an event from its kind and payload, as carried on a wire.
func NewEvent(kind Kind, payload string) Event { return Event{kind: kind, payload: payload} }

// ParseEvent maps free-form input onto an event: empty input is a step,
// a number is an absolute set, anything else is a text line.
func ParseEvent(s string) Event {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Step()
	}
	if _, ok := parseNumber(trimmed); ok {
		return SetString(trimmed)
	}
	return Text(s)
}

// Kind reports the event kind.
func (e Event) Kind() Kind { return e.kind }

// Payload returns the raw value of a set event or the line of a text event.
func (e Event) Payload() string { return e.payload }

// Number returns the target value of a set event. ok is false for other
// kinds and for payloads that are not finite numbers.
func (e Event) Number() (v float64, ok bool) {
	if e.kind != KindSet {
		return 0, false
	}
	return parseNumber(strings.TrimSpace(e.payload))
}

func (e Event) String() string {
	switch e.kind {
	case KindStep:
		return "step"
	case KindSet:
		return "set(" + e.payload + ")"
	default:
		return e.kind.String() + "(" + strconv.Quote(e.payload) + ")"
	}
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
