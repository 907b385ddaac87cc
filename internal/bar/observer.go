package bar

// Reasons reported to Observer.Discarded.
const (
	ReasonMalformed = "malformed"        // set event whose value is not a number
	ReasonTextInBar = "text_in_bar_mode" // text event while drawing a bar
	ReasonStale     = "stale"            // left in the queue when a new run started
)

// Observer receives event accounting callbacks. Enqueued is called from
// producer goroutines, the rest from the rendering goroutine, so
// implementations must be safe for concurrent use.
type Observer interface {
	Enqueued(kind Kind)
	Applied(kind Kind)
	Rendered()
	Discarded(reason string, n int)
}

type nopObserver struct{}

func (nopObserver) Enqueued(Kind)         {}
func (nopObserver) Applied(Kind)          {}
func (nopObserver) Rendered()             {}
func (nopObserver) Discarded(string, int) {}
