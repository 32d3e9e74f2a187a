package poll

// Phase is the state of a ChangeDetector
type Phase int

const (
	AwaitingFirstObservation Phase = iota
	Watching
	Done
)

func (p Phase) String() string {
	switch p {
	case AwaitingFirstObservation:
		return "awaiting_first_observation"
	case Watching:
		return "watching"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// ChangeDetector remembers the last observed marker. It is a value: Observe
// returns the successor state and leaves the receiver untouched.
type ChangeDetector struct {
	Phase Phase
	Last  string
}

// Observe feeds the next marker. The first observation only records the
// marker; afterwards a marker different from the previous one moves the
// detector to Done and reports true. Done is terminal.
func (d ChangeDetector) Observe(marker string) (ChangeDetector, bool) {
	switch d.Phase {
	case AwaitingFirstObservation:
		return ChangeDetector{Phase: Watching, Last: marker}, false
	case Watching:
		if marker != d.Last {
			return ChangeDetector{Phase: Done, Last: marker}, true
		}
		return d, false
	default:
		return d, true
	}
}

// Condition decides whether a fetched value ends the session
type Condition[T any] func(data T) bool

// UntilChanged returns a condition that holds once the marker extracted from
// the data differs from the one seen on the previous attempt. Each call
// returns an independent detector; use one per session.
func UntilChanged[T any](marker func(T) string) Condition[T] {
	var state ChangeDetector
	return func(data T) bool {
		var changed bool
		state, changed = state.Observe(marker(data))
		return changed
	}
}
