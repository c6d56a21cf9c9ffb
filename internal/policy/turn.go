package policy

// Kind distinguishes how a Turn was enqueued, controlling its interaction
// with pending queue contents (spec.md §3).
type Kind string

const (
	// KindAppend adds the turn after whatever is already queued.
	KindAppend Kind = "append"
	// KindIsolateAndClear atomically discards every pending turn before
	// this one is pushed, so it becomes the sole head of the queue.
	KindIsolateAndClear Kind = "isolate-and-clear"
)

// Turn is immutable once enqueued (spec.md §3). The Engine Driver consumes
// turns strictly in enqueue order and must never see the policy snapshot
// change mid-turn.
type Turn struct {
	Text        string
	Policy      Snapshot
	Kind        Kind
	Fingerprint string
}

// NewTurn builds a Turn, computing its fingerprint from the given policy
// snapshot.
func NewTurn(text string, snap Snapshot, kind Kind) Turn {
	return Turn{
		Text:        text,
		Policy:      snap,
		Kind:        kind,
		Fingerprint: Fingerprint(snap),
	}
}
