package recordlog

// CommitInfo describes a record that entered the ring.
type CommitInfo struct {
	// Seq numbers committed records from 1.
	Seq uint64
	// Data is a copy of the record shared by all observers; keep it, never modify it.
	Data []byte
	// Evicted is set when the commit pushed the oldest record out.
	Evicted    bool
	EvictedLen int
}

// TruncateInfo describes a write cut short by MaxRecordSize.
type TruncateInfo struct {
	Requested int
	Accepted  int
}

// Observer receives log events. Callbacks run on the writer's goroutine
// after the buffer lock is released and must not block for long. OnCommit
// and OnTruncate calls are serialized and OnCommit arrives in Seq order; a
// slow observer delays the next writer's callbacks, not its buffer access.
type Observer interface {
	OnCommit(CommitInfo)
	OnTruncate(TruncateInfo)
	OnOverflowDrop(dropped int)
	OnOpenRejected()
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnCommit(CommitInfo)     {}
func (NopObserver) OnTruncate(TruncateInfo) {}
func (NopObserver) OnOverflowDrop(int)      {}
func (NopObserver) OnOpenRejected()         {}

// MultiObserver fans events out in order.
type MultiObserver []Observer

func (m MultiObserver) OnCommit(info CommitInfo) {
	for _, o := range m {
		o.OnCommit(info)
	}
}

func (m MultiObserver) OnTruncate(info TruncateInfo) {
	for _, o := range m {
		o.OnTruncate(info)
	}
}

func (m MultiObserver) OnOverflowDrop(dropped int) {
	for _, o := range m {
		o.OnOverflowDrop(dropped)
	}
}

func (m MultiObserver) OnOpenRejected() {
	for _, o := range m {
		o.OnOpenRejected()
	}
}

var (
	_ Observer = NopObserver{}
	_ Observer = MultiObserver(nil)
)
