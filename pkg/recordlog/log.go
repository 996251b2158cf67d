package recordlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/fluxorio/recordlog/pkg/core"
)

// Log is a fixed-capacity ring of records fed by a pending-write accumulator.
//
// Two locks guard it. openMu covers only the exclusive-open flag, so Open and
// Close never wait behind a long read or write. bufLock covers the ring and
// the accumulator together; it is a weighted semaphore of size one so a
// waiter can give up when its context is done. notifyMu is taken before the
// buffer lock is released and held while observers run, so commits reach
// observers in Seq order without callbacks running under the buffer lock.
type Log struct {
	cfg      Config
	logger   core.Logger
	observer Observer

	openMu    sync.Mutex
	open      bool
	gen       uint64
	destroyed bool

	bufLock  *semaphore.Weighted
	notifyMu sync.Mutex
	ring     *ring
	pending  *accumulator
	seq      uint64
	evicted  uint64
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger core.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers an observer for commit, truncation and open events.
func WithObserver(obs Observer) Option {
	return func(l *Log) {
		if obs != nil {
			l.observer = obs
		}
	}
}

// New constructs an empty log.
func New(cfg Config, opts ...Option) (*Log, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	l := &Log{
		cfg:      cfg,
		logger:   core.NewNopLogger(),
		observer: NopObserver{},
		bufLock:  semaphore.NewWeighted(1),
		ring:     newRing(cfg.Capacity),
		pending:  newAccumulator(cfg.MaxRecordSize),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the normalized configuration.
func (l *Log) Config() Config {
	return l.cfg
}

// Open claims the log. Only one handle may be open at a time.
func (l *Log) Open() (*Handle, error) {
	l.openMu.Lock()
	if l.destroyed {
		l.openMu.Unlock()
		return nil, ErrDestroyed
	}
	if l.open {
		l.openMu.Unlock()
		l.observer.OnOpenRejected()
		return nil, ErrAlreadyOpen
	}
	l.open = true
	l.gen++
	gen := l.gen
	l.openMu.Unlock()

	l.logger.Debugf("recordlog: opened (generation %d)", gen)
	return &Handle{log: l, gen: gen}, nil
}

func (l *Log) close(gen uint64) {
	l.openMu.Lock()
	defer l.openMu.Unlock()
	if l.open && l.gen == gen {
		l.open = false
		l.logger.Debugf("recordlog: closed (generation %d)", gen)
	}
}

func (l *Log) isOpen(gen uint64) bool {
	l.openMu.Lock()
	defer l.openMu.Unlock()
	return l.open && l.gen == gen
}

func (l *Log) lock(ctx context.Context) error {
	if err := l.bufLock.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return nil
}

func (l *Log) unlock() {
	l.bufLock.Release(1)
}

// write runs one write call: input is cut at the first terminator, appended
// to the pending record, and a completed record is moved into the ring.
// Input past MaxRecordSize is dropped and the consumed count reports the
// accepted prefix.
func (l *Log) write(ctx context.Context, gen uint64, p []byte) (int, error) {
	if !l.isOpen(gen) {
		return 0, ErrNotOpen
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := l.lock(ctx); err != nil {
		return 0, err
	}

	chunk := p
	if i := bytes.IndexByte(p, l.cfg.Terminator); i >= 0 {
		chunk = p[:i+1]
	}
	requested := len(chunk)

	room := l.pending.remaining()
	if room == 0 {
		dropped := l.pending.reset()
		l.unlock()
		l.logger.Warnf("recordlog: pending record reached %d bytes, dropped", dropped)
		l.observer.OnOverflowDrop(dropped)
		return 0, ErrCapacityExceeded
	}
	if len(chunk) > room {
		chunk = chunk[:room]
	}
	// room was checked above, append cannot fail.
	_ = l.pending.append(chunk)

	var (
		commit    CommitInfo
		committed bool
	)
	if rec := l.pending.takeIfTerminated(chunk, l.cfg.Terminator); rec != nil {
		evicted := l.ring.insert(rec)
		l.seq++
		committed = true
		commit = CommitInfo{Seq: l.seq, Data: rec.Bytes()}
		if evicted != nil {
			l.evicted++
			commit.Evicted = true
			commit.EvictedLen = evicted.release()
		}
	}
	truncated := len(chunk) < requested
	if !committed && !truncated {
		l.unlock()
		return len(chunk), nil
	}

	l.notifyMu.Lock()
	l.unlock()
	if truncated {
		l.logger.Warnf("recordlog: write truncated from %d to %d bytes", requested, len(chunk))
		l.observer.OnTruncate(TruncateInfo{Requested: requested, Accepted: len(chunk)})
	}
	if committed {
		l.observer.OnCommit(commit)
	}
	l.notifyMu.Unlock()
	return len(chunk), nil
}

// read copies retained history starting at off. Reading at or past the end
// of history returns no bytes and no error.
func (l *Log) read(ctx context.Context, gen uint64, maxBytes int, off int64) ([]byte, int64, error) {
	if !l.isOpen(gen) {
		return nil, off, ErrNotOpen
	}
	if off < 0 {
		return nil, off, fmt.Errorf("%w: negative offset %d", ErrInvalidArgument, off)
	}
	if maxBytes <= 0 {
		return nil, off, nil
	}
	if err := l.lock(ctx); err != nil {
		return nil, off, err
	}
	data := l.ring.readFrom(off, maxBytes)
	l.unlock()
	return data, off + int64(len(data)), nil
}

// seek resolves a new offset from cur. Seeking past the end is allowed.
func (l *Log) seek(ctx context.Context, gen uint64, cur, offset int64, whence int) (int64, error) {
	if !l.isOpen(gen) {
		return cur, ErrNotOpen
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = cur
	case io.SeekEnd:
		if err := l.lock(ctx); err != nil {
			return cur, err
		}
		base = l.ring.totalLength()
		l.unlock()
	default:
		return cur, fmt.Errorf("%w: whence %d", ErrInvalidArgument, whence)
	}
	next := base + offset
	if next < 0 {
		return cur, fmt.Errorf("%w: resulting offset %d is negative", ErrInvalidArgument, next)
	}
	return next, nil
}

// Stats is a point-in-time view of the log.
type Stats struct {
	Capacity     int
	Records      int
	Bytes        int64
	PendingBytes int
	Committed    uint64
	Evicted      uint64
	Open         bool
}

// Stats reports the current contents. It takes the buffer lock.
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	if err := l.lock(ctx); err != nil {
		return Stats{}, err
	}
	st := Stats{
		Capacity:     l.ring.capacity(),
		Records:      l.ring.count(),
		Bytes:        l.ring.totalLength(),
		PendingBytes: l.pending.len(),
		Committed:    l.seq,
		Evicted:      l.evicted,
	}
	l.unlock()

	l.openMu.Lock()
	st.Open = l.open
	l.openMu.Unlock()
	return st, nil
}

// Destroy releases every retained record and the pending buffer. Open
// handles stop working and the log cannot be opened again.
func (l *Log) Destroy() {
	l.openMu.Lock()
	if l.destroyed {
		l.openMu.Unlock()
		return
	}
	l.destroyed = true
	l.open = false
	l.openMu.Unlock()

	// Teardown waits for in-flight reads and writes.
	_ = l.lock(context.Background())
	records, n := l.ring.reset()
	pending := l.pending.reset()
	l.unlock()

	l.logger.Infof("recordlog: destroyed, released %d records (%d bytes) and %d pending bytes", records, n, pending)
}
