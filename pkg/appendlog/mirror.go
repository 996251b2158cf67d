package appendlog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fluxorio/recordlog/pkg/core"
	"github.com/fluxorio/recordlog/pkg/recordlog"
)

// Mirror copies every record committed to a recordlog.Log into a store.
// It is a recordlog.Observer; only commits are mirrored.
type Mirror struct {
	recordlog.NopObserver

	store     *FSStore
	logger    core.Logger
	now       func() time.Time
	replaying atomic.Bool
	failed    atomic.Int64
}

var _ recordlog.Observer = (*Mirror)(nil)

// NewMirror wraps store.
func NewMirror(store *FSStore, logger core.Logger) *Mirror {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	return &Mirror{store: store, logger: logger, now: time.Now}
}

// OnCommit appends the committed record. Store errors are logged and
// counted, never returned to the writer.
func (m *Mirror) OnCommit(info recordlog.CommitInfo) {
	if m.replaying.Load() {
		return
	}
	_, err := m.store.Append(Entry{Seq: info.Seq, At: m.now().UnixNano(), Data: info.Data})
	if err != nil {
		m.failed.Add(1)
		m.logger.Warnf("appendlog: mirror record %d: %v", info.Seq, err)
	}
}

// Failed returns how many commits could not be mirrored.
func (m *Mirror) Failed() int64 {
	return m.failed.Load()
}

// Replay writes the last n mirrored entries through w, oldest first, so a
// fresh log starts with the history of the previous run. Commits caused by
// the replay are not mirrored again.
func (m *Mirror) Replay(ctx context.Context, w interface {
	WriteAll(ctx context.Context, p []byte) (int, error)
}, n int) (int, error) {
	entries, err := m.store.Tail(n)
	if err != nil {
		return 0, err
	}

	m.replaying.Store(true)
	defer m.replaying.Store(false)

	for i, e := range entries {
		if _, err := w.WriteAll(ctx, e.Data); err != nil {
			return i, err
		}
	}
	m.logger.Infof("appendlog: replayed %d records", len(entries))
	return len(entries), nil
}
