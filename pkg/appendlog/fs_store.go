package appendlog

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// FSStoreConfig configures the file-backed store.
type FSStoreConfig struct {
	Dir string

	// MaxSegmentBytes triggers rotation when the active segment would grow
	// past it.
	MaxSegmentBytes int64

	// MaxBufferedBytes bounds queued bytes. When exceeded, Append fails fast.
	MaxBufferedBytes int64

	Durability Durability
	Observer   Observer
}

// DefaultFSStoreConfig returns 64MB segments and an 8MB queue.
func DefaultFSStoreConfig(dir string) FSStoreConfig {
	return FSStoreConfig{
		Dir:              dir,
		MaxSegmentBytes:  64 << 20,
		MaxBufferedBytes: 8 << 20,
		Durability:       DurabilityMemory,
	}
}

type appendReq struct {
	offset Offset
	frame  []byte
	ackCh  chan error
}

// FSStore is an append-only entry store: appends are queued in memory and
// written in order by a background flusher into size-rotated segments.
type FSStore struct {
	cfg      FSStoreConfig
	observer Observer

	mu     sync.Mutex
	closed bool

	nextOffset atomic.Uint64

	activeID   int
	activeFile *os.File
	activeBuf  *bufio.Writer
	activeSize int64
	segments   int

	appendCh chan appendReq
	flushWg  sync.WaitGroup

	bufferedBytes   atomic.Int64
	writtenBytes    atomic.Int64
	appendedEntries atomic.Int64
	rejectedAppends atomic.Int64
}

// NewFSStore opens or creates a store in cfg.Dir, recovering the next
// offset from existing segments.
func NewFSStore(cfg FSStoreConfig) (*FSStore, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("appendlog: dir is required")
	}
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = 64 << 20
	}
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = 8 << 20
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	s := &FSStore{cfg: cfg, observer: cfg.Observer}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if err := s.openOrRecover(); err != nil {
		if s.activeFile != nil {
			_ = s.activeFile.Close()
		}
		return nil, err
	}

	s.flushWg.Add(1)
	go s.flushLoop()
	return s, nil
}

func (s *FSStore) openOrRecover() error {
	segs, err := listSegments(s.cfg.Dir)
	if err != nil {
		return err
	}

	var (
		maxOffset Offset
		lastGood  int64
	)
	for i, seg := range segs {
		good, err := scanSegment(seg.path, func(e Entry) bool {
			maxOffset = max(maxOffset, e.Offset)
			return true
		})
		if err != nil {
			return err
		}
		if i == len(segs)-1 {
			lastGood = good
		}
	}
	s.nextOffset.Store(uint64(maxOffset) + 1)
	s.segments = len(segs)

	s.activeID = 1
	if len(segs) > 0 {
		s.activeID = segs[len(segs)-1].id
	} else {
		s.segments = 1
	}
	f, err := os.OpenFile(segmentPath(s.cfg.Dir, s.activeID), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	s.activeFile = f
	// Drop a torn tail so new frames follow the last intact one.
	if err := f.Truncate(lastGood); err != nil {
		return err
	}
	if _, err := f.Seek(lastGood, 0); err != nil {
		return err
	}
	s.activeSize = lastGood
	s.activeBuf = bufio.NewWriterSize(f, 256<<10)
	s.appendCh = make(chan appendReq, 1024)
	return nil
}

// Append queues an entry and returns its offset. Offset in e is ignored.
// With DurabilityFsync it waits for the entry to reach disk.
func (s *FSStore) Append(e Entry) (Offset, error) {
	if len(e.Data) == 0 {
		return 0, ErrInvalidData
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	e.Offset = Offset(s.nextOffset.Add(1) - 1)
	frame, err := encodeFrame(e)
	if err != nil {
		s.mu.Unlock()
		s.reject(err)
		return 0, err
	}
	size := int64(len(frame))
	if s.bufferedBytes.Load()+size > s.cfg.MaxBufferedBytes {
		s.mu.Unlock()
		s.reject(ErrBackpressure)
		return 0, ErrBackpressure
	}

	req := appendReq{offset: e.Offset, frame: frame, ackCh: make(chan error, 1)}
	select {
	case s.appendCh <- req:
		s.bufferedBytes.Add(size)
		s.appendedEntries.Add(1)
	default:
		s.mu.Unlock()
		s.reject(ErrBackpressure)
		return 0, ErrBackpressure
	}
	s.mu.Unlock()

	if s.cfg.Durability == DurabilityMemory {
		return e.Offset, nil
	}
	return e.Offset, <-req.ackCh
}

func (s *FSStore) reject(err error) {
	s.rejectedAppends.Add(1)
	s.observer.OnRejected(err)
}

// Read returns up to limit entries with Offset >= from, oldest first.
// Entries still queued for the flusher are not visible.
func (s *FSStore) Read(from Offset, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := s.flushBuffer(); err != nil {
		return nil, err
	}
	segs, err := listSegments(s.cfg.Dir)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, min(limit, 128))
	for _, seg := range segs {
		if _, err := scanSegment(seg.path, func(e Entry) bool {
			if e.Offset >= from {
				out = append(out, e)
			}
			return len(out) < limit
		}); err != nil {
			return nil, err
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Tail returns the last n persisted entries, oldest first.
func (s *FSStore) Tail(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	if err := s.flushBuffer(); err != nil {
		return nil, err
	}
	segs, err := listSegments(s.cfg.Dir)
	if err != nil {
		return nil, err
	}

	// Walk segments newest first until n entries are collected.
	var chunks [][]Entry
	total := 0
	for i := len(segs) - 1; i >= 0 && total < n; i-- {
		var seg []Entry
		if _, err := scanSegment(segs[i].path, func(e Entry) bool {
			seg = append(seg, e)
			return true
		}); err != nil {
			return nil, err
		}
		chunks = append(chunks, seg)
		total += len(seg)
	}

	out := make([]Entry, 0, min(n, total))
	for i := len(chunks) - 1; i >= 0; i-- {
		out = append(out, chunks[i]...)
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

// Rotate seals the active segment and starts a new one.
func (s *FSStore) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.rotateLocked()
}

func (s *FSStore) rotateLocked() error {
	if err := s.activeBuf.Flush(); err != nil {
		return err
	}
	if s.cfg.Durability == DurabilityFsync {
		_ = s.activeFile.Sync()
	}
	_ = s.activeFile.Close()

	s.activeID++
	f, err := os.OpenFile(segmentPath(s.cfg.Dir, s.activeID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.activeFile = f
	s.activeBuf = bufio.NewWriterSize(f, 256<<10)
	s.activeSize = 0
	s.segments++
	s.observer.OnRotate(s.activeID)
	return nil
}

func (s *FSStore) flushBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.activeBuf.Flush()
}

// Sync flushes buffered frames and fsyncs the active segment.
func (s *FSStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.activeBuf.Flush(); err != nil {
		return err
	}
	return s.activeFile.Sync()
}

// Close drains the queue, flushes and closes the active segment.
func (s *FSStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.appendCh)
	s.mu.Unlock()

	s.flushWg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.activeBuf.Flush()
	if s.cfg.Durability == DurabilityFsync {
		_ = s.activeFile.Sync()
	}
	if cerr := s.activeFile.Close(); err == nil {
		err = cerr
	}
	return err
}

// Stats returns current counters.
func (s *FSStore) Stats() Stats {
	s.mu.Lock()
	segments := s.segments
	s.mu.Unlock()
	return Stats{
		BufferedBytes:   s.bufferedBytes.Load(),
		WrittenBytes:    s.writtenBytes.Load(),
		AppendedEntries: s.appendedEntries.Load(),
		RejectedAppends: s.rejectedAppends.Load(),
		Segments:        segments,
	}
}

func (s *FSStore) flushLoop() {
	defer s.flushWg.Done()
	for req := range s.appendCh {
		err := s.writeFrame(req.frame)
		s.bufferedBytes.Add(-int64(len(req.frame)))
		if err == nil {
			s.observer.OnPersisted(req.offset, len(req.frame))
		}
		req.ackCh <- err
	}
}

func (s *FSStore) writeFrame(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeSize > 0 && s.activeSize+int64(len(frame)) > s.cfg.MaxSegmentBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	if _, err := s.activeBuf.Write(frame); err != nil {
		return err
	}
	s.activeSize += int64(len(frame))
	s.writtenBytes.Add(int64(len(frame)))

	if s.cfg.Durability == DurabilityFsync {
		if err := s.activeBuf.Flush(); err != nil {
			return err
		}
		return s.activeFile.Sync()
	}
	return nil
}
