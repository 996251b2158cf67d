package recordlog

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Handle is an open session on a Log. ReadRange, WriteContext and
// SeekContext carry the session operations with explicit offsets and
// contexts; Read, Write, Seek and Close make a Handle usable as an
// io.ReadWriteSeeker with a handle-local position.
//
// Handles are safe for concurrent use. Writes do not move the position.
type Handle struct {
	log *Log
	gen uint64

	mu  sync.Mutex
	pos int64
}

var (
	_ io.ReadWriteSeeker = (*Handle)(nil)
	_ io.Closer          = (*Handle)(nil)
)

// Close ends the session. Closing twice is a no-op.
func (h *Handle) Close() error {
	h.log.close(h.gen)
	return nil
}

// WriteContext performs a single write call. At most one record completes
// per call: input is consumed up to and including the first terminator.
// The returned count is the number of input bytes consumed; it is short
// when a terminator ends the call early or when MaxRecordSize cuts the
// input, in which case the excess is dropped.
func (h *Handle) WriteContext(ctx context.Context, p []byte) (int, error) {
	return h.log.write(ctx, h.gen, p)
}

// Write stores all of p, one write call per record, so several
// terminator-separated records in p all reach the ring.
func (h *Handle) Write(p []byte) (int, error) {
	return h.WriteAll(context.Background(), p)
}

// WriteAll is Write with a context.
func (h *Handle) WriteAll(ctx context.Context, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := h.log.write(ctx, h.gen, p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// ReadRange returns up to maxBytes of retained history starting at off and
// the offset just past the returned bytes. An empty result with a nil error
// means off is at or past the end of history.
func (h *Handle) ReadRange(ctx context.Context, maxBytes int, off int64) ([]byte, int64, error) {
	return h.log.read(ctx, h.gen, maxBytes, off)
}

// ReadAll returns the whole retained history.
func (h *Handle) ReadAll(ctx context.Context) ([]byte, error) {
	var out []byte
	var off int64
	for {
		chunk, next, err := h.log.read(ctx, h.gen, h.log.cfg.MaxRecordSize, off)
		if err != nil {
			return out, err
		}
		if len(chunk) == 0 {
			return out, nil
		}
		out = append(out, chunk...)
		off = next
	}
}

// ReadContext reads at the handle position and advances it.
func (h *Handle) ReadContext(ctx context.Context, p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, next, err := h.log.read(ctx, h.gen, len(p), h.pos)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	h.pos = next
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Read implements io.Reader.
func (h *Handle) Read(p []byte) (int, error) {
	return h.ReadContext(context.Background(), p)
}

// SeekContext moves the handle position. io.SeekEnd resolves against the
// total retained length under the buffer lock.
func (h *Handle) SeekContext(ctx context.Context, offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next, err := h.log.seek(ctx, h.gen, h.pos, offset, whence)
	if err != nil {
		return h.pos, err
	}
	h.pos = next
	return next, nil
}

// Seek implements io.Seeker.
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	return h.SeekContext(context.Background(), offset, whence)
}

// Offset returns the handle position.
func (h *Handle) Offset() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Config returns the configuration of the underlying Log.
func (h *Handle) Config() Config {
	return h.log.cfg
}

// IsClosed reports whether the session behind h has ended.
func (h *Handle) IsClosed() bool {
	return !h.log.isOpen(h.gen)
}

// IsInterrupted reports whether err came from a cancelled lock wait.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
