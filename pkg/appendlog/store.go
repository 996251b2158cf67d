// Package appendlog mirrors committed records to rotating segment files so
// the most recent history survives a restart.
//
// Segment format: a sequence of frames,
//
//	frame := length u32 | crc32(payload) u32 | payload
//
// little-endian, where payload is a CBOR-encoded Entry. A torn or corrupt
// frame ends a segment; recovery truncates the active segment there.
package appendlog

import "errors"

// Offset is the store-assigned position of an entry. Offsets start at 1
// and increase across restarts.
type Offset uint64

// Durability specifies when Append is acknowledged.
type Durability int

const (
	// DurabilityMemory acknowledges once the entry is queued.
	DurabilityMemory Durability = iota
	// DurabilityFsync acknowledges after the active segment is fsync'd.
	DurabilityFsync
)

// Entry is one mirrored record.
type Entry struct {
	Offset Offset `cbor:"1,keyasint"`
	// Seq is the record's commit sequence in the process that wrote it.
	Seq uint64 `cbor:"2,keyasint"`
	// At is the commit time in Unix nanoseconds.
	At   int64  `cbor:"3,keyasint"`
	Data []byte `cbor:"4,keyasint"`
}

// Stats exposes operational counters.
type Stats struct {
	BufferedBytes   int64 // queued, not yet written
	WrittenBytes    int64 // framed bytes written to segments
	AppendedEntries int64
	RejectedAppends int64 // backpressure and encode failures
	Segments        int
}

// Observer receives store events. Callbacks run on the appending or the
// flushing goroutine and must not block.
type Observer interface {
	OnPersisted(entry Offset, bytes int)
	OnRejected(err error)
	OnRotate(segment int)
}

// Errors.
var (
	ErrClosed       = errors.New("appendlog: store closed")
	ErrInvalidData  = errors.New("appendlog: empty entry data")
	ErrBackpressure = errors.New("appendlog: buffer full")
	ErrInvalidLimit = errors.New("appendlog: limit must be positive")
	ErrCorrupt      = errors.New("appendlog: corrupt frame")
)

type nopObserver struct{}

func (nopObserver) OnPersisted(Offset, int) {}
func (nopObserver) OnRejected(error)        {}
func (nopObserver) OnRotate(int)            {}
