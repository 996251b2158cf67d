package recordlog

// ring is a fixed-capacity circular arena of record slots with
// overwrite-oldest insertion.
//
// Invariants:
//   - out is the slot of the oldest live record, in is the next slot to fill.
//   - full is true iff in == out while populated.
//   - a nil slot is an empty slot; it is never a live record.
//
// ring is not safe for concurrent use; Log serializes access with its buffer lock.
type ring struct {
	slots []*Record
	in    int
	out   int
	full  bool
}

func newRing(capacity int) *ring {
	return &ring{slots: make([]*Record, capacity)}
}

func (r *ring) capacity() int {
	return len(r.slots)
}

// count returns the number of live records.
func (r *ring) count() int {
	if r.full {
		return len(r.slots)
	}
	return (r.in - r.out + len(r.slots)) % len(r.slots)
}

// insert stores rec at the write cursor. When the ring is full the oldest
// record is returned so the caller can release it, and the read cursor
// advances to the new oldest.
func (r *ring) insert(rec *Record) (evicted *Record) {
	if r.full {
		evicted = r.slots[r.in]
		r.out = (r.out + 1) % len(r.slots)
	}
	r.slots[r.in] = rec
	r.in = (r.in + 1) % len(r.slots)
	r.full = r.in == r.out
	return evicted
}

// at returns the idx-th oldest live record, or nil when idx is out of range.
func (r *ring) at(idx int) *Record {
	if idx < 0 || idx >= r.count() {
		return nil
	}
	return r.slots[(r.out+idx)%len(r.slots)]
}

// forEach visits live records oldest to newest until fn returns false.
func (r *ring) forEach(fn func(idx int, rec *Record) bool) {
	n := r.count()
	for i := 0; i < n; i++ {
		if !fn(i, r.slots[(r.out+i)%len(r.slots)]) {
			return
		}
	}
}

// reset releases every live record and empties the ring.
func (r *ring) reset() (records int, bytes int) {
	r.forEach(func(_ int, rec *Record) bool {
		if rec != nil {
			records++
			bytes += rec.release()
		}
		return true
	})
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.in, r.out, r.full = 0, 0, false
	return records, bytes
}

// readFrom copies retained history starting at the logical byte offset off.
//
// The first record is copied from its intra-record offset and clamped to
// maxBytes so a small budget still makes progress. Every following record is
// copied whole or not at all: the pass stops before a record that would push
// the output past maxBytes, and at any empty slot or zero-length record.
func (r *ring) readFrom(off int64, maxBytes int) []byte {
	if maxBytes <= 0 {
		return nil
	}
	idx, intra, ok := r.locate(off)
	if !ok {
		return nil
	}

	first := r.at(idx).data[intra:]
	if len(first) >= maxBytes {
		return append([]byte(nil), first[:maxBytes]...)
	}

	out := make([]byte, 0, min(int64(maxBytes), r.totalLength()-off))
	out = append(out, first...)
	for i := idx + 1; i < r.count(); i++ {
		rec := r.at(i)
		if rec.Len() == 0 {
			break
		}
		if len(out)+rec.Len() > maxBytes {
			break
		}
		out = append(out, rec.data...)
	}
	return out
}
