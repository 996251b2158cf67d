package recordlog

// Record is one complete, terminator-delimited unit stored in the ring.
// Its buffer is owned by the ring slot holding it and is never mutated after
// insertion; callers only ever receive copies.
type Record struct {
	data []byte
}

// newRecord allocates a fresh buffer sized to src and copies src into it.
func newRecord(src []byte) *Record {
	data := make([]byte, len(src))
	copy(data, src)
	return &Record{data: data}
}

// Len returns the record length in bytes.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.data)
}

// Bytes returns a copy of the record contents.
func (r *Record) Bytes() []byte {
	if r == nil {
		return nil
	}
	return append([]byte(nil), r.data...)
}

// release drops the record's buffer. The record must not be reachable from a
// slot afterwards.
func (r *Record) release() int {
	n := len(r.data)
	r.data = nil
	return n
}
