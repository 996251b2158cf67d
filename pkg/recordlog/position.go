package recordlog

// locate maps a logical byte offset into the concatenated record stream to
// the index of the record containing it (0 is the oldest) and the offset
// within that record. ok is false when off is at or past the end of history.
func (r *ring) locate(off int64) (idx int, intra int64, ok bool) {
	if off < 0 {
		return 0, 0, false
	}
	var start int64
	found := false
	r.forEach(func(i int, rec *Record) bool {
		end := start + int64(rec.Len())
		if off < end {
			idx, intra, found = i, off-start, true
			return false
		}
		start = end
		return true
	})
	return idx, intra, found
}

// totalLength returns the sum of the lengths of all live records.
func (r *ring) totalLength() int64 {
	var total int64
	r.forEach(func(_ int, rec *Record) bool {
		total += int64(rec.Len())
		return true
	})
	return total
}
