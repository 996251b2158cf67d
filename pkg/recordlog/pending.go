package recordlog

// accumulator collects the bytes of an in-progress record across writes
// until a terminator completes it. It never grows past bound.
type accumulator struct {
	buf   []byte
	bound int
}

func newAccumulator(bound int) *accumulator {
	return &accumulator{bound: bound}
}

func (a *accumulator) len() int {
	return len(a.buf)
}

// remaining is the number of bytes append will still accept.
func (a *accumulator) remaining() int {
	return a.bound - len(a.buf)
}

// append copies p onto the pending record.
func (a *accumulator) append(p []byte) error {
	if len(a.buf)+len(p) > a.bound {
		return ErrCapacityExceeded
	}
	a.buf = append(a.buf, p...)
	return nil
}

// takeIfTerminated drains the accumulator into a new Record when the last
// byte of p, the bytes just appended, is the terminator. Otherwise the
// pending bytes stay in place for the next call.
func (a *accumulator) takeIfTerminated(p []byte, terminator byte) *Record {
	if len(p) == 0 || p[len(p)-1] != terminator {
		return nil
	}
	rec := newRecord(a.buf)
	a.reset()
	return rec
}

// reset discards pending bytes and returns how many were dropped.
func (a *accumulator) reset() int {
	n := len(a.buf)
	if cap(a.buf) > maxRetainedPending {
		a.buf = nil
	} else {
		a.buf = a.buf[:0]
	}
	return n
}

// maxRetainedPending is the largest scratch capacity reset keeps.
const maxRetainedPending = 64 << 10
