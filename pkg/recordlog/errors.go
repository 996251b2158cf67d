package recordlog

import "errors"

// Errors returned by Log and Handle. Match with errors.Is.
var (
	// ErrAlreadyOpen is returned by Open while another handle holds the log.
	ErrAlreadyOpen = errors.New("recordlog: already open")

	// ErrNotOpen is returned for operations on a handle whose session was closed.
	ErrNotOpen = errors.New("recordlog: not open")

	// ErrCapacityExceeded is returned when the pending record already fills
	// MaxRecordSize and nothing more can be accepted. The pending bytes are
	// dropped so the next write starts a fresh record.
	ErrCapacityExceeded = errors.New("recordlog: record capacity exceeded")

	// ErrOutOfMemory is the allocation-failure name for ErrCapacityExceeded.
	ErrOutOfMemory = ErrCapacityExceeded

	// ErrInvalidArgument is returned for negative offsets and unknown seek origins.
	ErrInvalidArgument = errors.New("recordlog: invalid argument")

	// ErrInterrupted is returned when the context is done while waiting for
	// the buffer lock. The context error is wrapped alongside it.
	ErrInterrupted = errors.New("recordlog: interrupted")

	// ErrDestroyed is returned by Open after Destroy.
	ErrDestroyed = errors.New("recordlog: destroyed")
)
