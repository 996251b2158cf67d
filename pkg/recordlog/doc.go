// Package recordlog is a fixed-capacity, append-mostly log of discrete
// records with a sequential read/write interface.
//
// Bytes written to a Handle collect in a pending buffer until a terminator
// byte (newline by default) completes a record. Completed records enter a
// ring of Capacity slots; when the ring is full the oldest record is evicted.
// Readers address the retained history as one concatenated byte stream,
// oldest record first, so offset 0 is always the start of the oldest
// retained record.
//
//	log, _ := recordlog.New(recordlog.DefaultConfig())
//	h, _ := log.Open()
//	defer h.Close()
//	h.Write([]byte("hello\n"))
//	data, _ := h.ReadAll(ctx)
//
// Only one Handle may be open at a time. Reads, writes and seek-to-end are
// serialized by a buffer lock whose wait is abandoned, with ErrInterrupted,
// when the caller's context is done.
package recordlog
