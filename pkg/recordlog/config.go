package recordlog

import "fmt"

const (
	// DefaultCapacity is the number of records retained before eviction.
	DefaultCapacity = 10

	// DefaultMaxRecordSize bounds a single pending record and a single write.
	DefaultMaxRecordSize = 4 << 20 // 4MB

	// DefaultTerminator ends a record.
	DefaultTerminator = '\n'
)

// Config holds the tunables of a Log.
type Config struct {
	// Capacity is the number of records retained before the oldest is evicted.
	Capacity int

	// MaxRecordSize is the allocation ceiling for one record. Bytes written
	// past it are dropped.
	MaxRecordSize int

	// Terminator is the byte that completes a record. Zero selects
	// DefaultTerminator, so NUL cannot be used as a terminator.
	Terminator byte
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:      DefaultCapacity,
		MaxRecordSize: DefaultMaxRecordSize,
		Terminator:    DefaultTerminator,
	}
}

func (c Config) normalize() (Config, error) {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = DefaultMaxRecordSize
	}
	if c.Terminator == 0 {
		c.Terminator = DefaultTerminator
	}
	if c.Capacity < 1 {
		return c, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidArgument, c.Capacity)
	}
	if c.MaxRecordSize < 1 {
		return c, fmt.Errorf("%w: max record size must be positive, got %d", ErrInvalidArgument, c.MaxRecordSize)
	}
	return c, nil
}
