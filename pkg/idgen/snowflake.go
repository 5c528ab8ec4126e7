package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Layout (63 usable bits, sign bit always 0):
// 41 bits timestamp (ms since epoch)
// 10 bits worker ID (0..1023)
// 12 bits sequence (0..4095)
const (
	timestampBits = 41
	workerBits    = 10
	sequenceBits  = 12

	MaxWorkerID  = (1 << workerBits) - 1
	maxSequence  = (1 << sequenceBits) - 1
	maxTimestamp = (1 << timestampBits) - 1

	workerShift    = sequenceBits
	timestampShift = sequenceBits + workerBits
)

// DefaultEpoch is 2010-11-04T01:42:54.657Z in unix milliseconds.
const DefaultEpoch int64 = 1288834974657

var (
	ErrWorkerIDRange      = fmt.Errorf("worker ID must be between 0 and %d", MaxWorkerID)
	ErrBeforeEpoch        = errors.New("current time is before epoch")
	ErrTimestampExhausted = errors.New("timestamp field exhausted for this epoch")

	// ErrSequenceExhausted is the transient condition of running out of
	// sequence numbers inside one millisecond. Generate resolves it by waiting
	// for the next tick; it is exported so callers can recognise it in logs.
	ErrSequenceExhausted = errors.New("sequence exhausted for current millisecond")
)

// ClockSkewError is returned when the wall clock is behind the last issued
// millisecond. The generator stays halted until Resume succeeds.
type ClockSkewError struct {
	LastMillis int64
	NowMillis  int64
}

func (e *ClockSkewError) Error() string {
	return fmt.Sprintf("clock moved backwards by %dms, refusing to generate id", e.LastMillis-e.NowMillis)
}

// Options configures a Snowflake generator.
type Options struct {
	Lease Lease
	// Epoch in unix milliseconds. Zero means DefaultEpoch.
	Epoch int64
	// Now defaults to time.Now.
	Now func() time.Time
}

// Snowflake produces unique, time-ordered 64-bit IDs for one worker identity.
type Snowflake struct {
	mu       sync.Mutex
	lease    Lease
	workerID int64
	epoch    int64
	now      func() time.Time

	lastTs   int64
	sequence int64
	skew     *ClockSkewError
}

// NewSnowflake builds a generator bound to a held worker lease.
func NewSnowflake(opts Options) (*Snowflake, error) {
	if opts.Lease == nil {
		return nil, errors.New("idgen: worker lease is required")
	}
	if err := opts.Lease.Err(); err != nil {
		return nil, fmt.Errorf("idgen: worker identity not confirmed: %w", err)
	}
	workerID := opts.Lease.WorkerID()
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("%w: got %d", ErrWorkerIDRange, workerID)
	}
	epoch := opts.Epoch
	if epoch == 0 {
		epoch = DefaultEpoch
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Snowflake{
		lease:    opts.Lease,
		workerID: workerID,
		epoch:    epoch,
		now:      now,
		lastTs:   -1,
	}, nil
}

// WorkerID returns the identity embedded in every ID.
func (s *Snowflake) WorkerID() int64 { return s.workerID }

// Generate returns the next ID. IDs from one generator are strictly increasing.
func (s *Snowflake) Generate() (int64, error) {
	if err := s.lease.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.skew != nil {
		return 0, s.skew
	}

	ts, err := s.millis()
	if err != nil {
		return 0, err
	}

	switch {
	case ts < s.lastTs:
		s.skew = &ClockSkewError{LastMillis: s.lastTs, NowMillis: ts}
		return 0, s.skew
	case ts == s.lastTs:
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			if ts, err = s.waitNextMillis(s.lastTs); err != nil {
				return 0, err
			}
		}
	default:
		s.sequence = 0
	}

	if ts > maxTimestamp {
		return 0, ErrTimestampExhausted
	}
	s.lastTs = ts

	return (ts << timestampShift) | (s.workerID << workerShift) | s.sequence, nil
}

// Resume clears a latched ClockSkewError once the clock has caught up with
// the last issued millisecond.
func (s *Snowflake) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skew == nil {
		return nil
	}
	ts, err := s.millis()
	if err != nil {
		return err
	}
	if ts < s.lastTs {
		return &ClockSkewError{LastMillis: s.lastTs, NowMillis: ts}
	}
	s.skew = nil
	return nil
}

// Halted reports whether a clock regression has stopped issuance.
func (s *Snowflake) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skew != nil
}

func (s *Snowflake) millis() (int64, error) {
	ts := s.now().UnixMilli() - s.epoch
	if ts < 0 {
		return 0, ErrBeforeEpoch
	}
	return ts, nil
}

// waitNextMillis blocks until the clock passes last. Must hold s.mu.
func (s *Snowflake) waitNextMillis(last int64) (int64, error) {
	for {
		ts, err := s.millis()
		if err != nil {
			return 0, err
		}
		if ts > last {
			return ts, nil
		}
		if ts < last {
			// Every sequence of last is spent; after Resume the next ID
			// must come from a later millisecond.
			s.sequence = maxSequence
			s.skew = &ClockSkewError{LastMillis: last, NowMillis: ts}
			return 0, s.skew
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// Parts is the decomposed form of an ID.
type Parts struct {
	Time     time.Time
	WorkerID int64
	Sequence int64
}

// Parse splits id into its fields using the given epoch (0 = DefaultEpoch).
func Parse(id int64, epoch int64) Parts {
	if epoch == 0 {
		epoch = DefaultEpoch
	}
	return Parts{
		Time:     time.UnixMilli((id >> timestampShift) + epoch).UTC(),
		WorkerID: (id >> workerShift) & MaxWorkerID,
		Sequence: id & maxSequence,
	}
}
