package app

import (
	"sync/atomic"

	"github.com/bft-labs/spiship/internal/domain"
)

// MatchesPattern reports whether frame is consistent with the calibration
// pattern: each byte is either its expected value or zero. A frame of all
// zeros carries no signal and does not match.
func MatchesPattern(frame []byte) bool {
	nonZero := false
	for i, b := range frame {
		if b == 0 {
			continue
		}
		if b != domain.CalibrationByte(i) {
			return false
		}
		nonZero = true
	}
	return nonZero
}

// Counters accumulates validation results. There is a single writer; readers
// may load at any time and see possibly stale but untorn values.
type Counters struct {
	matched    atomic.Uint64
	mismatched atomic.Uint64
	every      uint64
}

// NewCounters creates counters for a validator that samples every n-th frame.
func NewCounters(every int) *Counters {
	if every < 1 {
		every = 1
	}
	return &Counters{every: uint64(every)}
}

// Record counts one validated frame.
func (c *Counters) Record(matched bool) {
	if matched {
		c.matched.Add(1)
	} else {
		c.mismatched.Add(1)
	}
}

// ValidationSnapshot is a point-in-time read of the counters.
type ValidationSnapshot struct {
	Matched          uint64
	Mismatched       uint64
	Accuracy         float64
	ValidatedSamples uint64
}

// Snapshot reads both counters. Accuracy is zero until something was validated.
func (c *Counters) Snapshot() ValidationSnapshot {
	m := c.matched.Load()
	mm := c.mismatched.Load()
	s := ValidationSnapshot{
		Matched:          m,
		Mismatched:       mm,
		ValidatedSamples: (m + mm) * c.every,
	}
	if total := m + mm; total > 0 {
		s.Accuracy = float64(m) / float64(total)
	}
	return s
}

// Validator checks every n-th frame handed to Sample.
type Validator struct {
	every    int
	count    int
	counters *Counters
}

// NewValidator creates a validator writing into counters.
func NewValidator(every int, counters *Counters) *Validator {
	if every < 1 {
		every = 1
	}
	return &Validator{every: every, counters: counters}
}

// Sample counts frame and validates it when it is the n-th since the last check.
func (v *Validator) Sample(frame []byte) {
	v.count++
	if v.count < v.every {
		return
	}
	v.count = 0
	v.counters.Record(MatchesPattern(frame))
}
