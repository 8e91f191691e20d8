package utils

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// GenerateRunID generates a run ID with a timestamp prefix.
func GenerateRunID() string {
	timestamp := time.Now().UTC().Format("20060102-150405")
	id := uuid.New()
	return fmt.Sprintf("run-%s-%s", timestamp, id.String()[:8])
}

// Sequence hands out increasing integers. Each engine owns its own sequences so
// that identifiers are reproducible across runs.
type Sequence struct {
	next atomic.Int64
}

// Next returns the next value, starting at 1.
func (s *Sequence) Next() int64 {
	return s.next.Add(1)
}

// Current returns the last value handed out.
func (s *Sequence) Current() int64 {
	return s.next.Load()
}

// Name builds "<prefix>-<n>" from the next value of the sequence.
func (s *Sequence) Name(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, s.Next())
}
