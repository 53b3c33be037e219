// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Statistics tracks telemetry statistics and error rates. It is safe for
// concurrent use; the printer updates it from Fetch while collaborators
// read it.
type Statistics struct {
	mu sync.Mutex
	Counters
}

// Counters is a point-in-time copy of the statistics
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalDocuments   uint64
	ValidDocuments   uint64
	ParseErrors      uint64
	DroppedDocuments uint64
	AnomalousValues  uint64
	InvalidTemp      uint64
	InvalidPercent   uint64
	InvalidFan       uint64
	UnknownState     uint64
	OtherAnomalies   uint64

	// Rates (calculated)
	DocumentRate float64 // documents/sec
	ErrorRate    float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{Counters: Counters{
		StartTime:      now,
		LastUpdateTime: now,
	}}
}

// Update records one received document with its decode and validation
// results.
func (s *Statistics) Update(decodeErr error, validationErrors []ValidationError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalDocuments++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		s.ParseErrors++
		return
	}

	if len(validationErrors) == 0 {
		s.ValidDocuments++
		return
	}

	for _, err := range validationErrors {
		s.AnomalousValues++
		switch err.Type {
		case AnomalyInvalidTemp:
			s.InvalidTemp++
		case AnomalyInvalidPercent:
			s.InvalidPercent++
		case AnomalyInvalidFan:
			s.InvalidFan++
		case AnomalyUnknownState:
			s.UnknownState++
		default:
			s.OtherAnomalies++
		}
	}
}

// AddDropped records documents the transport discarded because the receive
// buffer was full.
func (s *Statistics) AddDropped(n uint64) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.DroppedDocuments += n
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters with rates calculated.
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return s.Counters
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.DocumentRate = float64(s.TotalDocuments) / elapsed
		s.ErrorRate = float64(s.ParseErrors+s.AnomalousValues) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	c := s.Snapshot()

	var validPercent, parsePercent float64
	if c.TotalDocuments > 0 {
		validPercent = float64(c.ValidDocuments) * 100.0 / float64(c.TotalDocuments)
		parsePercent = float64(c.ParseErrors) * 100.0 / float64(c.TotalDocuments)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(c.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Documents: %8d\n", c.TotalDocuments)
	fmt.Fprintf(&b, "Valid Documents: %8d (%.1f%%)\n", c.ValidDocuments, validPercent)
	if c.ParseErrors > 0 {
		fmt.Fprintf(&b, "Parse Errors:    %8d (%.1f%%)\n", c.ParseErrors, parsePercent)
	}
	if c.DroppedDocuments > 0 {
		fmt.Fprintf(&b, "Dropped:         %8d\n", c.DroppedDocuments)
	}
	if c.AnomalousValues > 0 {
		fmt.Fprintf(&b, "Anomalous Values:%8d\n", c.AnomalousValues)
		if c.InvalidTemp > 0 {
			fmt.Fprintf(&b, "  Invalid Temp:     %5d\n", c.InvalidTemp)
		}
		if c.InvalidPercent > 0 {
			fmt.Fprintf(&b, "  Invalid Percent:  %5d\n", c.InvalidPercent)
		}
		if c.InvalidFan > 0 {
			fmt.Fprintf(&b, "  Invalid Fan:      %5d\n", c.InvalidFan)
		}
		if c.UnknownState > 0 {
			fmt.Fprintf(&b, "  Unknown State:    %5d\n", c.UnknownState)
		}
		if c.OtherAnomalies > 0 {
			fmt.Fprintf(&b, "  Other:            %5d\n", c.OtherAnomalies)
		}
	}
	fmt.Fprintf(&b, "Document Rate:   %8.1f docs/sec\n", c.DocumentRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", c.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.Counters = Counters{StartTime: now, LastUpdateTime: now}
}
