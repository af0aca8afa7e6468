package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Metrics collects read-path and transfer metrics for mounted archives.
type Metrics struct {
	mu sync.RWMutex

	// Range GET metrics, keyed by archive name
	RangeGetBytesTotal map[string]int64
	RangeGetCountTotal map[string]int64

	// Read path metrics
	ReadsTotal     int64
	ReadBytesTotal int64
	ReadErrors     int64

	// Entry lookups
	LookupHitsTotal   int64
	LookupMissesTotal int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		RangeGetBytesTotal: make(map[string]int64),
		RangeGetCountTotal: make(map[string]int64),
	}
}

// RecordRangeGet records one remote range GET against an archive.
func (m *Metrics) RecordRangeGet(archive string, bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RangeGetBytesTotal[archive] += bytes
	m.RangeGetCountTotal[archive]++

	log.Debug().
		Str("archive", archive).
		Int64("bytes", bytes).
		Dur("duration", duration).
		Msg("range GET completed")
}

// RecordRead records one payload read served through the mount.
func (m *Metrics) RecordRead(bytes int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReadsTotal++
	if err != nil {
		m.ReadErrors++
		return
	}
	m.ReadBytesTotal += bytes
}

// RecordLookup records an entry lookup by name.
func (m *Metrics) RecordLookup(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hit {
		m.LookupHitsTotal++
	} else {
		m.LookupMissesTotal++
	}
}

// LogSummary logs a summary of current metrics.
func (m *Metrics) LogSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totalRangeGetBytes, totalRangeGetCount int64
	for _, bytes := range m.RangeGetBytesTotal {
		totalRangeGetBytes += bytes
	}
	for _, count := range m.RangeGetCountTotal {
		totalRangeGetCount += count
	}

	log.Info().
		Int64("range_get_bytes", totalRangeGetBytes).
		Int64("range_get_count", totalRangeGetCount).
		Int64("reads", m.ReadsTotal).
		Int64("read_bytes", m.ReadBytesTotal).
		Int64("read_errors", m.ReadErrors).
		Int64("lookup_hits", m.LookupHitsTotal).
		Int64("lookup_misses", m.LookupMissesTotal).
		Msg("metrics summary")
}
