package metrics

import (
	"sync"
	"sync/atomic"
)

// engineStats holds in-process counters for the collections engine.
// Thread-safe; written from the engine loop, read from the stats endpoint.
type engineStats struct {
	runs     uint64
	mu       sync.Mutex
	byResult map[string]uint64
}

var eng engineStats

// IncEngineRun counts one completed engine invocation.
func IncEngineRun() {
	atomic.AddUint64(&eng.runs, 1)
}

// IncFiring counts one rule firing by its log result (escalated, sent,
// awaiting_approval, failed, ...).
func IncFiring(result string) {
	if result == "" {
		result = "unknown"
	}
	eng.mu.Lock()
	if eng.byResult == nil {
		eng.byResult = make(map[string]uint64)
	}
	eng.byResult[result]++
	eng.mu.Unlock()
}

// EngineSnapshot returns a copy of the current counters.
func EngineSnapshot() (runs uint64, byResult map[string]uint64) {
	runs = atomic.LoadUint64(&eng.runs)
	eng.mu.Lock()
	defer eng.mu.Unlock()
	byResult = make(map[string]uint64, len(eng.byResult))
	for k, v := range eng.byResult {
		byResult[k] = v
	}
	return runs, byResult
}

// extractionStats counts extractor outcomes.
type extractionStats struct {
	requests uint64
	degraded uint64
}

var ext extractionStats

// IncExtraction counts one extraction request; degraded marks requests that
// fell back to an empty result because the upstream call failed.
func IncExtraction(degraded bool) {
	atomic.AddUint64(&ext.requests, 1)
	if degraded {
		atomic.AddUint64(&ext.degraded, 1)
	}
}

// ExtractionSnapshot returns the extraction counters.
func ExtractionSnapshot() (requests, degraded uint64) {
	return atomic.LoadUint64(&ext.requests), atomic.LoadUint64(&ext.degraded)
}
