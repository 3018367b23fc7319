package game

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize    = 256                    // Pending + recent history size
	MaxEventsPerSec    = 200                    // Global rate limit
	MaxEventsPerTag    = 10                     // Per-tag rate limit per second
	BatchFlushSize     = 64                     // Events per batch write
	BatchFlushInterval = 250 * time.Millisecond // How often to flush
	TagLimiterCleanup  = 5 * time.Minute        // Cleanup interval for tag limiters
)

// EventLog is a bounded, rate-limited identification event log.
// Events are appended to a JSONL file by a background writer and the most
// recent ones are kept in memory for the API.
type EventLog struct {
	mu       sync.Mutex
	pending  []Event
	recent   [EventBufferSize]Event
	recentN  uint64
	sequence uint64

	// A tag left on the reader produces a scan every window
	globalLimiter *rate.Limiter
	tagLimiters   sync.Map // map[string]*tagLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	file   *os.File
	fileMu sync.Mutex

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

type tagLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano
}

// NewEventLog creates a new bounded event log
func NewEventLog() *EventLog {
	return &EventLog{
		pending:       make([]Event, 0, BatchFlushSize),
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/4),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the async writer. An empty filePath keeps events in memory only.
func (el *EventLog) Start(filePath string) error {
	if el.running.Load() {
		return nil
	}

	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		el.file = file
	}

	el.running.Store(true)
	el.writerWg.Add(2)
	go el.writerLoop()
	go el.cleanupLoop()

	return nil
}

// Stop flushes pending events and closes the file
func (el *EventLog) Stop() {
	el.stopOnce.Do(func() {
		if !el.running.Load() {
			return
		}
		el.running.Store(false)
		close(el.stopChan)
		el.writerWg.Wait()

		el.fileMu.Lock()
		if el.file != nil {
			el.file.Close()
		}
		el.fileMu.Unlock()
	})
}

// Emit adds an event. Returns false if rate limited.
func (el *EventLog) Emit(event Event) bool {
	if event.Tag != "" && !el.getTagLimiter(event.Tag).Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}
	if !el.globalLimiter.Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}

	el.mu.Lock()
	el.sequence++
	event.Sequence = el.sequence
	el.recent[el.recentN%EventBufferSize] = event
	el.recentN++

	if el.running.Load() {
		if len(el.pending) >= EventBufferSize {
			// Writer is behind: drop the oldest
			el.pending = el.pending[1:]
			atomic.AddUint64(&el.droppedCount, 1)
		}
		el.pending = append(el.pending, event)
	}
	el.mu.Unlock()

	atomic.AddUint64(&el.totalCount, 1)
	return true
}

// EmitSimple is a convenience method to emit an event with automatic creation
func (el *EventLog) EmitSimple(eventType EventType, tickNum uint64, tag string, payload interface{}) bool {
	return el.Emit(NewEvent(eventType, tickNum, tag, payload))
}

// Recent returns up to n most recent events, newest first
func (el *EventLog) Recent(n int) []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	available := int(el.recentN)
	if available > EventBufferSize {
		available = EventBufferSize
	}
	if n <= 0 || n > available {
		n = available
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (el.recentN - 1 - uint64(i)) % EventBufferSize
		out = append(out, el.recent[idx])
	}
	return out
}

func (el *EventLog) getTagLimiter(tag string) *rate.Limiter {
	now := time.Now().UnixNano()
	if entry, ok := el.tagLimiters.Load(tag); ok {
		e := entry.(*tagLimiterEntry)
		e.lastUsed.Store(now)
		return e.limiter
	}

	entry := &tagLimiterEntry{limiter: rate.NewLimiter(MaxEventsPerTag, MaxEventsPerTag)}
	entry.lastUsed.Store(now)
	actual, _ := el.tagLimiters.LoadOrStore(tag, entry)
	return actual.(*tagLimiterEntry).limiter
}

// writerLoop batches and writes events to disk asynchronously
func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			el.flushBatch(el.takePending())
			return
		case <-ticker.C:
			el.flushBatch(el.takePending())
		}
	}
}

func (el *EventLog) takePending() []Event {
	el.mu.Lock()
	defer el.mu.Unlock()

	if len(el.pending) == 0 {
		return nil
	}
	batch := el.pending
	el.pending = make([]Event, 0, BatchFlushSize)
	return batch
}

// cleanupLoop removes stale tag limiters
func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(TagLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			el.cleanupTagLimiters()
		}
	}
}

func (el *EventLog) cleanupTagLimiters() {
	cutoff := time.Now().Add(-TagLimiterCleanup).UnixNano()
	el.tagLimiters.Range(func(key, value interface{}) bool {
		if value.(*tagLimiterEntry).lastUsed.Load() < cutoff {
			el.tagLimiters.Delete(key)
		}
		return true
	})
}

// flushBatch appends events as newline-delimited JSON
func (el *EventLog) flushBatch(batch []Event) {
	if len(batch) == 0 {
		return
	}

	el.fileMu.Lock()
	defer el.fileMu.Unlock()

	if el.file == nil {
		return
	}

	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		el.file.Write(append(data, '\n'))
	}
}

// GetStats returns event log metrics
func (el *EventLog) GetStats() map[string]interface{} {
	el.mu.Lock()
	pending := len(el.pending)
	el.mu.Unlock()

	return map[string]interface{}{
		"total":   atomic.LoadUint64(&el.totalCount),
		"dropped": atomic.LoadUint64(&el.droppedCount),
		"pending": pending,
		"running": el.running.Load(),
	}
}

// GetDroppedCount returns the number of dropped events
func (el *EventLog) GetDroppedCount() uint64 {
	return atomic.LoadUint64(&el.droppedCount)
}

// GetTotalCount returns the total number of events accepted
func (el *EventLog) GetTotalCount() uint64 {
	return atomic.LoadUint64(&el.totalCount)
}
