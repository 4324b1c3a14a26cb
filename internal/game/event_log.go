package game

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	EventBufferSize    = 1024                   // Pending events before drops
	MaxEventsPerSec    = 2000                   // Global rate limit
	MaxEventsPerRoom   = 100                    // Per-room rate limit per second
	BatchFlushSize     = 64                     // Events per batch write
	BatchFlushInterval = 100 * time.Millisecond // How often to flush
	RoomLimiterCleanup = 5 * time.Minute        // Idle time before a room limiter is dropped
)

// EventLog is a bounded, rate-limited JSONL journal of match events.
// Emit never blocks the caller; events are dropped when the log is saturated.
type EventLog struct {
	events chan Event
	seq    uint64 // atomic

	globalLimiter *rate.Limiter
	roomLimiters  sync.Map // map[string]*roomLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	file *os.File

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

type roomLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nano
}

// NewEventLog creates a stopped event log
func NewEventLog() *EventLog {
	return &EventLog{
		events:        make(chan Event, EventBufferSize),
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start opens filePath for append and begins the background writer.
// An empty path keeps the log disabled.
func (el *EventLog) Start(filePath string) error {
	if filePath == "" || el.running.Load() {
		return nil
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	el.file = file

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
		el.file.Close()
	})
}

// Emit queues an event. Returns false when the log is stopped, rate limited
// or full.
func (el *EventLog) Emit(event Event) bool {
	if el == nil || !el.running.Load() {
		return false
	}

	if !el.globalLimiter.Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}
	if event.RoomID != "" && !el.roomLimiter(event.RoomID).Allow() {
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}

	event.Sequence = atomic.AddUint64(&el.seq, 1)
	select {
	case el.events <- event:
		atomic.AddUint64(&el.totalCount, 1)
		return true
	default:
		atomic.AddUint64(&el.droppedCount, 1)
		return false
	}
}

// EmitSimple builds and emits an event in one call
func (el *EventLog) EmitSimple(eventType EventType, roomID string, tickNum uint64, payload any) bool {
	if el == nil || !el.running.Load() {
		return false
	}
	return el.Emit(NewEvent(eventType, roomID, tickNum, payload))
}

func (el *EventLog) roomLimiter(roomID string) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := el.roomLimiters.Load(roomID); ok {
		e := v.(*roomLimiterEntry)
		e.lastUsed.Store(now)
		return e.limiter
	}

	entry := &roomLimiterEntry{
		limiter: rate.NewLimiter(MaxEventsPerRoom, MaxEventsPerRoom/10),
	}
	entry.lastUsed.Store(now)
	actual, _ := el.roomLimiters.LoadOrStore(roomID, entry)
	return actual.(*roomLimiterEntry).limiter
}

// writerLoop batches events to disk
func (el *EventLog) writerLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	w := bufio.NewWriter(el.file)
	batch := make([]Event, 0, BatchFlushSize)

	for {
		select {
		case <-el.stopChan:
			for {
				select {
				case ev := <-el.events:
					batch = append(batch, ev)
				default:
					el.flush(w, batch)
					return
				}
			}

		case ev := <-el.events:
			batch = append(batch, ev)
			if len(batch) >= BatchFlushSize {
				el.flush(w, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				el.flush(w, batch)
				batch = batch[:0]
			}
		}
	}
}

// cleanupLoop drops limiters of rooms that went quiet
func (el *EventLog) cleanupLoop() {
	defer el.writerWg.Done()

	ticker := time.NewTicker(RoomLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-el.stopChan:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-RoomLimiterCleanup).UnixNano()
			el.roomLimiters.Range(func(key, value any) bool {
				if value.(*roomLimiterEntry).lastUsed.Load() < cutoff {
					el.roomLimiters.Delete(key)
				}
				return true
			})
		}
	}
}

// flush writes a batch and counts whatever did not reach the file as dropped
func (el *EventLog) flush(w *bufio.Writer, batch []Event) {
	if lost := flushBatch(w, batch); lost > 0 {
		atomic.AddUint64(&el.droppedCount, uint64(lost))
	}
}

// flushBatch writes newline-delimited JSON and returns how many events were
// lost. A failed write or flush loses the whole batch, since bufio keeps the
// error and discards what it buffered.
func flushBatch(w *bufio.Writer, batch []Event) int {
	lost := 0
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			lost++
			continue
		}
		if _, err := w.Write(data); err != nil {
			return len(batch)
		}
		if err := w.WriteByte('\n'); err != nil {
			return len(batch)
		}
	}
	if err := w.Flush(); err != nil {
		return len(batch)
	}
	return lost
}

// Stats returns counters for the debug endpoints
func (el *EventLog) Stats() map[string]any {
	return map[string]any{
		"total":   atomic.LoadUint64(&el.totalCount),
		"dropped": atomic.LoadUint64(&el.droppedCount),
		"pending": len(el.events),
		"running": el.running.Load(),
	}
}

// DroppedCount returns the number of dropped events
func (el *EventLog) DroppedCount() uint64 {
	return atomic.LoadUint64(&el.droppedCount)
}

// TotalCount returns the number of queued events
func (el *EventLog) TotalCount() uint64 {
	return atomic.LoadUint64(&el.totalCount)
}
