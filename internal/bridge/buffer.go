package bridge

import "time"

// Buffer accumulates routed messages until a flush is due. It is owned by a
// single consume loop and is not safe for concurrent use.
type Buffer struct {
	pending       []Route
	bytes         int
	batchSize     int
	flushInterval time.Duration
	lastFlushAt   time.Time
}

func NewBuffer(batchSize int, flushInterval time.Duration, now time.Time) *Buffer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Buffer{
		pending:       make([]Route, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		lastFlushAt:   now,
	}
}

func (b *Buffer) Add(r Route) {
	b.pending = append(b.pending, r)
	b.bytes += len(r.Data)
}

// ShouldFlush reports whether the batch is full or the flush interval has
// elapsed with messages pending.
func (b *Buffer) ShouldFlush(now time.Time) bool {
	if len(b.pending) == 0 {
		return false
	}
	return len(b.pending) >= b.batchSize || now.Sub(b.lastFlushAt) >= b.flushInterval
}

// Flush drains every pending message in insertion order and restarts the
// flush interval at now, even when nothing was pending.
func (b *Buffer) Flush(now time.Time) []Route {
	b.lastFlushAt = now
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]Route, 0, b.batchSize)
	b.bytes = 0
	return batch
}

func (b *Buffer) Len() int {
	return len(b.pending)
}

// Bytes is the total size of pending data payloads.
func (b *Buffer) Bytes() int {
	return b.bytes
}
