package event

import (
	"context"
	"sync/atomic"
)

// Stream buffers events for a single consumer, e.g. a CLI following a run.
// Events are dropped rather than blocking the emitter when the buffer is full.
// Stream 带缓冲的事件流，缓冲满时丢弃
type Stream struct {
	ch         chan Event
	types      []Type
	scheduleID int64
	dropped    atomic.Int64
}

// NewStream scheduleID 0 accepts every schedule; no types means all types
func NewStream(buffer int, scheduleID int64, types ...Type) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	if len(types) == 0 {
		types = AllTypes()
	}
	return &Stream{ch: make(chan Event, buffer), types: types, scheduleID: scheduleID}
}

func (s *Stream) SupportedEvents() []Type { return s.types }

func (s *Stream) HandleEvent(_ context.Context, e Event) error {
	if s.scheduleID != 0 && e.Schedule() != s.scheduleID {
		return nil
	}
	select {
	case s.ch <- e:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// C 事件通道
func (s *Stream) C() <-chan Event { return s.ch }

// Dropped number of events discarded because the buffer was full
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

var _ Subscriber = (*Stream)(nil)
