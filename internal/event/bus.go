package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/haierkeys/fast-backup-service/pkg/logger"

	"go.uber.org/zap"
)

// Emitter is the sink the execution engine writes to
// Emitter 事件发送接口
type Emitter interface {
	Emit(ctx context.Context, e Event)
}

// Subscriber processes the event types it declares
// Subscriber 事件订阅者
type Subscriber interface {
	HandleEvent(ctx context.Context, e Event) error
	SupportedEvents() []Type
}

// Bus dispatches events synchronously to subscribers. Handler errors and
// panics are logged and never reach the emitter.
// Bus 同步分发事件，订阅者的错误与 panic 只记录日志
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type][]Subscriber
	logger *zap.Logger
}

// NewBus 创建事件总线
func NewBus(lg *zap.Logger) *Bus {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Type][]Subscriber),
		logger: lg,
	}
}

// Subscribe registers s for every type it supports
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range s.SupportedEvents() {
		b.subs[t] = append(b.subs[t], s)
	}
}

// Unsubscribe removes s from every type
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for t, list := range b.subs {
		kept := list[:0]
		for _, x := range list {
			if x != s {
				kept = append(kept, x)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, t)
		} else {
			b.subs[t] = kept
		}
	}
}

// Emit 分发事件
func (b *Bus) Emit(ctx context.Context, e Event) {
	if e == nil {
		return
	}
	b.mu.RLock()
	targets := append([]Subscriber(nil), b.subs[e.Type()]...)
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(ctx, s, e)
	}
}

func (b *Bus) deliver(ctx context.Context, s Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panic",
				zap.String("event", string(e.Type())),
				zap.Int64(logger.FieldScheduleID, e.Schedule()),
				zap.String("subscriber", fmt.Sprintf("%T", s)),
				zap.Any("panic", r))
		}
	}()
	if err := s.HandleEvent(ctx, e); err != nil {
		b.logger.Warn("event subscriber failed",
			zap.String("event", string(e.Type())),
			zap.Int64(logger.FieldScheduleID, e.Schedule()),
			zap.String("subscriber", fmt.Sprintf("%T", s)),
			zap.Error(err))
	}
}

// Nop discards events
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

var (
	_ Emitter = (*Bus)(nil)
	_ Emitter = Nop{}
)
