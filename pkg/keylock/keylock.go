// Package keylock provides a per-key reader/writer lock with FIFO fairness
// Package keylock 提供按 key 划分、先进先出公平的读写锁
//
// Shared holders may run together; an exclusive holder owns the key alone.
// Pending requests are granted strictly in arrival order, so a queued
// exclusive request blocks every shared request that arrives after it.
package keylock

import (
	"container/list"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAborted is returned when the context fires while a request is still queued
// ErrAborted 请求排队期间 context 被取消时返回
var ErrAborted = errors.New("lock acquisition aborted")

// Mode lock mode
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// ReleaseFunc releases a granted hold. Calling it more than once is a no-op.
// ReleaseFunc 释放已获得的锁，重复调用无副作用
type ReleaseFunc func()

// Locker is the acquisition surface used by callers
type Locker interface {
	AcquireShared(ctx context.Context, key, label string) (ReleaseFunc, error)
	AcquireExclusive(ctx context.Context, key, label string) (ReleaseFunc, error)
	AcquireSharedMany(ctx context.Context, keys []string, label string) (ReleaseFunc, error)
}

type waiter struct {
	mode    Mode
	label   string
	ready   chan struct{}
	granted bool
	elem    *list.Element
}

// entry state of one key: shared count XOR exclusive flag, plus the FIFO queue
type entry struct {
	shared    int
	exclusive bool
	queue     *list.List
}

func (e *entry) idle() bool {
	return e.shared == 0 && !e.exclusive && e.queue.Len() == 0
}

// Manager lazily creates one entry per key and drops it again once idle
// Manager 按需为每个 key 创建锁条目，空闲时回收
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *zap.Logger
	onWait  WaitObserver
}

// WaitObserver is told how long a queued request waited before it was granted
type WaitObserver func(mode Mode, waited time.Duration)

// New creates a lock manager
// logger: if nil use nop logger
func New(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// SetWaitObserver installs fn for requests that had to queue
func (m *Manager) SetWaitObserver(fn WaitObserver) {
	m.mu.Lock()
	m.onWait = fn
	m.mu.Unlock()
}

// AcquireShared grants a shared hold on key, waiting while an exclusive holder
// is active or an earlier request is still queued.
// AcquireShared 获取共享锁
func (m *Manager) AcquireShared(ctx context.Context, key, label string) (ReleaseFunc, error) {
	return m.acquire(ctx, key, label, Shared)
}

// AcquireExclusive grants sole ownership of key once all current holders
// have released and every earlier request has been served.
// AcquireExclusive 获取独占锁
func (m *Manager) AcquireExclusive(ctx context.Context, key, label string) (ReleaseFunc, error) {
	return m.acquire(ctx, key, label, Exclusive)
}

// AcquireSharedMany takes shared holds on several keys in ascending key order.
// The returned function releases all of them.
// AcquireSharedMany 按 key 升序获取多个共享锁，避免循环等待
func (m *Manager) AcquireSharedMany(ctx context.Context, keys []string, label string) (ReleaseFunc, error) {
	ordered := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	releases := make([]ReleaseFunc, 0, len(ordered))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, k := range ordered {
		release, err := m.acquire(ctx, k, label, Shared)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (m *Manager) acquire(ctx context.Context, key, label string, mode Mode) (ReleaseFunc, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	m.mu.Lock()
	e := m.entryLocked(key)

	if e.queue.Len() == 0 && compatible(e, mode) {
		grant(e, mode)
		m.mu.Unlock()
		m.logger.Debug("lock acquired",
			zap.String("lockKey", key),
			zap.String("label", label),
			zap.String("mode", mode.String()))
		return m.releaser(key, label, mode), nil
	}

	w := &waiter{mode: mode, label: label, ready: make(chan struct{})}
	w.elem = e.queue.PushBack(w)
	queued := e.queue.Len()
	m.mu.Unlock()

	m.logger.Debug("lock queued",
		zap.String("lockKey", key),
		zap.String("label", label),
		zap.String("mode", mode.String()),
		zap.Int("queued", queued))

	select {
	case <-w.ready:
	case <-ctx.Done():
		m.mu.Lock()
		if w.granted {
			// granted concurrently with cancellation; the hold belongs to the caller now
			m.mu.Unlock()
			return m.releaser(key, label, mode), nil
		}
		e.queue.Remove(w.elem)
		m.dispatchLocked(e)
		if e.idle() {
			delete(m.entries, key)
		}
		m.mu.Unlock()

		m.logger.Debug("lock wait aborted",
			zap.String("lockKey", key),
			zap.String("label", label),
			zap.String("mode", mode.String()),
			zap.Error(ctx.Err()))
		return nil, ErrAborted
	}

	waited := time.Since(start)
	m.logger.Debug("lock acquired",
		zap.String("lockKey", key),
		zap.String("label", label),
		zap.String("mode", mode.String()),
		zap.Duration("waited", waited))

	m.mu.Lock()
	observe := m.onWait
	m.mu.Unlock()
	if observe != nil {
		observe(mode, waited)
	}

	return m.releaser(key, label, mode), nil
}

func (m *Manager) entryLocked(key string) *entry {
	e, ok := m.entries[key]
	if !ok {
		e = &entry{queue: list.New()}
		m.entries[key] = e
	}
	return e
}

func (m *Manager) releaser(key, label string, mode Mode) ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			e, ok := m.entries[key]
			if !ok {
				m.mu.Unlock()
				return
			}
			if mode == Exclusive {
				e.exclusive = false
			} else if e.shared > 0 {
				e.shared--
			}
			m.dispatchLocked(e)
			if e.idle() {
				delete(m.entries, key)
			}
			m.mu.Unlock()

			m.logger.Debug("lock released",
				zap.String("lockKey", key),
				zap.String("label", label),
				zap.String("mode", mode.String()))
		})
	}
}

// dispatchLocked grants queued requests from the front until one cannot be served
func (m *Manager) dispatchLocked(e *entry) {
	for front := e.queue.Front(); front != nil; front = e.queue.Front() {
		w := front.Value.(*waiter)
		if !compatible(e, w.mode) {
			return
		}
		e.queue.Remove(front)
		grant(e, w.mode)
		w.granted = true
		close(w.ready)
		if w.mode == Exclusive {
			return
		}
	}
}

func compatible(e *entry, mode Mode) bool {
	if mode == Exclusive {
		return e.shared == 0 && !e.exclusive
	}
	return !e.exclusive
}

func grant(e *entry, mode Mode) {
	if mode == Exclusive {
		e.exclusive = true
		return
	}
	e.shared++
}

// Stats snapshot of one key
type Stats struct {
	Shared    int
	Exclusive bool
	Queued    int
}

// Stats returns the current holders and queue length of key
// Stats 返回指定 key 的持有者与排队情况
func (m *Manager) Stats(key string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Stats{}
	}
	return Stats{Shared: e.shared, Exclusive: e.exclusive, Queued: e.queue.Len()}
}

// KeyCount returns the number of keys currently tracked
func (m *Manager) KeyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Locker = (*Manager)(nil)
