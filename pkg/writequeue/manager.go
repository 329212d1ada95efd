// Package writequeue serializes database writes per key
// Package writequeue 按 key 串行化数据库写操作
// SQLite allows one writer at a time; funnelling writes for the same row family
// through one goroutine avoids "database is locked" under concurrent runs.
package writequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrWriteQueueFull 写队列已满
	ErrWriteQueueFull = errors.New("write queue is full")
	// ErrWriteQueueClosed 写队列管理器已关闭
	ErrWriteQueueClosed = errors.New("write queue is closed")
	// ErrWriteTimeout 写操作超时
	ErrWriteTimeout = errors.New("write operation timeout")
)

// Config write queue configuration
// Config 写队列配置
type Config struct {
	// QueueCapacity per-key queue capacity, default 100
	// QueueCapacity 每个 key 的队列容量，默认 100
	QueueCapacity int
	// WriteTimeout write operation timeout, default 30 seconds
	// WriteTimeout 写操作超时时间，默认 30 秒
	WriteTimeout time.Duration
	// IdleTimeout idle cleanup timeout, default 10 minutes
	// IdleTimeout 空闲清理超时时间，默认 10 分钟
	IdleTimeout time.Duration
}

// DefaultConfig returns default configuration
// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 100,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   10 * time.Minute,
	}
}

type writeOp struct {
	ctx    context.Context
	fn     func() error
	result chan error
}

// keyQueue FIFO queue drained by one worker goroutine
type keyQueue struct {
	key      string
	ch       chan writeOp
	lastUsed atomic.Int64
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func (q *keyQueue) stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

// Manager manages write queues for all keys
// Manager 管理所有 key 的写队列
type Manager struct {
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	queues map[string]*keyQueue
	closed bool

	cleanupStop chan struct{}
	cleanupWg   sync.WaitGroup
}

// New creates write queue manager
// New 创建写队列管理器
// cfg: configuration, if nil use default configuration
// logger: zap logger, if nil use nop logger
func New(cfg *Config, logger *zap.Logger) *Manager {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.QueueCapacity > 0 {
			c.QueueCapacity = cfg.QueueCapacity
		}
		if cfg.WriteTimeout > 0 {
			c.WriteTimeout = cfg.WriteTimeout
		}
		if cfg.IdleTimeout > 0 {
			c.IdleTimeout = cfg.IdleTimeout
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		config:      c,
		logger:      logger,
		queues:      make(map[string]*keyQueue),
		cleanupStop: make(chan struct{}),
	}

	m.cleanupWg.Add(1)
	go m.cleanupIdleQueues()

	m.logger.Info("write queue manager started",
		zap.Int("queueCapacity", c.QueueCapacity),
		zap.Duration("writeTimeout", c.WriteTimeout),
		zap.Duration("idleTimeout", c.IdleTimeout))

	return m
}

// Execute runs fn on the queue for key and waits for its result.
// Writes sharing a key run one at a time in submission order.
// Execute 执行写操作，同一 key 的写操作按 FIFO 顺序串行执行
func (m *Manager) Execute(ctx context.Context, key string, fn func() error) error {
	q, err := m.queue(key)
	if err != nil {
		return err
	}

	op := writeOp{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case q.ch <- op:
	default:
		return ErrWriteQueueFull
	}

	timeout := m.config.WriteTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// queue returns the live queue for key, creating and starting it on first use
func (m *Manager) queue(key string) (*keyQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrWriteQueueClosed
	}
	if q, ok := m.queues[key]; ok {
		q.lastUsed.Store(time.Now().UnixNano())
		return q, nil
	}

	q := &keyQueue{
		key:    key,
		ch:     make(chan writeOp, m.config.QueueCapacity),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	q.lastUsed.Store(time.Now().UnixNano())
	m.queues[key] = q
	go m.worker(q)

	m.logger.Debug("created write queue", zap.String("key", key))
	return q, nil
}

func (m *Manager) worker(q *keyQueue) {
	defer close(q.done)
	for {
		select {
		case <-q.stopCh:
			m.drain(q)
			return
		case op := <-q.ch:
			m.execute(q, op)
		}
	}
}

func (m *Manager) execute(q *keyQueue, op writeOp) {
	q.lastUsed.Store(time.Now().UnixNano())
	if err := op.ctx.Err(); err != nil {
		op.result <- err
		return
	}
	op.result <- op.fn()
}

// drain runs whatever is still buffered so no caller waits for the timeout
func (m *Manager) drain(q *keyQueue) {
	for {
		select {
		case op := <-q.ch:
			m.execute(q, op)
		default:
			return
		}
	}
}

func (m *Manager) cleanupIdleQueues() {
	defer m.cleanupWg.Done()

	ticker := time.NewTicker(m.config.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-m.cleanupStop:
			return
		case <-ticker.C:
			m.doCleanup(time.Now())
		}
	}
}

// doCleanup stops queues idle longer than IdleTimeout
func (m *Manager) doCleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, q := range m.queues {
		idle := time.Duration(now.UnixNano() - q.lastUsed.Load())
		if idle > m.config.IdleTimeout && len(q.ch) == 0 {
			q.stop()
			delete(m.queues, key)
			removed++
			m.logger.Debug("cleaning up idle write queue",
				zap.String("key", key),
				zap.Duration("idleTime", idle))
		}
	}
	return removed
}

// Shutdown stops all queues after draining pending writes
// Shutdown 关闭写队列管理器，等待所有操作完成
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	queues := make([]*keyQueue, 0, len(m.queues))
	for _, q := range m.queues {
		q.stop()
		queues = append(queues, q)
	}
	m.queues = make(map[string]*keyQueue)
	m.mu.Unlock()

	close(m.cleanupStop)
	m.logger.Info("write queue manager shutting down", zap.Int("queues", len(queues)))

	done := make(chan struct{})
	go func() {
		for _, q := range queues {
			<-q.done
		}
		m.cleanupWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("write queue manager shutdown completed")
		return nil
	case <-ctx.Done():
		m.logger.Warn("write queue manager shutdown timeout")
		return ctx.Err()
	}
}

// QueueCount returns current active queue count
// QueueCount 返回当前活跃队列数量
func (m *Manager) QueueCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}

// IsClosed returns if manager is closed
func (m *Manager) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
