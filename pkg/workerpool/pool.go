// Package workerpool runs fire-and-forget background jobs on a bounded set of workers
// Package workerpool 在有限数量的 worker 上执行后台异步任务
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrWorkerPoolFull 任务队列已满
	ErrWorkerPoolFull = errors.New("worker pool queue is full")
	// ErrWorkerPoolClosed 池已关闭
	ErrWorkerPoolClosed = errors.New("worker pool is closed")
)

// Config Worker Pool 配置
type Config struct {
	// MaxWorkers 最大并发 worker 数量，默认 4
	MaxWorkers int
	// QueueSize 任务队列大小，默认 256
	QueueSize int
	// WarningPercent 告警阈值百分比，默认 0.8 (80%)
	WarningPercent float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     4,
		QueueSize:      256,
		WarningPercent: 0.8,
	}
}

type job struct {
	name string
	fn   func(context.Context) error
}

// Pool 管理 goroutine 生命周期的 Worker Pool
type Pool struct {
	config Config
	logger *zap.Logger

	jobs     chan job
	workerWg sync.WaitGroup

	activeCount atomic.Int64
	failedCount atomic.Int64

	// ctx is handed to every job; cancelled only when Shutdown times out
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New 创建新的 Worker Pool
// cfg: 配置，如果为 nil 则使用默认配置
// logger: zap 日志器，如果为 nil 则使用 nop logger
func New(cfg *Config, logger *zap.Logger) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.MaxWorkers > 0 {
			c.MaxWorkers = cfg.MaxWorkers
		}
		if cfg.QueueSize > 0 {
			c.QueueSize = cfg.QueueSize
		}
		if cfg.WarningPercent > 0 && cfg.WarningPercent <= 1 {
			c.WarningPercent = cfg.WarningPercent
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: c,
		logger: logger,
		jobs:   make(chan job, c.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < c.MaxWorkers; i++ {
		p.workerWg.Add(1)
		go p.worker()
	}

	p.logger.Info("worker pool started",
		zap.Int("maxWorkers", c.MaxWorkers),
		zap.Int("queueSize", c.QueueSize))

	return p
}

func (p *Pool) worker() {
	defer p.workerWg.Done()
	for j := range p.jobs {
		p.run(j)
	}
}

// run executes one job; errors and panics are logged, never propagated
func (p *Pool) run(j job) {
	p.activeCount.Add(1)
	defer p.activeCount.Add(-1)
	p.checkWarningThreshold()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.failedCount.Add(1)
			p.logger.Error("worker pool job panic",
				zap.String("job", j.name),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	if err := j.fn(p.ctx); err != nil {
		p.failedCount.Add(1)
		p.logger.Warn("worker pool job failed",
			zap.String("job", j.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.logger.Debug("worker pool job done",
		zap.String("job", j.name),
		zap.Duration("duration", time.Since(start)))
}

// checkWarningThreshold 检查是否超过告警阈值
func (p *Pool) checkWarningThreshold() {
	active := p.activeCount.Load()
	threshold := int64(float64(p.config.MaxWorkers) * p.config.WarningPercent)
	if threshold > 0 && active >= threshold && len(p.jobs) > 0 {
		p.logger.Warn("worker pool approaching capacity",
			zap.Int64("activeCount", active),
			zap.Int("queued", len(p.jobs)),
			zap.Int("maxWorkers", p.config.MaxWorkers))
	}
}

// SubmitAsync queues fn and returns immediately. fn receives the pool context,
// not the caller's, so work outlives the request that scheduled it.
// SubmitAsync 异步提交任务（不等待结果）
func (p *Pool) SubmitAsync(name string, fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case p.jobs <- job{name: name, fn: fn}:
		return nil
	default:
		p.logger.Warn("worker pool queue full, job dropped", zap.String("job", name))
		return ErrWorkerPoolFull
	}
}

// IsClosed 返回 Worker Pool 是否已关闭
func (p *Pool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Shutdown stops accepting jobs and drains the queue. If ctx expires first the
// job context is cancelled and ctx.Err() is returned.
// Shutdown 关闭 Worker Pool，等待队列中的任务执行完毕
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("worker pool shutting down",
		zap.Int64("activeCount", p.activeCount.Load()),
		zap.Int("queuedCount", len(p.jobs)))

	done := make(chan struct{})
	go func() {
		p.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("worker pool shutdown completed")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("worker pool shutdown timeout, cancelling running jobs")
		return ctx.Err()
	}
}

// Metrics Worker Pool 指标
type Metrics struct {
	MaxWorkers    int
	ActiveCount   int64
	FailedCount   int64
	QueuedCount   int
	QueueCapacity int
	IsClosed      bool
}

// GetMetrics 获取当前指标
func (p *Pool) GetMetrics() Metrics {
	return Metrics{
		MaxWorkers:    p.config.MaxWorkers,
		ActiveCount:   p.activeCount.Load(),
		FailedCount:   p.failedCount.Load(),
		QueuedCount:   len(p.jobs),
		QueueCapacity: p.config.QueueSize,
		IsClosed:      p.IsClosed(),
	}
}
