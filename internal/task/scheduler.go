package task

import (
	"context"
	"sync"
	"time"

	"github.com/haierkeys/fast-backup-service/pkg/logger"
	"github.com/haierkeys/fast-backup-service/pkg/safe_close"
	"go.uber.org/zap"
)

// Task 定义任务接口
type Task interface {
	Name() string                  // 任务名称
	Run(ctx context.Context) error // 执行任务
	LoopInterval() time.Duration   // 执行间隔
	IsStartupRun() bool            // 是否立即执行一次
}

// Scheduler 任务调度器
// Each task runs on its own goroutine; a tick that fires while the previous run is
// still busy is dropped, so one task never overlaps itself.
type Scheduler struct {
	logger *zap.Logger
	tasks  []Task
	sc     *safe_close.SafeClose
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewScheduler 创建任务调度器
func NewScheduler(logger *zap.Logger, sc *safe_close.SafeClose) *Scheduler {
	return &Scheduler{
		logger: logger,
		tasks:  make([]Task, 0),
		sc:     sc,
	}
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// Tasks 已注册任务
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Task(nil), s.tasks...)
}

// Start 启动所有任务，重复调用无效
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	if len(tasks) == 0 {
		s.logger.Info("no tasks to schedule")
		return
	}

	s.logger.Info("tasks starting", zap.Int("count", len(tasks)))

	for _, task := range tasks {
		s.startTask(task)
	}
}

// Wait blocks until every task goroutine has observed the close signal and its
// in-flight run, if any, has returned
// Wait 等待所有任务退出
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// startTask 启动单个任务
func (s *Scheduler) startTask(task Task) {
	s.wg.Add(1)
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer s.wg.Done()
		defer done()

		// 关闭信号只停止计时器，正在执行的任务不会被取消
		ctx := context.Background()

		// 如果任务需要立即执行
		if task.IsStartupRun() && !closed(closeSignal) {
			s.runOnce(ctx, task, "startupRun")
		}

		if task.LoopInterval() <= 0 {
			return
		}

		ticker := time.NewTicker(task.LoopInterval())
		defer ticker.Stop()

		// 定时执行
		for {
			select {
			case <-ticker.C:
				// a tick and the close signal can be ready together
				if closed(closeSignal) {
					s.logger.Info("task stopped", zap.String(logger.FieldTask, task.Name()))
					return
				}
				s.runOnce(ctx, task, "loopRun")
			case <-closeSignal:
				s.logger.Info("task stopped", zap.String(logger.FieldTask, task.Name()))
				return
			}
		}
	})
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// runOnce 执行一次任务，panic 与错误只记录日志
func (s *Scheduler) runOnce(ctx context.Context, task Task, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panic",
				zap.String(logger.FieldTask, task.Name()),
				zap.String("trigger", trigger),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	start := time.Now()
	s.logger.Debug("task running", zap.String(logger.FieldTask, task.Name()), zap.String("trigger", trigger))
	if err := task.Run(ctx); err != nil {
		s.logger.Error("task running error",
			zap.String(logger.FieldTask, task.Name()),
			zap.String("trigger", trigger),
			zap.Duration(logger.FieldDuration, time.Since(start)),
			zap.Error(err))
	}
}
