package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Execution live handle of one running backup
type Execution struct {
	cancel    context.CancelFunc
	stopped   atomic.Bool
	sealed    bool // guarded by Registry.mu
	startedAt time.Time
}

// StoppedByUser reports whether StopBackup was called for this run
func (e *Execution) StoppedByUser() bool {
	return e.stopped.Load()
}

// Registry maps a schedule to the cancellation handle of its running backup.
// At most one entry exists per schedule.
// Registry 执行登记表，每个计划最多一条
type Registry struct {
	mu   sync.Mutex
	runs map[int64]*Execution
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[int64]*Execution)}
}

// TryRegister atomically claims scheduleID; ok is false when a run already holds it
func (r *Registry) TryRegister(scheduleID int64, cancel context.CancelFunc) (*Execution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[scheduleID]; exists {
		return nil, false
	}
	e := &Execution{cancel: cancel, startedAt: time.Now()}
	r.runs[scheduleID] = e
	return e, true
}

// StopOutcome result of a stop request
type StopOutcome int

const (
	StopAccepted StopOutcome = iota
	StopNotRunning
	// StopTooLate the run has already decided its final status
	StopTooLate
)

// Stop marks the run as stopped by the user and cancels it.
// A sealed run is left alone and reports StopTooLate.
func (r *Registry) Stop(scheduleID int64) StopOutcome {
	r.mu.Lock()
	e, ok := r.runs[scheduleID]
	if !ok {
		r.mu.Unlock()
		return StopNotRunning
	}
	if e.sealed {
		r.mu.Unlock()
		return StopTooLate
	}
	e.stopped.Store(true)
	r.mu.Unlock()

	e.cancel()
	return StopAccepted
}

// Seal closes e to further stop requests and reports whether a stop was accepted before it.
// After Seal the value of StoppedByUser no longer changes.
// Seal 结束前封口，之后的停止请求不再生效
func (r *Registry) Seal(e *Execution) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.sealed = true
	return e.stopped.Load()
}

// Remove drops the entry only if it still belongs to e
func (r *Registry) Remove(scheduleID int64, e *Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runs[scheduleID]; ok && cur == e {
		delete(r.runs, scheduleID)
	}
}

// IsRunning 计划是否正在运行
func (r *Registry) IsRunning(scheduleID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[scheduleID]
	return ok
}

// Running returns the running schedule ids in ascending order
func (r *Registry) Running() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len 当前运行数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
