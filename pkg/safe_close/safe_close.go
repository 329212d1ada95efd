// Package safe_close coordinates shutdown of long-running goroutines
// Package safe_close 协调后台 goroutine 的关闭流程
package safe_close

import (
	"sync"
)

// SafeClose broadcasts one close signal to every attached worker and waits for them to finish
// SafeClose 向所有已挂载的 worker 广播关闭信号并等待其退出
type SafeClose struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	closeCh  chan struct{}
	closed   bool
	closeErr error
}

// NewSafeClose 创建关闭协调器
func NewSafeClose() *SafeClose {
	return &SafeClose{closeCh: make(chan struct{})}
}

// Attach starts fn in its own goroutine. fn must call done when it returns
// and should exit once closeSignal is closed.
// Attach 启动 fn，fn 退出前必须调用 done
func (s *SafeClose) Attach(fn func(done func(), closeSignal <-chan struct{})) {
	s.wg.Add(1)
	var once sync.Once
	done := func() { once.Do(s.wg.Done) }
	go fn(done, s.closeCh)
}

// SendCloseSignal closes the signal channel once; the first non-nil err is kept
// SendCloseSignal 发送关闭信号，仅第一次生效
func (s *SafeClose) SendCloseSignal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	close(s.closeCh)
}

// CloseSignal returns the channel closed by SendCloseSignal
func (s *SafeClose) CloseSignal() <-chan struct{} {
	return s.closeCh
}

// IsClosed reports whether the close signal has been sent
func (s *SafeClose) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// WaitClosed blocks until every attached worker has called done and returns the close error
// WaitClosed 等待所有 worker 退出
func (s *SafeClose) WaitClosed() error {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}
