package safe_close

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitClosedWaitsForAllWorkers(t *testing.T) {
	sc := NewSafeClose()
	var stopped atomic.Int32

	for i := 0; i < 3; i++ {
		sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			<-closeSignal
			time.Sleep(10 * time.Millisecond)
			stopped.Add(1)
		})
	}

	cause := errors.New("listener failed")
	sc.SendCloseSignal(cause)
	sc.SendCloseSignal(nil)

	assert.Equal(t, cause, sc.WaitClosed())
	assert.Equal(t, int32(3), stopped.Load())
	assert.True(t, sc.IsClosed())
}

func TestDoneIsIdempotent(t *testing.T) {
	sc := NewSafeClose()
	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		done()
		done()
	})
	sc.SendCloseSignal(nil)
	assert.NoError(t, sc.WaitClosed())
}
