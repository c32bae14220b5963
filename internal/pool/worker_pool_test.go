package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部已提交任务", func(t *testing.T) {
		p := NewWorkerPool(4, 100, nil)
		p.Start(context.Background())

		var count int32
		for i := 0; i < 50; i++ {
			assert.True(t, p.TrySubmit(func(context.Context) { atomic.AddInt32(&count, 1) }))
		}
		p.Stop()
		assert.Equal(t, int32(50), atomic.LoadInt32(&count))
	})

	t.Run("队列已满时拒绝", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		block := make(chan struct{})
		started := make(chan struct{})
		p.Start(context.Background())

		assert.True(t, p.TrySubmit(func(context.Context) {
			close(started)
			<-block
		}))
		<-started
		assert.True(t, p.TrySubmit(func(context.Context) {}))
		assert.False(t, p.TrySubmit(func(context.Context) {}))

		close(block)
		p.Stop()
	})

	t.Run("停止后拒绝提交", func(t *testing.T) {
		p := NewWorkerPool(1, 1, nil)
		p.Start(context.Background())
		p.Stop()
		p.Stop()
		assert.False(t, p.TrySubmit(func(context.Context) {}))
	})

	t.Run("任务 panic 不影响后续任务", func(t *testing.T) {
		p := NewWorkerPool(1, 10, nil)
		p.Start(context.Background())

		var wg sync.WaitGroup
		wg.Add(1)
		p.TrySubmit(func(context.Context) { panic("boom") })
		p.TrySubmit(func(context.Context) { wg.Done() })
		wg.Wait()
		p.Stop()
	})
}
