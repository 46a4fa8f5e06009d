package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// MemoryQueue 使用 channel 模拟折叠事件队列，主要用于测试。
type MemoryQueue struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan []byte, size)}
}

// Publish 将折叠事件投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, event FoldEvent) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("队列已关闭")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- payload:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的事件。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, payload)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
