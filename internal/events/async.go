package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"SwarmQuarry/internal/observability/metrics"
	"SwarmQuarry/pkg/logger"
)

// AsyncPublisher 用有界缓冲把发布移出调用方的关键路径，缓冲满时丢弃事件。
type AsyncPublisher struct {
	next    Publisher
	ch      chan Event
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncPublisher 包装 next 并启动一个投递协程。
func NewAsyncPublisher(next Publisher, buffer int, timeout time.Duration) *AsyncPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &AsyncPublisher{next: next, ch: make(chan Event, buffer), timeout: timeout}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Publish 将事件放入缓冲区，从不阻塞。
func (p *AsyncPublisher) Publish(_ context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil
	}
	select {
	case p.ch <- event:
	default:
		metrics.EventPublished("dropped")
		logger.L().Warn("事件缓冲已满，丢弃事件",
			slog.String("type", string(event.Type)),
			slog.String("swarm_id", event.SwarmID),
		)
	}
	return nil
}

func (p *AsyncPublisher) loop() {
	defer p.wg.Done()
	for event := range p.ch {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.next.Publish(ctx, event)
		cancel()
		if err != nil {
			metrics.EventPublished("error")
			logger.L().Error("事件发布失败",
				slog.Any("error", err),
				slog.String("type", string(event.Type)),
				slog.String("swarm_id", event.SwarmID),
			)
			continue
		}
		metrics.EventPublished("ok")
	}
}

// Close 停止接收新事件，投递完缓冲中的事件后关闭下游发布器。
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	p.wg.Wait()
	return p.next.Close()
}
