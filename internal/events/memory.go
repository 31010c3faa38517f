package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"SwarmQuarry/pkg/logger"
)

// MemoryPublisher 把事件保存在内存中，主要用于测试。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

// NewMemoryPublisher 创建一个内存发布器。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 记录事件。
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("发布器已关闭")
	}
	p.events = append(p.events, event)
	return nil
}

// Events 返回已记录事件的副本。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Types 返回已记录事件的类型序列。
func (p *MemoryPublisher) Types() []Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Type, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

// Close 关闭发布器。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// LogPublisher 只把事件写入日志。
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher 创建日志发布器，logger 为空时使用默认 logger。
func NewLogPublisher(l *slog.Logger) *LogPublisher {
	if l == nil {
		l = logger.Named("events")
	}
	return &LogPublisher{logger: l}
}

// Publish 以 debug 级别输出事件。
func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.DebugContext(ctx, "swarm 事件",
		slog.String("event_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("swarm_id", event.SwarmID),
		slog.String("worker_id", event.WorkerID),
	)
	return nil
}

// Close 无需操作。
func (p *LogPublisher) Close() error { return nil }

var (
	_ Publisher = (*MemoryPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
