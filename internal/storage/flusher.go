package storage

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	xerrors "SwarmQuarry/internal/errors"
	"SwarmQuarry/internal/observability/alerting"
	"SwarmQuarry/internal/observability/metrics"
	"SwarmQuarry/internal/swarm"
	"SwarmQuarry/pkg/logger"
)

// SnapshotSource 提供可安全序列化的深拷贝。
type SnapshotSource interface {
	Snapshot() map[string]*swarm.Swarm
}

// Flusher 合并变更通知并在后台把快照写入 Gateway，请求路径从不等待磁盘或网络。
type Flusher struct {
	gateway   Gateway
	source    SnapshotSource
	signal    chan struct{}
	timeout   time.Duration
	threshold int
	alerter   alerting.Dispatcher
	logger    *slog.Logger

	mu       sync.Mutex
	failures int
}

// FlusherOption 定义可选配置。
type FlusherOption func(*Flusher)

// WithFlushTimeout 指定单次写入的超时时间。
func WithFlushTimeout(timeout time.Duration) FlusherOption {
	return func(f *Flusher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// WithAlerting 在连续失败达到 threshold 次时通过 dispatcher 告警。
func WithAlerting(dispatcher alerting.Dispatcher, threshold int) FlusherOption {
	return func(f *Flusher) {
		f.alerter = dispatcher
		if threshold > 0 {
			f.threshold = threshold
		}
	}
}

// NewFlusher 创建 Flusher。
func NewFlusher(gateway Gateway, source SnapshotSource, opts ...FlusherOption) *Flusher {
	f := &Flusher{
		gateway:   gateway,
		source:    source,
		signal:    make(chan struct{}, 1),
		timeout:   10 * time.Second,
		threshold: 3,
		logger:    logger.Named("storage"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// MarkDirty 记录有待写入的变更，不阻塞。
func (f *Flusher) MarkDirty() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Run 在 ctx 取消前持续处理变更通知。
func (f *Flusher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.signal:
			flushCtx, cancel := context.WithTimeout(ctx, f.timeout)
			_ = f.Flush(flushCtx)
			cancel()
		}
	}
}

// Flush 同步写入一次当前快照。
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := f.source.Snapshot()
	start := time.Now()
	err := f.gateway.SaveAll(ctx, snapshot)
	metrics.PersistenceFlush(f.gateway.Driver(), err, time.Since(start))

	if err != nil {
		f.failures++
		wrapped := xerrors.Wrap(xerrors.CodePersistenceFailure, err, "写入快照失败",
			xerrors.WithMetadata("driver", f.gateway.Driver()),
			xerrors.WithMetadata("failures", strconv.Itoa(f.failures)),
		)
		f.logger.ErrorContext(ctx, "快照写入失败",
			slog.Any("error", wrapped),
			slog.String("driver", f.gateway.Driver()),
			slog.Int("failures", f.failures),
		)
		if f.failures == f.threshold {
			f.emitAlert(ctx, wrapped)
		}
		return wrapped
	}

	if f.failures > 0 {
		f.logger.InfoContext(ctx, "快照写入已恢复", slog.Int("after_failures", f.failures))
	}
	f.failures = 0
	logger.Trace(ctx, "快照已写入",
		slog.String("driver", f.gateway.Driver()),
		slog.Int("swarms", len(snapshot)),
	)
	return nil
}

// Failures 返回当前的连续失败次数。
func (f *Flusher) Failures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

// Close 在关闭前执行最后一次写入。
func (f *Flusher) Close(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.Flush(flushCtx)
}

func (f *Flusher) emitAlert(ctx context.Context, cause *xerrors.Error) {
	if f.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       cause.Code(),
		Message:    cause.Error(),
		Severity:   cause.Severity(),
		Component:  "storage." + f.gateway.Driver(),
		Failures:   f.failures,
		Threshold:  f.threshold,
		Metadata:   cause.Metadata(),
		OccurredAt: time.Now(),
	}
	if err := f.alerter.Notify(ctx, event); err != nil {
		f.logger.ErrorContext(ctx, "告警通知失败", slog.Any("error", err))
	}
}

var _ swarm.ChangeNotifier = (*Flusher)(nil)
