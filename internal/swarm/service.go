package swarm

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"SwarmQuarry/internal/events"
	"SwarmQuarry/internal/observability/metrics"
	"SwarmQuarry/pkg/logger"
)

// ChangeNotifier 在每次状态变更后被调用，由持久化层异步落盘。
type ChangeNotifier interface {
	MarkDirty()
}

// CreateResult 是创建 swarm 的结果。
type CreateResult struct {
	ID         string `json:"id"`
	ShaftCount int    `json:"shafts"`
}

// Service 组合 Registry、ShaftQueue 与 TravelAdmission，对 HTTP 层暴露协调操作。
// 访问控制由调用方在进入 Service 之前完成。
type Service struct {
	registry  *Registry
	shafts    *ShaftQueue
	travel    *TravelAdmission
	notifier  ChangeNotifier
	publisher events.Publisher
	logger    *slog.Logger
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithChangeNotifier 指定变更通知对象。
func WithChangeNotifier(notifier ChangeNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithPublisher 指定事件发布器。
func WithPublisher(publisher events.Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithServiceLogger 指定日志输出。
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 构造 Service，ShaftQueue 与 TravelAdmission 共享 registry 的时钟。
func NewService(registry *Registry, opts ...ServiceOption) *Service {
	if registry == nil {
		registry = NewRegistry()
	}
	s := &Service{
		registry: registry,
		shafts:   NewShaftQueue(registry.now),
		travel:   NewTravelAdmission(registry.now),
		logger:   logger.Named("swarm"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Registry 返回底层 Registry。
func (s *Service) Registry() *Registry {
	return s.registry
}

// CreateSwarm 创建 swarm，callerAddress 记为所有者地址。
func (s *Service) CreateSwarm(ctx context.Context, swarmID string, width, length int, callerAddress string) (CreateResult, error) {
	created, count, err := s.registry.Create(swarmID, width, length, callerAddress)
	if err != nil {
		return CreateResult{}, err
	}
	s.changed()
	metrics.SwarmCreated(s.registry.Len())

	s.logger.InfoContext(ctx, "swarm 已创建",
		slog.String("swarm_id", created.ID),
		slog.Int("width", width),
		slog.Int("length", length),
		slog.Int("shafts", count),
		slog.String("owner", callerAddress),
	)
	logger.Audit().Info("swarm_created",
		slog.String("swarm_id", created.ID),
		slog.String("owner", callerAddress),
		slog.Int("shafts", count),
	)
	s.publish(ctx, events.New(events.TypeSwarmCreated, created.ID).WithRemaining(count))
	return CreateResult{ID: created.ID, ShaftCount: count}, nil
}

// ClaimShaft 为 worker 认领下一个竖井。队列耗尽时返回 Exhausted 结果而非错误。
func (s *Service) ClaimShaft(ctx context.Context, swarmID, workerID string) (ClaimResult, error) {
	target, err := s.registry.Get(swarmID)
	if err != nil {
		return ClaimResult{}, err
	}
	result, err := s.shafts.Claim(target, workerID)
	if err != nil {
		return ClaimResult{}, err
	}
	if result.Exhausted {
		metrics.ShaftOutcome("exhausted")
		s.logger.DebugContext(ctx, "没有剩余竖井",
			slog.String("swarm_id", swarmID),
			slog.String("worker_id", workerID),
		)
		s.publish(ctx, events.New(events.TypeShaftsExhausted, swarmID).WithWorker(workerID).WithRemaining(0))
		return result, nil
	}
	s.changed()
	metrics.ShaftOutcome("claimed")

	s.logger.DebugContext(ctx, "竖井已认领",
		slog.String("swarm_id", swarmID),
		slog.String("worker_id", workerID),
		slog.Int("x", result.Shaft.X),
		slog.Int("z", result.Shaft.Z),
		slog.Int("remaining", result.Remaining),
	)
	logger.Audit().Info("shaft_claimed",
		slog.String("swarm_id", swarmID),
		slog.String("worker_id", workerID),
		slog.Int("x", result.Shaft.X),
		slog.Int("z", result.Shaft.Z),
	)
	s.publish(ctx, events.New(events.TypeShaftClaimed, swarmID).
		WithWorker(workerID).
		WithShaft(result.Shaft.X, result.Shaft.Z).
		WithRemaining(result.Remaining))
	return result, nil
}

// CompleteShaft 标记坐标 (x, z) 的竖井已完成。重复上报返回 ErrShaftNotFound。
func (s *Service) CompleteShaft(ctx context.Context, swarmID string, x, z int) (CompleteResult, error) {
	target, err := s.registry.Get(swarmID)
	if err != nil {
		return CompleteResult{}, err
	}
	result, err := s.shafts.Complete(target, x, z)
	if err != nil {
		if stdErrors.Is(err, ErrShaftNotFound) {
			metrics.ShaftOutcome("not_found")
			s.logger.WarnContext(ctx, "完成上报未匹配到已认领竖井",
				slog.String("swarm_id", swarmID),
				slog.Int("x", x),
				slog.Int("z", z),
			)
		}
		return CompleteResult{}, err
	}
	s.changed()
	metrics.ShaftOutcome("completed")

	s.logger.DebugContext(ctx, "竖井已完成",
		slog.String("swarm_id", swarmID),
		slog.String("worker_id", result.Shaft.ClaimedBy),
		slog.Int("x", x),
		slog.Int("z", z),
	)
	logger.Audit().Info("shaft_completed",
		slog.String("swarm_id", swarmID),
		slog.String("worker_id", result.Shaft.ClaimedBy),
		slog.Int("x", x),
		slog.Int("z", z),
	)
	s.publish(ctx, events.New(events.TypeShaftCompleted, swarmID).
		WithWorker(result.Shaft.ClaimedBy).
		WithShaft(x, z))

	if result.Finished {
		s.logger.InfoContext(ctx, "swarm 已全部完成", slog.String("swarm_id", swarmID))
		s.publish(ctx, events.New(events.TypeSwarmFinished, swarmID))
	}
	return result, nil
}

// Reserve 为 worker 申请一段路径，与其他 worker 的路径相交时拒绝。
func (s *Service) Reserve(ctx context.Context, swarmID, workerID string, start, dest Point) (Admission, error) {
	target, err := s.registry.Get(swarmID)
	if err != nil {
		return Admission{}, err
	}
	admission, err := s.travel.Reserve(target, workerID, start, dest)
	if err != nil {
		return Admission{}, err
	}

	if !admission.Admitted {
		metrics.TravelDecision("rejected")
		s.logger.DebugContext(ctx, "路径预约被拒绝",
			slog.String("swarm_id", swarmID),
			slog.String("worker_id", workerID),
			slog.String("conflict_with", admission.ConflictWith),
		)
		logger.Audit().Info("travel_rejected",
			slog.String("swarm_id", swarmID),
			slog.String("worker_id", workerID),
			slog.String("conflict_with", admission.ConflictWith),
		)
		rejected := events.New(events.TypeTravelRejected, swarmID).WithWorker(workerID)
		rejected.Reason = admission.Reason
		rejected.ConflictWith = admission.ConflictWith
		s.publish(ctx, rejected)
		return admission, nil
	}

	s.changed()
	metrics.TravelDecision("admitted")
	s.logger.DebugContext(ctx, "路径预约已接受",
		slog.String("swarm_id", swarmID),
		slog.String("worker_id", workerID),
		slog.Any("start", start),
		slog.Any("dest", dest),
	)
	logger.Audit().Info("travel_admitted",
		slog.String("swarm_id", swarmID),
		slog.String("worker_id", workerID),
	)
	s.publish(ctx, events.New(events.TypeTravelAdmitted, swarmID).WithWorker(workerID))
	return admission, nil
}

// ReleaseReservation 释放 worker 的路径预约，返回 false 表示本就没有预约。
func (s *Service) ReleaseReservation(ctx context.Context, swarmID, workerID string) (bool, error) {
	target, err := s.registry.Get(swarmID)
	if err != nil {
		return false, err
	}
	released, err := s.travel.Release(target, workerID)
	if err != nil {
		return false, err
	}
	if !released {
		metrics.TravelDecision("noop")
		return false, nil
	}
	s.changed()
	metrics.TravelDecision("released")
	logger.Audit().Info("travel_released",
		slog.String("swarm_id", swarmID),
		slog.String("worker_id", workerID),
	)
	s.publish(ctx, events.New(events.TypeTravelReleased, swarmID).WithWorker(workerID))
	return true, nil
}

// GetSwarm 返回去除所有者地址的 swarm 视图。
func (s *Service) GetSwarm(_ context.Context, swarmID string) (View, error) {
	target, err := s.registry.Get(swarmID)
	if err != nil {
		return View{}, err
	}
	return PublicView(target), nil
}

// ListSwarms 返回所有 swarm ID。
func (s *Service) ListSwarms(_ context.Context) []string {
	return s.registry.List()
}

// Stats 返回 swarm 的进度统计。
func (s *Service) Stats(_ context.Context, swarmID string) (Stats, error) {
	target, err := s.registry.Get(swarmID)
	if err != nil {
		return Stats{}, err
	}
	return StatsOf(target), nil
}

// Owner 返回 swarm 的创建者地址，供所有权校验使用，不应对外暴露。
func (s *Service) Owner(swarmID string) (string, error) {
	target, err := s.registry.Get(swarmID)
	if err != nil {
		return "", err
	}
	return target.Owner(), nil
}

func (s *Service) changed() {
	if s.notifier != nil {
		s.notifier.MarkDirty()
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "事件发布失败",
			slog.Any("error", err),
			slog.String("type", string(event.Type)),
			slog.String("swarm_id", event.SwarmID),
		)
	}
}
