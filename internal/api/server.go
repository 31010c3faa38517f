package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"SwarmQuarry/internal/auth"
	"SwarmQuarry/internal/observability/metrics"
	"SwarmQuarry/internal/swarm"
	"SwarmQuarry/pkg/logger"
)

// Coordinator 是 HTTP 层依赖的协调操作集合。
type Coordinator interface {
	CreateSwarm(ctx context.Context, swarmID string, width, length int, callerAddress string) (swarm.CreateResult, error)
	ClaimShaft(ctx context.Context, swarmID, workerID string) (swarm.ClaimResult, error)
	CompleteShaft(ctx context.Context, swarmID string, x, z int) (swarm.CompleteResult, error)
	Reserve(ctx context.Context, swarmID, workerID string, start, dest swarm.Point) (swarm.Admission, error)
	ReleaseReservation(ctx context.Context, swarmID, workerID string) (bool, error)
	GetSwarm(ctx context.Context, swarmID string) (swarm.View, error)
	ListSwarms(ctx context.Context) []string
	Stats(ctx context.Context, swarmID string) (swarm.Stats, error)
	Owner(swarmID string) (string, error)
}

// Server 负责暴露 swarm 协调接口。
type Server struct {
	addr              string
	svc               Coordinator
	gate              *auth.Gate
	logger            *slog.Logger
	corsOrigins       []string
	metricsPath       string
	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration
}

// Option 定义可选配置。
type Option func(*Server)

// WithCORSOrigins 限制允许的跨域来源，为空时允许所有来源。
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMetricsPath 在指定路径暴露 Prometheus 指标，空字符串表示不暴露。
func WithMetricsPath(path string) Option {
	return func(s *Server) {
		s.metricsPath = path
	}
}

// WithTimeouts 指定请求头读取与优雅关闭的超时。
func WithTimeouts(readHeader, shutdown time.Duration) Option {
	return func(s *Server) {
		if readHeader > 0 {
			s.readHeaderTimeout = readHeader
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。gate 为空时不做任何访问控制。
func NewServer(addr string, svc Coordinator, gate *auth.Gate, opts ...Option) *Server {
	if gate == nil {
		gate = auth.NewGate(auth.Config{})
	}
	s := &Server{
		addr:              addr,
		svc:               svc,
		gate:              gate,
		logger:            logger.Named("api"),
		metricsPath:       "/metrics",
		readHeaderTimeout: 5 * time.Second,
		shutdownTimeout:   5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回带有全部中间件的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /swarm", s.handleList)
	mux.HandleFunc("GET /swarm/{swarmid}", s.handleInfo)
	mux.HandleFunc("GET /swarm/{swarmid}/stats", s.handleStats)
	mux.HandleFunc("GET /swarm/{swarmid}/{command}", s.handleCommand)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, metrics.Handler())
	}

	var handler http.Handler = mux
	handler = instrument(handler)
	handler = s.gate.Middleware(handler)
	handler = withRequestID(handler)
	handler = trimTrailingSlash(handler)
	return s.corsHandler().Handler(handler)
}

func (s *Server) corsHandler() *cors.Cors {
	if len(s.corsOrigins) == 0 {
		return cors.AllowAll()
	}
	return cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
	})
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("swarm quarry 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
