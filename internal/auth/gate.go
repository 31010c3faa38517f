package auth

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"

	loggerpkg "SwarmQuarry/pkg/logger"
)

// Config 配置访问控制。
type Config struct {
	// Token 是所有变更操作共享的口令，为空时不校验。
	Token string
	// IPLock 开启后只有 swarm 的创建者地址可以修改它。
	IPLock bool
	// TrustForwardedFor 为 true 时优先使用 X-Forwarded-For 的第一个地址。
	TrustForwardedFor bool
}

// Gate 实现口令校验和基于地址的所有权校验。
type Gate struct {
	token          []byte
	ipLock         bool
	trustForwarded bool
	audit          *slog.Logger
}

// NewGate 根据配置创建 Gate。
func NewGate(cfg Config) *Gate {
	return &Gate{
		token:          []byte(cfg.Token),
		ipLock:         cfg.IPLock,
		trustForwarded: cfg.TrustForwardedFor,
		audit:          loggerpkg.Audit(),
	}
}

// TokenRequired 返回是否配置了口令。
func (g *Gate) TokenRequired() bool {
	return g != nil && len(g.token) > 0
}

// IPLock 返回是否开启了 IP 锁。
func (g *Gate) IPLock() bool {
	return g != nil && g.ipLock
}

// Authorize 以常量时间比较口令。
func (g *Gate) Authorize(caller Caller) error {
	if !g.TokenRequired() {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(caller.Token), g.token) != 1 {
		g.audit.Warn("access_denied",
			slog.String("reason", "invalid_token"),
			slog.String("address", caller.Address),
		)
		return ErrInvalidToken
	}
	return nil
}

// OwnsSwarm 校验调用方是否为 swarm 的创建者。没有记录创建者地址的旧数据不受限制。
func (g *Gate) OwnsSwarm(swarmID, ownerAddress string, caller Caller) error {
	if !g.IPLock() || ownerAddress == "" {
		return nil
	}
	if normaliseAddress(caller.Address) != normaliseAddress(ownerAddress) {
		g.audit.Warn("access_denied",
			slog.String("reason", "ip_mismatch"),
			slog.String("swarm_id", swarmID),
			slog.String("address", caller.Address),
		)
		return ErrIPMismatch
	}
	return nil
}

// ClientAddress 解析请求的客户端地址。
func (g *Gate) ClientAddress(r *http.Request) string {
	if g != nil && g.trustForwarded {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware 把调用方地址与 token 查询参数放入请求上下文。
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := Caller{
			Address: g.ClientAddress(r),
			Token:   r.URL.Query().Get("token"),
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// normaliseAddress 去掉 IPv4 映射到 IPv6 的前缀，使 ::ffff:1.2.3.4 与 1.2.3.4 等价。
func normaliseAddress(address string) string {
	address = strings.TrimSpace(address)
	if ip := net.ParseIP(address); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return address
}
