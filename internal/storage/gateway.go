// Package storage persists swarm snapshots. The registry stays the source of
// truth while the process runs; a Gateway only loads state at startup and
// receives full snapshots from the Flusher afterwards.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"SwarmQuarry/internal/swarm"
)

// Gateway 抽象快照的读写。
type Gateway interface {
	LoadAll(ctx context.Context) (map[string]*swarm.Swarm, error)
	SaveAll(ctx context.Context, swarms map[string]*swarm.Swarm) error
	Driver() string
	Close() error
}

// 支持的存储驱动
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
)

// Config 描述存储层的连接参数。
type Config struct {
	Driver          string
	Path            string
	DSN             string
	Redis           RedisConfig
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open 根据配置创建对应的 Gateway。
func Open(ctx context.Context, cfg Config) (Gateway, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverFile:
		return NewFileGateway(cfg.Path)
	case DriverMemory:
		return NewMemoryGateway(), nil
	case DriverSQLite:
		return NewSQLiteGateway(ctx, cfg.Path)
	case DriverMySQL:
		return NewMySQLGateway(ctx, cfg)
	case DriverRedis:
		return NewRedisGateway(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}

// MemoryGateway 把快照序列化后保存在内存中，适用于测试和不需要持久化的部署。
type MemoryGateway struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryGateway 创建内存 Gateway。
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{data: make(map[string][]byte)}
}

// LoadAll 返回已保存快照的独立副本。
func (m *MemoryGateway) LoadAll(_ context.Context) (map[string]*swarm.Swarm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*swarm.Swarm, len(m.data))
	for id, raw := range m.data {
		decoded, err := decodeSwarm(id, raw)
		if err != nil {
			return nil, err
		}
		out[id] = decoded
	}
	return out, nil
}

// SaveAll 用快照替换全部内容。
func (m *MemoryGateway) SaveAll(_ context.Context, swarms map[string]*swarm.Swarm) error {
	encoded := make(map[string][]byte, len(swarms))
	for id, s := range swarms {
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("序列化 swarm %s 失败: %w", id, err)
		}
		encoded[id] = raw
	}
	m.mu.Lock()
	m.data = encoded
	m.mu.Unlock()
	return nil
}

// Driver 返回驱动名。
func (m *MemoryGateway) Driver() string { return DriverMemory }

// Close 无需操作。
func (m *MemoryGateway) Close() error { return nil }

func decodeSwarm(id string, raw []byte) (*swarm.Swarm, error) {
	var s swarm.Swarm
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("解析 swarm %s 失败: %w", id, err)
	}
	if s.ID == "" {
		s.ID = id
	}
	return &s, nil
}

var _ Gateway = (*MemoryGateway)(nil)
