package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"SwarmQuarry/internal/swarm"
)

// RedisConfig 描述 Redis 存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Key 是保存所有 swarm 的哈希键。
	Key string
}

// RedisGateway 把每个 swarm 的 JSON 作为一个哈希字段保存。
type RedisGateway struct {
	client *redis.Client
	key    string
}

// NewRedisGateway 连接 Redis 并做一次 PING。
func NewRedisGateway(ctx context.Context, cfg RedisConfig) (*RedisGateway, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("redis 地址不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "quarry:swarms"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisGateway{client: client, key: key}, nil
}

// LoadAll 读取哈希中的全部 swarm。
func (g *RedisGateway) LoadAll(ctx context.Context) (map[string]*swarm.Swarm, error) {
	fields, err := g.client.HGetAll(ctx, g.key).Result()
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", g.key, err)
	}
	out := make(map[string]*swarm.Swarm, len(fields))
	for id, payload := range fields {
		decoded, err := decodeSwarm(id, []byte(payload))
		if err != nil {
			return nil, err
		}
		out[id] = decoded
	}
	return out, nil
}

// SaveAll 在一个 MULTI/EXEC 中写入全部字段。
func (g *RedisGateway) SaveAll(ctx context.Context, swarms map[string]*swarm.Swarm) error {
	if len(swarms) == 0 {
		return nil
	}
	values := make(map[string]any, len(swarms))
	for id, s := range swarms {
		if s == nil {
			continue
		}
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("序列化 swarm %s 失败: %w", id, err)
		}
		values[id] = string(raw)
	}
	if len(values) == 0 {
		return nil
	}
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, g.key, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入 %s 失败: %w", g.key, err)
	}
	return nil
}

// Driver 返回驱动名。
func (g *RedisGateway) Driver() string { return DriverRedis }

// Close 关闭连接。
func (g *RedisGateway) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

var _ Gateway = (*RedisGateway)(nil)
