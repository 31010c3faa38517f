package swarm

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MaxDimension 限制工地的边长，避免一次创建生成过多竖井。
const MaxDimension = 4096

// Clock 返回当前时间，测试中可替换。
type Clock func() time.Time

// Registry 独占持有所有 swarm，是协调状态的唯一权威来源。
type Registry struct {
	mu     sync.RWMutex
	swarms map[string]*Swarm
	now    Clock
}

// RegistryOption 定义可选配置。
type RegistryOption func(*Registry)

// WithClock 指定时间来源。
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRegistry 创建空的 Registry。
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{swarms: make(map[string]*Swarm), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Create 创建 swarm 并生成竖井布局，返回 swarm 与竖井数量。
func (r *Registry) Create(id string, width, length int, ownerAddress string) (*Swarm, int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, 0, invalidParameters("swarm id 不能为空")
	}
	if width <= 0 || length <= 0 {
		return nil, 0, invalidParameters("width 与 length 必须为正整数")
	}
	if width > MaxDimension || length > MaxDimension {
		return nil, 0, invalidParameters("width 与 length 超出上限")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.swarms[id]; ok {
		return nil, 0, ErrSwarmExists
	}

	layout := GenerateLayout(width, length)
	pending := make([]*ShaftUnit, 0, len(layout))
	for _, p := range layout {
		pending = append(pending, &ShaftUnit{X: p.X, Z: p.Z})
	}
	s := &Swarm{
		ID:           id,
		CreatedAt:    r.now().UnixMilli(),
		Width:        width,
		Length:       length,
		OwnerAddress: ownerAddress,
		Pending:      pending,
		Claimed:      make([]*ShaftUnit, 0),
		Done:         make([]*ShaftUnit, 0),
		Reservations: make(Reservations),
	}
	r.swarms[id] = s
	return s, len(pending), nil
}

// Get 返回 swarm 引用，调用方通过 swarm 自身的锁访问可变状态。
func (r *Registry) Get(id string) (*Swarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.swarms[id]
	if !ok {
		return nil, ErrSwarmNotFound
	}
	return s, nil
}

// List 返回所有 swarm ID，按字典序排列。
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.swarms))
	for id := range r.swarms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Restore 用启动时加载的数据替换当前内容，缺失的集合会被补齐。
func (r *Registry) Restore(swarms map[string]*Swarm) {
	restored := make(map[string]*Swarm, len(swarms))
	for id, s := range swarms {
		if s == nil {
			continue
		}
		if s.ID == "" {
			s.ID = id
		}
		if s.Pending == nil {
			s.Pending = make([]*ShaftUnit, 0)
		}
		if s.Claimed == nil {
			s.Claimed = make([]*ShaftUnit, 0)
		}
		if s.Done == nil {
			s.Done = make([]*ShaftUnit, 0)
		}
		if s.Reservations == nil {
			s.Reservations = make(Reservations)
		}
		restored[id] = s
	}

	r.mu.Lock()
	r.swarms = restored
	r.mu.Unlock()
}

// Snapshot 返回所有 swarm 的深拷贝，逐个 swarm 加锁复制。结果沿用注册表中的键。
func (r *Registry) Snapshot() map[string]*Swarm {
	r.mu.RLock()
	refs := make(map[string]*Swarm, len(r.swarms))
	for id, s := range r.swarms {
		refs[id] = s
	}
	r.mu.RUnlock()

	out := make(map[string]*Swarm, len(refs))
	for id, s := range refs {
		out[id] = s.Snapshot()
	}
	return out
}

// Len 返回 swarm 数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.swarms)
}
