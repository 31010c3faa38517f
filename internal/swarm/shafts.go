package swarm

import (
	"strings"
	"time"
)

// ClaimResult 是一次认领的结果。Exhausted 为 true 时 Shaft 无意义，这是正常的终态而非错误。
type ClaimResult struct {
	Shaft     ShaftUnit `json:"shaft"`
	Remaining int       `json:"remaining"`
	Exhausted bool      `json:"exhausted"`
}

// CompleteResult 是一次完成上报的结果。
type CompleteResult struct {
	Shaft ShaftUnit `json:"shaft"`
	// Finished 表示该 swarm 已没有待认领或进行中的竖井。
	Finished bool `json:"finished"`
}

// ShaftQueue 实现竖井的 Pending → Claimed → Done 状态机。
type ShaftQueue struct {
	now Clock
}

// NewShaftQueue 构造 ShaftQueue，clock 为空时使用 time.Now。
func NewShaftQueue(clock Clock) *ShaftQueue {
	if clock == nil {
		clock = time.Now
	}
	return &ShaftQueue{now: clock}
}

// Claim 按生成顺序弹出队首竖井并分配给 workerID。
func (q *ShaftQueue) Claim(s *Swarm, workerID string) (ClaimResult, error) {
	if s == nil {
		return ClaimResult{}, ErrSwarmNotFound
	}
	if strings.TrimSpace(workerID) == "" {
		return ClaimResult{}, invalidParameters("worker id 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.Pending) == 0 {
		return ClaimResult{Exhausted: true, Remaining: 0}, nil
	}
	unit := s.Pending[0]
	s.Pending[0] = nil
	s.Pending = s.Pending[1:]

	unit.ClaimedAt = q.now().UnixMilli()
	unit.ClaimedBy = workerID
	s.Claimed = append(s.Claimed, unit)

	return ClaimResult{Shaft: *unit, Remaining: len(s.Pending)}, nil
}

// Complete 将已认领集合中第一个匹配 (x, z) 的竖井移入完成集合。
func (q *ShaftQueue) Complete(s *Swarm, x, z int) (CompleteResult, error) {
	if s == nil {
		return CompleteResult{}, ErrSwarmNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := -1
	for i, unit := range s.Claimed {
		if unit != nil && unit.X == x && unit.Z == z {
			index = i
			break
		}
	}
	if index < 0 {
		return CompleteResult{}, ErrShaftNotFound
	}

	unit := s.Claimed[index]
	s.Claimed = append(s.Claimed[:index], s.Claimed[index+1:]...)
	unit.CompletedAt = q.now().UnixMilli()
	s.Done = append(s.Done, unit)

	return CompleteResult{
		Shaft:    *unit,
		Finished: len(s.Pending) == 0 && len(s.Claimed) == 0,
	}, nil
}
