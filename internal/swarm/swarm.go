package swarm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	xerrors "SwarmQuarry/internal/errors"
)

// Point 表示工地平面上的一个坐标，Z 对应世界坐标的 z 轴。
type Point struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// ShaftUnit 是一个待挖掘的竖井，认领和完成时分别记录时间戳。
type ShaftUnit struct {
	X           int    `json:"x"`
	Z           int    `json:"z"`
	ClaimedAt   int64  `json:"claimed_time,omitempty"`
	ClaimedBy   string `json:"claimed_by,omitempty"`
	CompletedAt int64  `json:"completed_time,omitempty"`
}

// TravelReservation 描述某个 turtle 准备经过的一段路径。
type TravelReservation struct {
	Start      Point `json:"start"`
	Dest       Point `json:"dest"`
	ReservedAt int64 `json:"reserved_time,omitempty"`
}

// Reservations 以 worker ID 为键保存当前生效的路径预约。
type Reservations map[string]*TravelReservation

// UnmarshalJSON 同时兼容对象格式和旧版按 worker 下标存放、带 null 空洞的数组格式。
func (r *Reservations) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	out := make(Reservations)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = out
		return nil
	}
	if trimmed[0] == '[' {
		var legacy []*TravelReservation
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return fmt.Errorf("解析 travelData 数组失败: %w", err)
		}
		for idx, reservation := range legacy {
			if reservation != nil {
				out[strconv.Itoa(idx)] = reservation
			}
		}
		*r = out
		return nil
	}
	var keyed map[string]*TravelReservation
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return fmt.Errorf("解析 travelData 失败: %w", err)
	}
	for workerID, reservation := range keyed {
		if reservation != nil {
			out[workerID] = reservation
		}
	}
	*r = out
	return nil
}

// Swarm 是一个工地的全部协调状态。mu 保护除不可变字段外的所有集合。
type Swarm struct {
	mu sync.Mutex

	ID           string       `json:"id"`
	CreatedAt    int64        `json:"time_created"`
	Width        int          `json:"width"`
	Length       int          `json:"length"`
	OwnerAddress string       `json:"ip,omitempty"`
	Pending      []*ShaftUnit `json:"shafts"`
	Claimed      []*ShaftUnit `json:"claimed"`
	Done         []*ShaftUnit `json:"done"`
	Reservations Reservations `json:"travelData"`
}

// View 是对外暴露的 swarm 只读视图，不包含创建者地址。
type View struct {
	ID           string                       `json:"id"`
	CreatedAt    int64                        `json:"time_created"`
	Width        int                          `json:"width"`
	Length       int                          `json:"length"`
	Pending      []ShaftUnit                  `json:"shafts"`
	Claimed      []ShaftUnit                  `json:"claimed"`
	Done         []ShaftUnit                  `json:"done"`
	Reservations map[string]TravelReservation `json:"travelData"`
}

// Owner 返回创建者地址，仅供所有权校验使用。
func (s *Swarm) Owner() string {
	return s.OwnerAddress
}

// clone 在调用方持有 s.mu 时复制出一个独立的 Swarm。
func (s *Swarm) clone() *Swarm {
	out := &Swarm{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		Width:        s.Width,
		Length:       s.Length,
		OwnerAddress: s.OwnerAddress,
		Pending:      cloneUnits(s.Pending),
		Claimed:      cloneUnits(s.Claimed),
		Done:         cloneUnits(s.Done),
		Reservations: make(Reservations, len(s.Reservations)),
	}
	for workerID, reservation := range s.Reservations {
		if reservation == nil {
			continue
		}
		copied := *reservation
		out.Reservations[workerID] = &copied
	}
	return out
}

// Snapshot 在持锁状态下返回深拷贝，用于持久化。
func (s *Swarm) Snapshot() *Swarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clone()
}

// PublicView 返回去除 OwnerAddress 的视图，跨越信任边界时使用。
func PublicView(s *Swarm) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := View{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		Width:        s.Width,
		Length:       s.Length,
		Pending:      unitValues(s.Pending),
		Claimed:      unitValues(s.Claimed),
		Done:         unitValues(s.Done),
		Reservations: make(map[string]TravelReservation, len(s.Reservations)),
	}
	for workerID, reservation := range s.Reservations {
		if reservation != nil {
			view.Reservations[workerID] = *reservation
		}
	}
	return view
}

// ReservationHolders 返回当前持有预约的 worker，按 ID 排序。
func (s *Swarm) ReservationHolders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.Reservations))
	for workerID, reservation := range s.Reservations {
		if reservation != nil {
			ids = append(ids, workerID)
		}
	}
	sort.Strings(ids)
	return ids
}

func cloneUnits(units []*ShaftUnit) []*ShaftUnit {
	out := make([]*ShaftUnit, 0, len(units))
	for _, unit := range units {
		if unit == nil {
			continue
		}
		copied := *unit
		out = append(out, &copied)
	}
	return out
}

func unitValues(units []*ShaftUnit) []ShaftUnit {
	out := make([]ShaftUnit, 0, len(units))
	for _, unit := range units {
		if unit != nil {
			out = append(out, *unit)
		}
	}
	return out
}

var (
	// ErrSwarmExists 表示同名 swarm 已存在。
	ErrSwarmExists = xerrors.New(xerrors.CodeAlreadyExists, "swarm exists")
	// ErrSwarmNotFound 表示 swarm 不存在。
	ErrSwarmNotFound = xerrors.New(xerrors.CodeNotFound, "swarm does not exist")
	// ErrShaftNotFound 表示在已认领集合中找不到对应坐标。
	ErrShaftNotFound = xerrors.New(CodeShaftNotFound, "shaft not found")
	// ErrInvalidParameters 表示请求参数缺失或非法。
	ErrInvalidParameters = xerrors.New(xerrors.CodeInvalidParameters, "missing parameters")
	// ErrPathConflict 表示预约路径与其他 worker 的路径相交。
	ErrPathConflict = xerrors.New(xerrors.CodeConflict, "travel path intersects with queued path")
)

// CodeShaftNotFound 与 swarm 不存在区分开，便于调用方识别重复完成。
const CodeShaftNotFound xerrors.Code = "SHAFT_NOT_FOUND"

func init() {
	xerrors.Register(CodeShaftNotFound, xerrors.Attributes{
		Message:  "shaft not found",
		Severity: xerrors.SeverityWarning,
	})
}

func invalidParameters(message string) error {
	return xerrors.New(xerrors.CodeInvalidParameters, message)
}
