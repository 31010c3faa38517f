package swarm

import (
	"fmt"
	"strings"
	"time"
)

// RejectReasonConflict 是路径相交时的拒绝原因。
const RejectReasonConflict = "conflict"

// Admission 是一次路径预约的准入结果。
type Admission struct {
	Admitted bool   `json:"admitted"`
	Reason   string `json:"reason,omitempty"`
	// ConflictWith 为与之相交的已有预约所属 worker。
	ConflictWith string `json:"conflict_with,omitempty"`
}

// TravelAdmission 维护每个 swarm 的路径预约表并做相交检测。
type TravelAdmission struct {
	now Clock
}

// NewTravelAdmission 构造 TravelAdmission，clock 为空时使用 time.Now。
func NewTravelAdmission(clock Clock) *TravelAdmission {
	if clock == nil {
		clock = time.Now
	}
	return &TravelAdmission{now: clock}
}

// Reserve 检查候选路径与其他 worker 的预约是否相交，不相交时记录（覆盖该 worker 的旧预约）。
// 被拒绝时不修改任何状态，旧预约保持不变。
func (t *TravelAdmission) Reserve(s *Swarm, workerID string, start, dest Point) (Admission, error) {
	if s == nil {
		return Admission{}, ErrSwarmNotFound
	}
	if strings.TrimSpace(workerID) == "" {
		return Admission{}, invalidParameters("worker id 不能为空")
	}
	for _, p := range []Point{start, dest} {
		if !ValidCoordinate(p.X) || !ValidCoordinate(p.Z) {
			return Admission{}, invalidParameters(fmt.Sprintf("坐标 (%d,%d) 超出范围", p.X, p.Z))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := corridor(start, dest)
	for otherID, other := range s.Reservations {
		if other == nil || otherID == workerID {
			continue
		}
		if candidate.conflicts(corridor(other.Start, other.Dest)) {
			return Admission{Reason: RejectReasonConflict, ConflictWith: otherID}, nil
		}
	}

	if s.Reservations == nil {
		s.Reservations = make(Reservations)
	}
	s.Reservations[workerID] = &TravelReservation{
		Start:      start,
		Dest:       dest,
		ReservedAt: t.now().UnixMilli(),
	}
	return Admission{Admitted: true}, nil
}

// Release 清除 worker 的预约，返回 false 表示原本没有预约（幂等，不视为错误）。
func (t *TravelAdmission) Release(s *Swarm, workerID string) (bool, error) {
	if s == nil {
		return false, ErrSwarmNotFound
	}
	if strings.TrimSpace(workerID) == "" {
		return false, invalidParameters("worker id 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Reservations[workerID] == nil {
		return false, nil
	}
	delete(s.Reservations, workerID)
	return true, nil
}

// segment 是平面上的线段，Z 作为纵轴。
type segment struct {
	a, b Point
}

// lshape 把一次移动拆成两段轴对齐的腿：先沿起点所在行走到目标 x，再沿目标列走到目标 z。
type lshape [2]segment

func corridor(start, dest Point) lshape {
	turn := Point{X: dest.X, Z: start.Z}
	return lshape{{a: start, b: turn}, {a: turn, b: dest}}
}

// conflicts 检查两条走廊的四组腿两两之间是否相交。
func (l lshape) conflicts(other lshape) bool {
	for _, mine := range l {
		for _, theirs := range other {
			if intersects(mine, theirs) || overlapsCollinear(mine, theirs) {
				return true
			}
		}
	}
	return false
}

// ccw 判断 a、b、c 是否按逆时针排列。坐标受 MaxCoordinate 约束，int64 乘积不会溢出。
func ccw(a, b, c Point) bool {
	return (int64(c.Z)-int64(a.Z))*(int64(b.X)-int64(a.X)) > (int64(b.Z)-int64(a.Z))*(int64(c.X)-int64(a.X))
}

// intersects 当且仅当 C、D 分居 AB 两侧且 A、B 分居 CD 两侧时成立。
func intersects(s1, s2 segment) bool {
	return ccw(s1.a, s2.a, s2.b) != ccw(s1.b, s2.a, s2.b) &&
		ccw(s1.a, s1.b, s2.a) != ccw(s1.a, s1.b, s2.b)
}

func cross(a, b, c Point) int64 {
	return (int64(b.X)-int64(a.X))*(int64(c.Z)-int64(a.Z)) - (int64(b.Z)-int64(a.Z))*(int64(c.X)-int64(a.X))
}

// overlapsCollinear 处理 ccw 判定漏掉的情形：两条腿共线且有公共部分，
// 例如两个 turtle 沿同一行相向而行。
func overlapsCollinear(s1, s2 segment) bool {
	if cross(s1.a, s1.b, s2.a) != 0 || cross(s1.a, s1.b, s2.b) != 0 {
		return false
	}
	if cross(s2.a, s2.b, s1.a) != 0 || cross(s2.a, s2.b, s1.b) != 0 {
		return false
	}
	return rangesOverlap(s1.a.X, s1.b.X, s2.a.X, s2.b.X) &&
		rangesOverlap(s1.a.Z, s1.b.Z, s2.a.Z, s2.b.Z)
}

func rangesOverlap(a1, a2, b1, b2 int) bool {
	return max(a1, a2) >= min(b1, b2) && max(b1, b2) >= min(a1, a2)
}
