package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type 表示 swarm 生命周期事件的类型。
type Type string

const (
	TypeSwarmCreated    Type = "swarm_created"
	TypeShaftClaimed    Type = "shaft_claimed"
	TypeShaftsExhausted Type = "shafts_exhausted"
	TypeShaftCompleted  Type = "shaft_completed"
	TypeSwarmFinished   Type = "swarm_finished"
	TypeTravelAdmitted  Type = "travel_admitted"
	TypeTravelRejected  Type = "travel_rejected"
	TypeTravelReleased  Type = "travel_released"
)

// Event 是对外广播的一条事件，字段按类型选择性填写。
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	SwarmID      string    `json:"swarm_id"`
	WorkerID     string    `json:"worker_id,omitempty"`
	X            *int      `json:"x,omitempty"`
	Z            *int      `json:"z,omitempty"`
	Remaining    *int      `json:"remaining,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	ConflictWith string    `json:"conflict_with,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// New 创建带唯一 ID 和时间戳的事件。
func New(typ Type, swarmID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		SwarmID:    swarmID,
		OccurredAt: time.Now().UTC(),
	}
}

// WithWorker 设置 worker ID。
func (e Event) WithWorker(workerID string) Event {
	e.WorkerID = workerID
	return e
}

// WithShaft 设置竖井坐标。
func (e Event) WithShaft(x, z int) Event {
	e.X, e.Z = &x, &z
	return e
}

// WithRemaining 设置剩余待认领数量。
func (e Event) WithRemaining(remaining int) Event {
	e.Remaining = &remaining
	return e
}

// Publisher 负责把事件投递到外部系统。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
