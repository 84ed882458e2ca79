package models

import "time"

// ActivityKind 操作类型
type ActivityKind string

const (
	ActivityCreateEvent ActivityKind = "create_event"
	ActivityBuyTicket   ActivityKind = "buy_ticket"
)

// ActivityStatus 操作结果
type ActivityStatus string

const (
	ActivitySucceeded ActivityStatus = "succeeded"
	ActivityFailed    ActivityStatus = "failed"
)

// Activity 一次写操作（创建活动或购票）的记录
type Activity struct {
	Kind      ActivityKind   `json:"kind"`
	Status    ActivityStatus `json:"status"`
	NetworkID string         `json:"network_id"`
	Contract  string         `json:"contract"`
	From      string         `json:"from"`
	TxHash    string         `json:"tx_hash,omitempty"`
	EventID   *uint64        `json:"event_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Quantity  uint64         `json:"quantity,omitempty"`
	Value     string         `json:"value,omitempty"` // wei
	GasUsed   uint64         `json:"gas_used,omitempty"`
	Block     uint64         `json:"block,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Snapshot 一次完整列举的结果
type Snapshot struct {
	NetworkID string         `json:"network_id"`
	Contract  string         `json:"contract"`
	NextID    uint64         `json:"next_id"`
	Events    []*EventRecord `json:"events"`
	TakenAt   time.Time      `json:"taken_at"`
}
