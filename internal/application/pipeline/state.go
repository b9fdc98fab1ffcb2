package pipeline

import (
	"time"
)

// State 流水线状态
type State string

const (
	StateReceived     State = "received"
	StateValidated    State = "validated"
	StateQuotaChecked State = "quota_checked"
	StateConverted    State = "converted"
	StateDelivered    State = "delivered"
	StateCommitted    State = "committed"
	StateRejected     State = "rejected"
	StateFailed       State = "failed"
)

// 流水线阶段
const (
	StageValidate   = "validate"
	StageQuota      = "quota"
	StageConversion = "conversion"
	StageDelivery   = "delivery"
	StageCommit     = "commit"
)

// Result 成功投递后的结果。Recorded 为 false 表示已投递但未能记账，
// 配额账本会少计一次。
type Result struct {
	State    State
	Recorded bool
	Day      string
	TicketID string
}

// Outcome 每次运行的终态事件，供对账使用
type Outcome struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id,omitempty"`
	State      State     `json:"state"`
	Stage      string    `json:"stage"`
	Recorded   bool      `json:"recorded"`
	Mode       string    `json:"mode"`
	Day        string    `json:"day,omitempty"`
	HTTPStatus int       `json:"http_status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// Unrecorded 已投递但记账失败
func (o Outcome) Unrecorded() bool {
	return o.State == StateDelivered && !o.Recorded
}
