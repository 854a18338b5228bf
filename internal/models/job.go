package models

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// InboundJob is an accepted inbound message that the worker processes
// asynchronously. (platform, idempotency_key) dedupes webhook redeliveries.
type InboundJob struct {
	ID             string         `gorm:"type:char(26);primaryKey" json:"job_id"`
	Platform       Platform       `gorm:"type:varchar(16);not null;uniqueIndex:ux_job_idem,priority:1" json:"platform"`
	IdempotencyKey *string        `gorm:"type:varchar(128);uniqueIndex:ux_job_idem,priority:2" json:"idempotency_key,omitempty"`
	Payload        datatypes.JSON `gorm:"type:json;not null" json:"-"`
	Status         JobStatus      `gorm:"type:varchar(16);not null;index" json:"status"`
	Error          *string        `gorm:"type:text" json:"error,omitempty"`

	ConversationID  *string `gorm:"type:char(26)" json:"conversation_id,omitempty"`
	ResultMessageID *uint64 `json:"result_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (InboundJob) TableName() string { return "inbound_jobs" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Conversation{},
		&Message{},
		&CustomerProfile{},
		&Address{},
		&Product{},
		&ProductImage{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&MemoryFact{},
		&ProductInterest{},
		&ConversationSummary{},
		&ConversationEmbedding{},
		&UsageLog{},
		&InboundJob{},
		&ZaloConsent{},
		&ZNSLog{},
	}
}
