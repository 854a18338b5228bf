package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type FactType string

const (
	FactPersonalInfo FactType = "personal_info"
	FactPreference   FactType = "preference"
	FactDislike      FactType = "dislike"
	FactBudget       FactType = "budget"
	FactLifeEvent    FactType = "life_event"
	FactShipping     FactType = "shipping"
	FactOrder        FactType = "order_history"
)

// MemoryFact is a profile-scoped long-term fact used in future turns.
type MemoryFact struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ProfileID  uint64     `gorm:"index;not null" json:"profile_id"`
	FactType   FactType   `gorm:"type:varchar(32);not null" json:"fact_type"`
	FactText   string     `gorm:"type:text;not null" json:"fact_text"`
	Importance int        `gorm:"not null;default:5" json:"importance"`
	IsActive   bool       `gorm:"not null;default:true;index" json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (MemoryFact) TableName() string { return "memory_facts" }

type ProductInterest struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ProfileID    uint64    `gorm:"not null;uniqueIndex:ux_interest,priority:1" json:"profile_id"`
	ProductID    uuid.UUID `gorm:"type:char(36);not null;uniqueIndex:ux_interest,priority:2" json:"product_id"`
	ViewCount    int       `gorm:"not null;default:1" json:"view_count"`
	LastViewedAt time.Time `json:"last_viewed_at"`
}

func (ProductInterest) TableName() string { return "product_interests" }

type ConversationSummary struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string         `gorm:"type:char(26);index;not null" json:"conversation_id"`
	SummaryText    string         `gorm:"type:text;not null" json:"summary_text"`
	KeyPoints      datatypes.JSON `gorm:"type:json" json:"key_points,omitempty"`
	CustomerIntent string         `gorm:"type:varchar(32)" json:"customer_intent"`
	Sentiment      string         `gorm:"type:varchar(16)" json:"sentiment"`
	MessageCount   int64          `gorm:"not null" json:"message_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (ConversationSummary) TableName() string { return "conversation_summaries" }

type EmbeddingContentType string

const (
	EmbeddingMessage EmbeddingContentType = "message"
	EmbeddingSummary EmbeddingContentType = "summary"
	EmbeddingFact    EmbeddingContentType = "fact"
)

type ConversationEmbedding struct {
	ID             uint64               `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string               `gorm:"type:char(26);index;not null" json:"conversation_id"`
	ContentType    EmbeddingContentType `gorm:"type:varchar(16);not null" json:"content_type"`
	ContentID      uint64               `json:"content_id"`
	ContentText    string               `gorm:"type:text;not null" json:"content_text"`
	Model          string               `gorm:"type:varchar(128)" json:"model"`
	Vector         datatypes.JSON       `gorm:"type:json" json:"-"`
	CreatedAt      time.Time            `json:"created_at"`
}

func (ConversationEmbedding) TableName() string { return "conversation_embeddings" }

// UsageLog records token usage and cost of one model call.
type UsageLog struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string          `gorm:"type:char(26);index" json:"conversation_id"`
	Model          string          `gorm:"type:varchar(128)" json:"model"`
	Purpose        string          `gorm:"type:varchar(32)" json:"purpose"`
	InputTokens    int             `json:"input_tokens"`
	OutputTokens   int             `json:"output_tokens"`
	TotalTokens    int             `json:"total_tokens"`
	CostUSD        decimal.Decimal `gorm:"type:decimal(14,8)" json:"cost_usd"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (UsageLog) TableName() string { return "usage_logs" }
