package models

import (
	"time"

	"gorm.io/datatypes"
)

type Platform string

const (
	PlatformWeb      Platform = "web"
	PlatformFacebook Platform = "facebook"
	PlatformZalo     Platform = "zalo"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformWeb, PlatformFacebook, PlatformZalo:
		return true
	}
	return false
}

// Conversation is the identity-scoped thread. IdentityKey is one of
// "facebook:<id>", "zalo:<id>", "user:<id>" or "session:<id>".
type Conversation struct {
	ID          string   `gorm:"type:char(26);primaryKey" json:"id"`
	Platform    Platform `gorm:"type:varchar(16);not null" json:"platform"`
	IdentityKey string   `gorm:"type:varchar(191);not null;uniqueIndex" json:"-"`

	CustomerFBID   *string `gorm:"type:varchar(64)" json:"customer_fb_id,omitempty"`
	CustomerZaloID *string `gorm:"type:varchar(64)" json:"customer_zalo_id,omitempty"`
	UserID         *uint64 `gorm:"index" json:"user_id,omitempty"`
	SessionID      *string `gorm:"type:varchar(128)" json:"session_id,omitempty"`
	PageID         string  `gorm:"type:varchar(64)" json:"page_id,omitempty"`
	CustomerName   string  `gorm:"type:varchar(128)" json:"customer_name"`

	// set when the bot asked "giao về ... phải không", cleared on resolution
	AwaitingConfirmation bool `gorm:"not null;default:false" json:"awaiting_confirmation"`
	// bot message that asked; the flag only holds while it is among the
	// last two bot messages
	ConfirmationQuestionMsgID uint64 `gorm:"not null;default:0" json:"-"`
	// bot messages at or below this id can no longer open a confirmation
	ConfirmationResolvedMsgID uint64 `gorm:"not null;default:0" json:"-"`

	LastActiveAt time.Time `gorm:"index" json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "chat_conversations" }

type SenderRole string

const (
	SenderCustomer SenderRole = "customer"
	SenderBot      SenderRole = "bot"
)

type MessageType string

const (
	MessageText            MessageType = "text"
	MessageImage           MessageType = "image"
	MessageProductShowcase MessageType = "product_showcase"
)

type Message struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string         `gorm:"type:char(26);index;not null" json:"conversation_id"`
	Sender         SenderRole     `gorm:"type:varchar(16);not null" json:"sender"`
	MessageType    MessageType    `gorm:"type:varchar(32);not null;default:'text'" json:"message_type"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	Payload        datatypes.JSON `gorm:"type:json" json:"payload,omitempty"`
	TokensUsed     int            `gorm:"not null;default:0" json:"tokens_used"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// MessagePayload is the structured part of a message.
type MessagePayload struct {
	ProductIDs []string `json:"product_ids,omitempty"`
	ImageURL   string   `json:"image_url,omitempty"`
	ProductID  string   `json:"product_id,omitempty"`
}
