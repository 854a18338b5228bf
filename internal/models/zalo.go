package models

import (
	"time"

	"gorm.io/datatypes"
)

// ZaloConsent records that the owner of a phone number agreed to receive
// Zalo notification (ZNS) messages.
type ZaloConsent struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Phone       string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"phone"`
	ZaloUserID  string    `gorm:"type:varchar(64);index;not null" json:"zalo_user_id"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	ConsentedAt time.Time `json:"consented_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ZaloConsent) TableName() string { return "zalo_consents" }

type ZNSStatus string

const (
	ZNSSent   ZNSStatus = "sent"
	ZNSFailed ZNSStatus = "failed"
)

// ZNSLog is one attempt to send an order notification.
type ZNSLog struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber   string         `gorm:"type:varchar(40);index;not null" json:"order_number"`
	ZaloUserID    string         `gorm:"type:varchar(64)" json:"zalo_user_id"`
	CustomerPhone string         `gorm:"type:varchar(20)" json:"customer_phone"`
	TemplateID    string         `gorm:"type:varchar(64)" json:"template_id"`
	Status        ZNSStatus      `gorm:"type:varchar(16);not null" json:"status"`
	MsgID         string         `gorm:"type:varchar(64)" json:"msg_id,omitempty"`
	Response      datatypes.JSON `gorm:"type:json" json:"response,omitempty"`
	ErrorMessage  string         `gorm:"type:varchar(512)" json:"error_message,omitempty"`
	SentAt        time.Time      `gorm:"index" json:"sent_at"`
}

func (ZNSLog) TableName() string { return "zalo_zns_logs" }
