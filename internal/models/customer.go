package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// CustomerProfile keeps identity fields and a denormalized shipping snapshot
// for one conversation.
type CustomerProfile struct {
	ID             uint64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string  `gorm:"type:char(26);uniqueIndex;not null" json:"conversation_id"`
	UserID         *uint64 `gorm:"index" json:"user_id,omitempty"`

	FullName        string         `gorm:"type:varchar(128)" json:"full_name"`
	PreferredName   string         `gorm:"type:varchar(64)" json:"preferred_name"`
	Phone           string         `gorm:"type:varchar(20)" json:"phone"`
	Height          *int           `json:"height,omitempty"`
	Weight          *int           `json:"weight,omitempty"`
	UsualSize       string         `gorm:"type:varchar(8)" json:"usual_size"`
	StylePreference datatypes.JSON `gorm:"type:json" json:"style_preference,omitempty"`

	// shipping snapshot
	AddressLine string `gorm:"type:varchar(255)" json:"address_line"`
	Ward        string `gorm:"type:varchar(128)" json:"ward"`
	District    string `gorm:"type:varchar(128)" json:"district"`
	City        string `gorm:"type:varchar(128)" json:"city"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CustomerProfile) TableName() string { return "customer_profiles" }

// DisplayName prefers the nickname the customer asked to be called by.
func (p *CustomerProfile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.PreferredName != "" {
		return p.PreferredName
	}
	return p.FullName
}

func (p *CustomerProfile) HasShipping() bool {
	return p != nil && strings.TrimSpace(p.AddressLine) != "" && strings.TrimSpace(p.City) != ""
}

// Address is the normalized address book entry of an authenticated user.
type Address struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64    `gorm:"index;not null" json:"user_id"`
	FullName    string    `gorm:"type:varchar(128)" json:"full_name"`
	Phone       string    `gorm:"type:varchar(20)" json:"phone"`
	AddressLine string    `gorm:"type:varchar(255);not null" json:"address_line"`
	Ward        string    `gorm:"type:varchar(128)" json:"ward"`
	District    string    `gorm:"type:varchar(128)" json:"district"`
	City        string    `gorm:"type:varchar(128);not null" json:"city"`
	IsDefault   bool      `gorm:"not null;default:false;index" json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Address) TableName() string { return "addresses" }

// ShippingAddress is the value shape shared by the profile snapshot, the
// address book and orders.
type ShippingAddress struct {
	FullName    string `json:"full_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	AddressLine string `json:"address_line"`
	Ward        string `json:"ward,omitempty"`
	District    string `json:"district,omitempty"`
	City        string `json:"city"`
}

// Full joins the non-empty parts, e.g. "12 Nguyễn Trãi, Phường 1, Quận 1, TP.HCM".
func (a ShippingAddress) Full() string {
	parts := make([]string, 0, 4)
	for _, s := range []string{a.AddressLine, a.Ward, a.District, a.City} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func (a ShippingAddress) Empty() bool {
	return strings.TrimSpace(a.AddressLine) == ""
}

func (p *CustomerProfile) Shipping() ShippingAddress {
	if p == nil {
		return ShippingAddress{}
	}
	return ShippingAddress{
		FullName:    p.FullName,
		Phone:       p.Phone,
		AddressLine: p.AddressLine,
		Ward:        p.Ward,
		District:    p.District,
		City:        p.City,
	}
}

func (a *Address) Shipping() ShippingAddress {
	if a == nil {
		return ShippingAddress{}
	}
	return ShippingAddress{
		FullName:    a.FullName,
		Phone:       a.Phone,
		AddressLine: a.AddressLine,
		Ward:        a.Ward,
		District:    a.District,
		City:        a.City,
	}
}
