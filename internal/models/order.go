package models

import (
	"time"

	"github.com/google/uuid"
)

type CartItem struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:char(26);not null;uniqueIndex:ux_cart_line,priority:1" json:"conversation_id"`
	ProductID      uuid.UUID `gorm:"type:char(36);not null;uniqueIndex:ux_cart_line,priority:2" json:"product_id"`
	Size           string    `gorm:"type:varchar(16);not null;default:'';uniqueIndex:ux_cart_line,priority:3" json:"size"`
	ProductName    string    `gorm:"type:varchar(255)" json:"product_name"`
	Quantity       int       `gorm:"not null" json:"quantity"`
	Price          int64     `gorm:"not null" json:"price"`
	ImageURL       string    `gorm:"type:varchar(1024)" json:"image_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (CartItem) TableName() string { return "cart_items" }

func (c CartItem) LineTotal() int64 { return c.Price * int64(c.Quantity) }

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID             uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber    string      `gorm:"type:varchar(40);uniqueIndex;not null" json:"order_number"`
	ConversationID string      `gorm:"type:char(26);index;not null" json:"conversation_id"`
	UserID         *uint64     `gorm:"index" json:"user_id,omitempty"`
	CustomerName   string      `gorm:"type:varchar(128);not null" json:"customer_name"`
	CustomerPhone  string      `gorm:"type:varchar(20);not null" json:"customer_phone"`
	AddressLine    string      `gorm:"type:varchar(255);not null" json:"address_line"`
	Ward           string      `gorm:"type:varchar(128)" json:"ward"`
	District       string      `gorm:"type:varchar(128)" json:"district"`
	City           string      `gorm:"type:varchar(128);not null" json:"city"`
	Subtotal       int64       `gorm:"not null" json:"subtotal"`
	ShippingFee    int64       `gorm:"not null" json:"shipping_fee"`
	Discount       int64       `gorm:"not null;default:0" json:"discount"`
	Total          int64       `gorm:"not null" json:"total"`
	Status         OrderStatus `gorm:"type:varchar(16);not null;default:'pending'" json:"status"`
	Items          []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) Shipping() ShippingAddress {
	return ShippingAddress{
		FullName:    o.CustomerName,
		Phone:       o.CustomerPhone,
		AddressLine: o.AddressLine,
		Ward:        o.Ward,
		District:    o.District,
		City:        o.City,
	}
}

type OrderItem struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     uint64    `gorm:"index;not null" json:"order_id"`
	ProductID   uuid.UUID `gorm:"type:char(36);not null" json:"product_id"`
	ProductName string    `gorm:"type:varchar(255)" json:"product_name"`
	Size        string    `gorm:"type:varchar(16)" json:"size"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	Price       int64     `gorm:"not null" json:"price"`
	ImageURL    string    `gorm:"type:varchar(1024)" json:"image_url,omitempty"`
}

func (OrderItem) TableName() string { return "order_items" }
