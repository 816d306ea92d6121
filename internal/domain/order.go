package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Cart struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    string     `gorm:"size:36;uniqueIndex;not null" json:"user_id"`
	Items     []CartItem `gorm:"foreignKey:CartID" json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (c *Cart) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type CartItem struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CartID    string    `gorm:"size:36;index:idx_cart_car,unique;not null" json:"cart_id"`
	CarID     string    `gorm:"size:36;index:idx_cart_car,unique;not null" json:"car_id"`
	Car       *Car      `gorm:"foreignKey:CarID" json:"car,omitempty"`
	Quantity  int       `gorm:"not null;default:1" json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

func (i *CartItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID        string        `gorm:"primaryKey;size:36" json:"id"`
	UserID    string        `gorm:"size:36;index;not null" json:"user_id"`
	OrderCode int64         `gorm:"uniqueIndex;not null" json:"order_code"`
	Status    OrderStatus   `gorm:"size:16;not null;default:pending" json:"status"`
	Total     int64         `gorm:"not null" json:"total"`
	Details   []OrderDetail `gorm:"foreignKey:OrderID" json:"details"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// OrderDetail snapshots the unit price at purchase time so later catalog
// edits do not rewrite order history.
type OrderDetail struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	OrderID   string    `gorm:"size:36;index;not null" json:"order_id"`
	CarID     string    `gorm:"size:36;index;not null" json:"car_id"`
	Car       *Car      `gorm:"foreignKey:CarID" json:"car,omitempty"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	UnitPrice int64     `gorm:"not null" json:"unit_price"`
	CreatedAt time.Time `json:"created_at"`
}

func (d *OrderDetail) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
