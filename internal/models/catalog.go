package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Product is read from the storefront catalog. The pipeline only writes
// Stock (best-effort decrement after an order).
type Product struct {
	ID          uuid.UUID      `gorm:"type:char(36);primaryKey" json:"id"`
	Name        string         `gorm:"type:varchar(255);not null" json:"name"`
	Slug        string         `gorm:"type:varchar(255);uniqueIndex" json:"slug"`
	Price       int64          `gorm:"not null" json:"price"`
	Stock       int            `gorm:"not null;default:0" json:"stock"`
	Category    string         `gorm:"type:varchar(128)" json:"category,omitempty"`
	Description string         `gorm:"type:text" json:"description,omitempty"`
	IsActive    bool           `gorm:"not null;default:true;index" json:"is_active"`
	Images      []ProductImage `gorm:"foreignKey:ProductID" json:"images,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Product) TableName() string { return "products" }

type ProductImage struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID    uuid.UUID `gorm:"type:char(36);index;not null" json:"product_id"`
	URL          string    `gorm:"type:varchar(1024);not null" json:"url"`
	IsPrimary    bool      `gorm:"not null;default:false" json:"is_primary"`
	DisplayOrder *int      `json:"display_order,omitempty"`
}

func (ProductImage) TableName() string { return "product_images" }

const missingDisplayOrder = 999

// SortImages orders images primary first, then by display order (missing
// order sorts as 999).
func SortImages(images []ProductImage) {
	order := func(img ProductImage) int {
		if img.DisplayOrder == nil {
			return missingDisplayOrder
		}
		return *img.DisplayOrder
	}
	sort.SliceStable(images, func(i, j int) bool {
		if images[i].IsPrimary != images[j].IsPrimary {
			return images[i].IsPrimary
		}
		return order(images[i]) < order(images[j])
	})
}

// PrimaryImageURL returns the primary image, falling back to the first one.
func (p *Product) PrimaryImageURL() string {
	if p == nil || len(p.Images) == 0 {
		return ""
	}
	for _, img := range p.Images {
		if img.IsPrimary {
			return img.URL
		}
	}
	return p.Images[0].URL
}

func (p *Product) InStock() bool { return p != nil && p.Stock > 0 }
