package model

import (
	"time"
)

// Product represents a catalog item. ImageURL is server-managed: either the
// configured placeholder or /images/<uuid><ext> for an uploaded file. The
// uploaded file itself is transient request input and never stored as a column.
type Product struct {
	ID             uint       `json:"id" gorm:"primarykey"`
	Name           string     `json:"name" gorm:"type:varchar(20);not null;uniqueIndex"`
	Description    string     `json:"description" gorm:"type:text;not null"`
	ProductionDate time.Time  `json:"production_date" gorm:"not null"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdatedAt  *time.Time `json:"last_updated_at,omitempty"`
	ImageURL       string     `json:"image_url" gorm:"type:varchar(255)"`
	CategoryID     uint       `json:"category_id"`
	Category       *Category  `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
}

// Category groups products. The Products back-reference is excluded from
// JSON output to avoid cyclic payloads.
type Category struct {
	ID       uint      `json:"id" gorm:"primarykey"`
	Name     string    `json:"name" gorm:"type:varchar(100);not null"`
	Products []Product `json:"-" gorm:"foreignKey:CategoryID"`
}
