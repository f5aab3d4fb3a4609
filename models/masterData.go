package models

import "time"

// Master data. These are read-only reference entities for the allocation and
// ledger engines; their CRUD lives with the admin surfaces, not here.

type Part struct {
	ID         int       `gorm:"primary_key" json:"id"`
	PartNumber string    `gorm:"size:100;uniqueIndex;not null" json:"part_number"`
	PartName   string    `gorm:"size:255" json:"part_name"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type MajorLocation struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Storeroom struct {
	ID              int       `gorm:"primary_key" json:"id"`
	Name            string    `gorm:"size:255;not null" json:"name"`
	MajorLocationId int       `gorm:"index;not null" json:"major_location_id"`
	IsActive        *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Location struct {
	ID          int       `gorm:"primary_key" json:"id"`
	StoreroomId int       `gorm:"index;not null" json:"storeroom_id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Bin struct {
	ID         int       `gorm:"primary_key" json:"id"`
	LocationId int       `gorm:"index;not null" json:"location_id"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
