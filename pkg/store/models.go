package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID              string `gorm:"primaryKey"`
	Email           string `gorm:"uniqueIndex;not null"`
	PasswordHash    string `gorm:"not null"`
	Role            string `gorm:"not null;default:user"`
	MaxLeads        *int
	MaxForms        *int
	CanPublishForms bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time
}

func (UserModel) TableName() string { return "users" }

type FormModel struct {
	ID        string    `gorm:"primaryKey"`
	OwnerID   string    `gorm:"not null;index"`
	Name      string    `gorm:"not null"`
	IsActive  bool      `gorm:"not null;default:true"`
	LeadCount int       `gorm:"not null;default:0"`
	LeadLimit int       `gorm:"not null;default:20"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (FormModel) TableName() string { return "forms" }

// LeadModel carries the (form_id, email) unique constraint that closes the
// duplicate-submission race.
type LeadModel struct {
	ID             string         `gorm:"primaryKey"`
	FormID         string         `gorm:"not null;uniqueIndex:uq_leads_form_email,priority:1"`
	Email          string         `gorm:"not null;uniqueIndex:uq_leads_form_email,priority:2"`
	URL            string         `gorm:"type:text;not null"`
	ResultText     *string        `gorm:"type:text"`
	ResultImageURL *string        `gorm:"type:text"`
	Status         string         `gorm:"not null"`
	Origin         string         `gorm:"not null;default:visitor;index"`
	Meta           datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}

func (LeadModel) TableName() string { return "leads" }

type FormContentModel struct {
	FormID    string `gorm:"primaryKey"`
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (FormContentModel) TableName() string { return "form_content" }

type SystemSettingModel struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (SystemSettingModel) TableName() string { return "system_settings" }
