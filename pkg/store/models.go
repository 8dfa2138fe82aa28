package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names follow the schema the web
// client was first built against.
type ProfileModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	UserID      string    `gorm:"uniqueIndex;not null"`
	PhoneNumber string    `gorm:"uniqueIndex;not null"`
	Username    string    `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (ProfileModel) TableName() string { return "profiles" }

type EntryModel struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	UserID    int64      `gorm:"not null;index:idx_diary_entries_user_created,priority:1"`
	Type      string     `gorm:"not null"`
	Content   string     `gorm:"type:text;not null;default:''"`
	ImageURL  *string    `gorm:"column:image_url"`
	AudioURL  *string    `gorm:"column:audio_url"`
	VideoURL  *string    `gorm:"column:video_url"`
	CreatedAt time.Time  `gorm:"not null;index:idx_diary_entries_user_created,priority:2,sort:desc"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime:false"`
}

func (EntryModel) TableName() string { return "diary_entries" }

type ChannelConfigModel struct {
	ID           string    `gorm:"primaryKey"`
	UserID       string    `gorm:"uniqueIndex;not null"`
	PhoneNumber  string    `gorm:"index"`
	WebhookToken string    `gorm:"uniqueIndex;not null"`
	WebhookURL   string    `gorm:"not null"`
	Active       bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (ChannelConfigModel) TableName() string { return "whatsapp_config" }

type ChannelMessageModel struct {
	ID          string         `gorm:"primaryKey"`
	Direction   string         `gorm:"not null"`
	From        string         `gorm:"column:from;not null"`
	To          string         `gorm:"column:to;not null;index"`
	Body        string         `gorm:"type:text;not null"`
	MediaURL    *string        `gorm:"column:media_url"`
	MediaType   *string        `gorm:"column:media_type"`
	Status      string         `gorm:"not null"`
	ProviderSID *string        `gorm:"column:provider_sid"`
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	Timestamp   time.Time      `gorm:"not null;index"`
	EntryID     *int64         `gorm:"index"`
	TemplateID  *string
}

func (ChannelMessageModel) TableName() string { return "whatsapp_messages" }

type TemplateModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Name      string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	Type      string    `gorm:"not null"`
	EntryType string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (TemplateModel) TableName() string { return "whatsapp_templates" }
