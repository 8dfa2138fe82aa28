package domain

import (
	"strings"
	"time"
)

type EntryType string

const (
	EntryText  EntryType = "text"
	EntryEmoji EntryType = "emoji"
	EntryImage EntryType = "image"
	EntryAudio EntryType = "audio"
	EntryVideo EntryType = "video"
	EntryVoice EntryType = "voice"
)

// ParseEntryType accepts any casing, since the store keeps types upper-case.
func ParseEntryType(value string) (EntryType, bool) {
	switch t := EntryType(strings.ToLower(strings.TrimSpace(value))); t {
	case EntryText, EntryEmoji, EntryImage, EntryAudio, EntryVideo, EntryVoice:
		return t, true
	default:
		return "", false
	}
}

// StoreValue is the casing persisted in the entries table.
func (t EntryType) StoreValue() string {
	return strings.ToUpper(string(t))
}

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageStatus string

const (
	MessageReceived  MessageStatus = "received"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

type TemplateType string

const (
	TemplateQuestion     TemplateType = "question"
	TemplateNotification TemplateType = "notification"
)

// User is the authenticated caller as asserted by the identity provider.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Profile struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"userId"`
	Identifier string    `json:"phoneNumber"`
	Username   string    `json:"username"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Entry struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Type      EntryType  `json:"type"`
	Content   string     `json:"content"`
	ImageURL  string     `json:"image_url,omitempty"`
	AudioURL  string     `json:"audio_url,omitempty"`
	VideoURL  string     `json:"video_url,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// EntryInput carries the fields of a new entry.
type EntryInput struct {
	Content  string    `json:"content"`
	Type     EntryType `json:"type"`
	ImageURL string    `json:"image_url,omitempty"`
	AudioURL string    `json:"audio_url,omitempty"`
	VideoURL string    `json:"video_url,omitempty"`
}

// EntryPatch holds optional fields for a partial update; nil means unchanged.
type EntryPatch struct {
	Content  *string    `json:"content,omitempty"`
	Type     *EntryType `json:"type,omitempty"`
	ImageURL *string    `json:"image_url,omitempty"`
	AudioURL *string    `json:"audio_url,omitempty"`
	VideoURL *string    `json:"video_url,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p EntryPatch) Empty() bool {
	return p.Content == nil && p.Type == nil && p.ImageURL == nil && p.AudioURL == nil && p.VideoURL == nil
}

// Apply returns a copy of e with the patch fields set.
func (p EntryPatch) Apply(e Entry) Entry {
	if p.Content != nil {
		e.Content = *p.Content
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.ImageURL != nil {
		e.ImageURL = *p.ImageURL
	}
	if p.AudioURL != nil {
		e.AudioURL = *p.AudioURL
	}
	if p.VideoURL != nil {
		e.VideoURL = *p.VideoURL
	}
	return e
}

// DayEntries groups the entries of one calendar day.
type DayEntries struct {
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
}

type ChannelConfig struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	PhoneNumber  string    `json:"phone_number"`
	WebhookToken string    `json:"webhook_token"`
	WebhookURL   string    `json:"webhook_url"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChannelConfigPatch holds the user-editable channel settings.
type ChannelConfigPatch struct {
	PhoneNumber *string `json:"phone_number,omitempty"`
	Active      *bool   `json:"active,omitempty"`
}

type ChannelMessage struct {
	ID          string            `json:"id"`
	Direction   MessageDirection  `json:"direction"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Body        string            `json:"body"`
	MediaURL    string            `json:"media_url,omitempty"`
	MediaType   string            `json:"media_type,omitempty"`
	Status      MessageStatus     `json:"status"`
	ProviderSID string            `json:"provider_sid,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	EntryID     *int64            `json:"entry_id,omitempty"`
	TemplateID  string            `json:"template_id,omitempty"`
}

type Template struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Content   string       `json:"content"`
	Type      TemplateType `json:"type"`
	EntryType EntryType    `json:"entry_type"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
