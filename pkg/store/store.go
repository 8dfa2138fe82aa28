package store

import (
	"context"
	"time"

	"myndiary/pkg/domain"
)

// Store defines persistence operations for profiles, diary entries and the
// chat channel tables.
//
// Creates that hit a unique constraint return an error wrapping
// domain.ErrConflict. Conditional mutations report whether a row matched.
type Store interface {
	// profiles
	GetProfileByID(ctx context.Context, id int64) (domain.Profile, bool, error)
	GetProfileByUserID(ctx context.Context, userID string) (domain.Profile, bool, error)
	GetProfileByIdentifier(ctx context.Context, identifier string) (domain.Profile, bool, error)
	CreateProfile(ctx context.Context, p domain.Profile) (domain.Profile, error)

	// entries
	CreateEntry(ctx context.Context, e domain.Entry) (domain.Entry, error)
	GetEntry(ctx context.Context, id int64) (domain.Entry, bool, error)
	UpdateEntry(ctx context.Context, e domain.Entry) (bool, error)
	DeleteEntry(ctx context.Context, id, profileID int64) (bool, error)
	ListEntries(ctx context.Context, profileID int64) ([]domain.Entry, error)

	// channel configuration
	CreateChannelConfig(ctx context.Context, cfg domain.ChannelConfig) error
	GetChannelConfigByUser(ctx context.Context, userID string) (domain.ChannelConfig, bool, error)
	GetChannelConfigByToken(ctx context.Context, token string) (domain.ChannelConfig, bool, error)
	FindActiveChannelConfig(ctx context.Context, phoneNumber string) (domain.ChannelConfig, bool, error)
	UpdateChannelConfig(ctx context.Context, cfg domain.ChannelConfig) (bool, error)

	// channel messages
	AppendChannelMessage(ctx context.Context, msg domain.ChannelMessage) error
	LinkMessageEntry(ctx context.Context, messageID string, entryID int64) error
	ListChannelMessages(ctx context.Context, to string, limit int) ([]domain.ChannelMessage, error)

	// templates
	CreateTemplate(ctx context.Context, t domain.Template) error
	GetTemplate(ctx context.Context, userID, id string) (domain.Template, bool, error)
	ListTemplates(ctx context.Context, userID string) ([]domain.Template, error)
	DeleteTemplate(ctx context.Context, userID, id string) (bool, error)
}

// Pinger is an optional capability used by health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultMessageLimit bounds ListChannelMessages when the caller passes zero.
const DefaultMessageLimit = 200

func nowUTC() time.Time {
	return time.Now().UTC()
}
