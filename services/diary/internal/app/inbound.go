package app

import (
	"context"
	"fmt"
	"strings"

	"myndiary/internal/util"
	"myndiary/pkg/domain"
	"myndiary/pkg/messaging"
	"myndiary/pkg/phone"
)

// InboundResult is the outcome of turning a chat message into an entry.
type InboundResult struct {
	MessageID string       `json:"messageId"`
	Entry     domain.Entry `json:"entry"`
}

// ProcessInbound records msg and creates a diary entry for the owner of the
// active configuration of its destination number. When ownerID is set the
// configuration must belong to that user.
func (a *App) ProcessInbound(ctx context.Context, msg messaging.Inbound, ownerID string) (InboundResult, error) {
	to := phone.Format(phone.StripScheme(msg.To))
	if to == "" {
		return InboundResult{}, fmt.Errorf("%w: destination number required", domain.ErrValidation)
	}
	cfg, ok, err := a.store.FindActiveChannelConfig(ctx, to)
	if err != nil {
		return InboundResult{}, fmt.Errorf("find channel config: %w", err)
	}
	if !ok || (ownerID != "" && cfg.UserID != ownerID) {
		return InboundResult{}, fmt.Errorf("%w for %s", ErrNoActiveConfig, to)
	}
	record := a.inboundMessage(msg, to)
	if err := a.store.AppendChannelMessage(ctx, record); err != nil {
		return InboundResult{}, fmt.Errorf("save message: %w", err)
	}
	profile, err := a.EnsureProfile(ctx, domain.User{ID: cfg.UserID}, cfg.PhoneNumber)
	if err != nil {
		return InboundResult{}, fmt.Errorf("%w: message %s: %v", ErrInboundFailed, record.ID, err)
	}
	entry, err := a.entryFromMessage(ctx, profile.ID, msg, record.ID)
	if err != nil {
		return InboundResult{}, fmt.Errorf("%w: message %s: %v", ErrInboundFailed, record.ID, err)
	}
	return InboundResult{MessageID: record.ID, Entry: entry}, nil
}

func (a *App) inboundMessage(msg messaging.Inbound, to string) domain.ChannelMessage {
	record := domain.ChannelMessage{
		ID:          util.NewID(),
		Direction:   domain.DirectionInbound,
		From:        phone.StripScheme(msg.From),
		To:          to,
		Body:        msg.Body,
		Status:      domain.MessageReceived,
		ProviderSID: msg.MessageSID,
		Metadata:    msg.Extra,
		Timestamp:   a.nowUTC(),
	}
	if msg.HasMedia() {
		record.MediaURL = msg.MediaURL0
		record.MediaType = msg.MediaContentType0
	}
	return record
}

// entryFromMessage creates the entry for a stored message and links the two.
// A failed link leaves the entry in place.
func (a *App) entryFromMessage(ctx context.Context, profileID int64, msg messaging.Inbound, messageID string) (domain.Entry, error) {
	entry, err := a.newEntry(classify(msg))
	if err != nil {
		return domain.Entry{}, err
	}
	entry.UserID = profileID
	entry, err = a.insertEntry(ctx, entry)
	if err != nil {
		return domain.Entry{}, err
	}
	if err := a.store.LinkMessageEntry(ctx, messageID, entry.ID); err != nil {
		util.LoggerFromContext(ctx).Warn("link message to entry failed", "message_id", messageID, "entry_id", entry.ID, "err", err)
	}
	return entry, nil
}

// classify maps a message to entry fields: text by default, or the media kind
// of the first attachment.
func classify(msg messaging.Inbound) domain.EntryInput {
	in := domain.EntryInput{Type: domain.EntryText, Content: msg.Body}
	if !msg.HasMedia() {
		return in
	}
	ct := strings.ToLower(msg.MediaContentType0)
	switch {
	case strings.HasPrefix(ct, "image/"):
		in.Type, in.ImageURL = domain.EntryImage, msg.MediaURL0
	case strings.HasPrefix(ct, "audio/"):
		in.Type, in.AudioURL = domain.EntryAudio, msg.MediaURL0
	case strings.HasPrefix(ct, "video/"):
		in.Type, in.VideoURL = domain.EntryVideo, msg.MediaURL0
	}
	return in
}
