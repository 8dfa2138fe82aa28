package app

import (
	"context"
	"fmt"

	"myndiary/pkg/messaging"
	"myndiary/pkg/phone"
)

// ProcessLegacyInbound handles the provider's account-wide webhook. Entries go
// to the configured legacy profile and each sender is limited to one message
// per send interval.
func (a *App) ProcessLegacyInbound(ctx context.Context, msg messaging.Inbound) (InboundResult, error) {
	from := phone.StripScheme(msg.From)
	if !a.limiter.Allow(ctx, "legacy:"+from) {
		return InboundResult{}, ErrSenderRateLimited
	}
	if a.legacyProfileID == 0 {
		return InboundResult{}, ErrLegacyDisabled
	}
	profile, ok, err := a.store.GetProfileByID(ctx, a.legacyProfileID)
	if err != nil {
		return InboundResult{}, fmt.Errorf("load legacy profile: %w", err)
	}
	if !ok {
		return InboundResult{}, fmt.Errorf("%w: profile %d not found", ErrLegacyDisabled, a.legacyProfileID)
	}
	record := a.inboundMessage(msg, phone.Format(phone.StripScheme(msg.To)))
	if err := a.store.AppendChannelMessage(ctx, record); err != nil {
		return InboundResult{}, fmt.Errorf("save message: %w", err)
	}
	entry, err := a.entryFromMessage(ctx, profile.ID, msg, record.ID)
	if err != nil {
		return InboundResult{}, err
	}
	return InboundResult{MessageID: record.ID, Entry: entry}, nil
}
