package app

import (
	"context"
	"fmt"
	"strings"

	"myndiary/internal/util"
	"myndiary/pkg/domain"
	"myndiary/pkg/phone"
)

// SendResult describes an accepted outbound message.
type SendResult struct {
	MessageID string `json:"messageId"`
	SID       string `json:"messageSid"`
	Status    string `json:"status,omitempty"`
	To        string `json:"to"`
}

// SendTemplate sends one of the caller's templates to the caller's configured
// number.
func (a *App) SendTemplate(ctx context.Context, user domain.User, templateID string) (SendResult, error) {
	if strings.TrimSpace(user.ID) == "" {
		return SendResult{}, ErrMissingPrincipal
	}
	tmpl, ok, err := a.store.GetTemplate(ctx, user.ID, templateID)
	if err != nil {
		return SendResult{}, fmt.Errorf("load template: %w", err)
	}
	if !ok {
		return SendResult{}, ErrTemplateNotFound
	}
	cfg, ok, err := a.store.GetChannelConfigByUser(ctx, user.ID)
	if err != nil {
		return SendResult{}, fmt.Errorf("load channel config: %w", err)
	}
	if !ok {
		return SendResult{}, ErrConfigNotFound
	}
	to := phone.Format(cfg.PhoneNumber)
	if to == "" {
		return SendResult{}, ErrPhoneRequired
	}
	return a.dispatch(ctx, to, map[string]string{"1": tmpl.Content}, tmpl.ID, true)
}

// SendRaw sends the content template with caller-supplied variables.
func (a *App) SendRaw(ctx context.Context, to string, variables map[string]string) (SendResult, error) {
	to = phone.Format(phone.StripScheme(to))
	if to == "" || len(variables) == 0 {
		return SendResult{}, ErrMissingRecipient
	}
	return a.dispatch(ctx, to, variables, "", true)
}

// dispatch calls the provider and records the outbound message whatever the
// outcome. limited applies the per-destination send interval.
func (a *App) dispatch(ctx context.Context, to string, variables map[string]string, templateID string, limited bool) (SendResult, error) {
	if a.sender == nil {
		return SendResult{}, ErrProviderUnavailable
	}
	if limited && !a.limiter.Allow(ctx, "send:"+to) {
		return SendResult{}, ErrSendRateLimited
	}
	receipt, sendErr := a.sender.SendTemplate(ctx, to, variables)

	record := domain.ChannelMessage{
		ID:          util.NewID(),
		Direction:   domain.DirectionOutbound,
		From:        phone.StripScheme(a.sender.From()),
		To:          to,
		Body:        variables["1"],
		Status:      domain.MessageSent,
		ProviderSID: receipt.SID,
		Timestamp:   a.nowUTC(),
		TemplateID:  templateID,
	}
	metadata := make(map[string]string, len(variables)+1)
	for k, v := range variables {
		metadata["var_"+k] = v
	}
	if sendErr != nil {
		record.Status = domain.MessageFailed
		metadata["error"] = sendErr.Error()
	} else if receipt.Status != "" {
		metadata["provider_status"] = receipt.Status
	}
	record.Metadata = metadata
	if err := a.store.AppendChannelMessage(ctx, record); err != nil {
		util.LoggerFromContext(ctx).Error("record outbound message failed", "to", to, "err", err)
	}

	if sendErr != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, sendErr)
	}
	return SendResult{MessageID: record.ID, SID: receipt.SID, Status: receipt.Status, To: to}, nil
}
