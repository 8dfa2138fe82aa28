package app

import (
	"errors"
	"fmt"

	"myndiary/pkg/domain"
)

var (
	ErrEntryNotFound      = fmt.Errorf("%w: entry not found", domain.ErrNotFound)
	ErrEntryForbidden     = fmt.Errorf("%w: entry belongs to another user", domain.ErrForbidden)
	ErrEntryEmpty         = fmt.Errorf("%w: content or a media URL is required", domain.ErrValidation)
	ErrMissingMediaURL    = fmt.Errorf("%w: media URL required for entry type", domain.ErrValidation)
	ErrUnexpectedMediaURL = fmt.Errorf("%w: media URL does not match entry type", domain.ErrValidation)
	ErrInvalidEntryType   = fmt.Errorf("%w: invalid entry type", domain.ErrValidation)
	ErrEmptyPatch         = fmt.Errorf("%w: no fields to update", domain.ErrValidation)
	ErrNoFiles            = fmt.Errorf("%w: no files submitted", domain.ErrValidation)
	ErrMissingPrincipal   = fmt.Errorf("%w: missing user", domain.ErrUnauthorized)

	ErrConfigNotFound      = fmt.Errorf("%w: channel configuration not found", domain.ErrNotFound)
	ErrTemplateNotFound    = fmt.Errorf("%w: template not found", domain.ErrNotFound)
	ErrPhoneRequired       = fmt.Errorf("%w: phone number required", domain.ErrValidation)
	ErrInvalidWebhookToken = fmt.Errorf("%w: invalid or inactive webhook token", domain.ErrUnauthorized)
	ErrSendRateLimited     = fmt.Errorf("%w: wait before sending another message to this number", domain.ErrRateLimited)
	ErrSenderRateLimited   = fmt.Errorf("%w: too many messages from this sender", domain.ErrRateLimited)
	ErrMissingRecipient    = fmt.Errorf("%w: recipient and variables are required", domain.ErrValidation)
	ErrInvalidTestNumber   = fmt.Errorf("%w: invalid Italian mobile number", domain.ErrValidation)
	ErrTestsDisabled       = fmt.Errorf("%w: test messages are only available in development", domain.ErrForbidden)

	// ErrNoActiveConfig means no active channel configuration owns the
	// destination number of an inbound message.
	ErrNoActiveConfig      = errors.New("no active channel configuration")
	ErrLegacyDisabled      = errors.New("legacy webhook has no owning profile")
	// ErrInboundFailed means a stored inbound message produced no entry.
	ErrInboundFailed       = errors.New("inbound message could not be processed")
	ErrProviderUnavailable = errors.New("messaging provider unavailable")
	ErrSendFailed          = errors.New("send failed")
)
