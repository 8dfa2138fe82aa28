package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"myndiary/internal/util"
	"myndiary/pkg/domain"
	"myndiary/pkg/phone"
)

// webhookPath prefixes the per-user webhook URL handed to the provider.
const webhookPath = "/api/whatsapp/webhook/"

// TemplateInput is a new message template.
type TemplateInput struct {
	Name      string `json:"name" validate:"required,max=100"`
	Content   string `json:"content" validate:"required,max=1600"`
	Type      string `json:"type" validate:"required,oneof=question notification"`
	EntryType string `json:"entry_type" validate:"required,oneof=text emoji image audio video voice"`
}

// GetOrCreateChannelConfig returns the caller's channel configuration, creating
// an inactive one with a fresh webhook token on first use.
func (a *App) GetOrCreateChannelConfig(ctx context.Context, user domain.User) (domain.ChannelConfig, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.ChannelConfig{}, ErrMissingPrincipal
	}
	cfg, ok, err := a.store.GetChannelConfigByUser(ctx, user.ID)
	if err != nil {
		return domain.ChannelConfig{}, fmt.Errorf("load channel config: %w", err)
	}
	if ok {
		return cfg, nil
	}
	token, err := util.NewToken()
	if err != nil {
		return domain.ChannelConfig{}, fmt.Errorf("generate webhook token: %w", err)
	}
	now := a.nowUTC()
	cfg = domain.ChannelConfig{
		ID:           util.NewID(),
		UserID:       user.ID,
		WebhookToken: token,
		WebhookURL:   a.WebhookURL(token),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = a.store.CreateChannelConfig(ctx, cfg)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return domain.ChannelConfig{}, fmt.Errorf("create channel config: %w", err)
	}
	existing, ok, findErr := a.store.GetChannelConfigByUser(ctx, user.ID)
	if findErr != nil {
		return domain.ChannelConfig{}, fmt.Errorf("load channel config: %w", findErr)
	}
	if !ok {
		return domain.ChannelConfig{}, fmt.Errorf("create channel config: %w", err)
	}
	return existing, nil
}

// WebhookURL is the public URL the provider posts inbound messages to.
func (a *App) WebhookURL(token string) string {
	return a.appBaseURL + webhookPath + token
}

// UpdateChannelConfig sets the phone number (canonicalized) and the active flag.
func (a *App) UpdateChannelConfig(ctx context.Context, user domain.User, patch domain.ChannelConfigPatch) (domain.ChannelConfig, error) {
	cfg, err := a.GetOrCreateChannelConfig(ctx, user)
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	if patch.PhoneNumber != nil {
		cfg.PhoneNumber = phone.Format(*patch.PhoneNumber)
	}
	if patch.Active != nil {
		cfg.Active = *patch.Active
	}
	if cfg.Active && cfg.PhoneNumber == "" {
		return domain.ChannelConfig{}, fmt.Errorf("%w: set a phone number before activating", ErrPhoneRequired)
	}
	cfg.UpdatedAt = a.nowUTC()
	ok, err := a.store.UpdateChannelConfig(ctx, cfg)
	if err != nil {
		return domain.ChannelConfig{}, fmt.Errorf("update channel config: %w", err)
	}
	if !ok {
		return domain.ChannelConfig{}, ErrConfigNotFound
	}
	return cfg, nil
}

// WebhookStatus reports the configuration behind token, active or not.
func (a *App) WebhookStatus(ctx context.Context, token string) (domain.ChannelConfig, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ChannelConfig{}, ErrInvalidWebhookToken
	}
	cfg, ok, err := a.store.GetChannelConfigByToken(ctx, token)
	if err != nil {
		return domain.ChannelConfig{}, fmt.Errorf("load channel config: %w", err)
	}
	if !ok {
		return domain.ChannelConfig{}, ErrInvalidWebhookToken
	}
	return cfg, nil
}

// AuthorizeWebhook resolves token to an active configuration.
func (a *App) AuthorizeWebhook(ctx context.Context, token string) (domain.ChannelConfig, error) {
	cfg, err := a.WebhookStatus(ctx, token)
	if err != nil {
		return domain.ChannelConfig{}, err
	}
	if !cfg.Active {
		return domain.ChannelConfig{}, ErrInvalidWebhookToken
	}
	return cfg, nil
}

// ListChannelMessages returns the messages addressed to the caller's number,
// newest first. Without a configured number the list is empty.
func (a *App) ListChannelMessages(ctx context.Context, user domain.User, limit int) ([]domain.ChannelMessage, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, ErrMissingPrincipal
	}
	cfg, ok, err := a.store.GetChannelConfigByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load channel config: %w", err)
	}
	if !ok || cfg.PhoneNumber == "" {
		return []domain.ChannelMessage{}, nil
	}
	msgs, err := a.store.ListChannelMessages(ctx, cfg.PhoneNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("list channel messages: %w", err)
	}
	return msgs, nil
}

// ListTemplates returns the caller's templates, newest first.
func (a *App) ListTemplates(ctx context.Context, user domain.User) ([]domain.Template, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, ErrMissingPrincipal
	}
	templates, err := a.store.ListTemplates(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// CreateTemplate validates in and stores it for the caller.
func (a *App) CreateTemplate(ctx context.Context, user domain.User, in TemplateInput) (domain.Template, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.Template{}, ErrMissingPrincipal
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Content = strings.TrimSpace(in.Content)
	in.Type = strings.ToLower(strings.TrimSpace(in.Type))
	in.EntryType = strings.ToLower(strings.TrimSpace(in.EntryType))
	if err := a.validate.Struct(in); err != nil {
		return domain.Template{}, validationError(err)
	}
	now := a.nowUTC()
	t := domain.Template{
		ID:        util.NewID(),
		UserID:    user.ID,
		Name:      in.Name,
		Content:   in.Content,
		Type:      domain.TemplateType(in.Type),
		EntryType: domain.EntryType(in.EntryType),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateTemplate(ctx, t); err != nil {
		return domain.Template{}, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

// DeleteTemplate removes one of the caller's templates.
func (a *App) DeleteTemplate(ctx context.Context, user domain.User, id string) error {
	if strings.TrimSpace(user.ID) == "" {
		return ErrMissingPrincipal
	}
	ok, err := a.store.DeleteTemplate(ctx, user.ID, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if !ok {
		return ErrTemplateNotFound
	}
	return nil
}

// validationError flattens validator output into one domain validation error.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fieldName(fe.Field())))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", fieldName(fe.Field()), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fieldName(fe.Field()), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fieldName(fe.Field())))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(parts, "; "))
}

func fieldName(field string) string {
	switch field {
	case "EntryType":
		return "entry_type"
	default:
		return strings.ToLower(field)
	}
}
