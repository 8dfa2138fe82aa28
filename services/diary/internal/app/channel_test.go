package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"myndiary/pkg/domain"
)

func TestGetOrCreateChannelConfigIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first, err := env.app.GetOrCreateChannelConfig(ctx, ada)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	second, err := env.app.GetOrCreateChannelConfig(ctx, ada)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if first.WebhookToken == "" || first.WebhookToken != second.WebhookToken || first.ID != second.ID {
		t.Fatalf("expected the same config twice: %+v vs %+v", first, second)
	}
	if first.Active {
		t.Fatalf("new configs start inactive")
	}
	if first.WebhookURL != "https://diary.test/api/whatsapp/webhook/"+first.WebhookToken {
		t.Fatalf("unexpected webhook url %q", first.WebhookURL)
	}
	other, err := env.app.GetOrCreateChannelConfig(ctx, bob)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if other.WebhookToken == first.WebhookToken {
		t.Fatalf("tokens must differ between users")
	}
}

func TestUpdateChannelConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	active := true
	if _, err := env.app.UpdateChannelConfig(ctx, ada, domain.ChannelConfigPatch{Active: &active}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("activation without a number should fail, got %v", err)
	}
	env.clock.Advance(time.Minute)
	number := "0039 333-123-4567"
	cfg, err := env.app.UpdateChannelConfig(ctx, ada, domain.ChannelConfigPatch{PhoneNumber: &number, Active: &active})
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if cfg.PhoneNumber != "+393331234567" || !cfg.Active {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.UpdatedAt.Equal(env.clock.Now()) {
		t.Fatalf("updated_at not refreshed: %v", cfg.UpdatedAt)
	}
	stored, ok, _ := env.store.GetChannelConfigByUser(ctx, ada.ID)
	if !ok || stored.PhoneNumber != cfg.PhoneNumber || !stored.Active {
		t.Fatalf("update not persisted: %+v", stored)
	}
}

func TestWebhookTokenStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg, err := env.app.GetOrCreateChannelConfig(ctx, ada)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, err := env.app.WebhookStatus(ctx, cfg.WebhookToken); err != nil {
		t.Fatalf("inactive token should still report status: %v", err)
	}
	if _, err := env.app.AuthorizeWebhook(ctx, cfg.WebhookToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("inactive token must not authorize, got %v", err)
	}
	if _, err := env.app.WebhookStatus(ctx, "nope"); !errors.Is(err, ErrInvalidWebhookToken) {
		t.Fatalf("unknown token should be unauthorized, got %v", err)
	}
	activateChannel(t, env, ada, "+393331234567")
	got, err := env.app.AuthorizeWebhook(ctx, cfg.WebhookToken)
	if err != nil || got.UserID != ada.ID {
		t.Fatalf("active token should authorize: %v %+v", err, got)
	}
}

func TestTemplates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.app.CreateTemplate(ctx, ada, TemplateInput{Name: "mood", Content: "How are you?", Type: "survey", EntryType: "text"})
	if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), "type must be one of") {
		t.Fatalf("expected oneof validation error, got %v", err)
	}
	_, err = env.app.CreateTemplate(ctx, ada, TemplateInput{Name: " ", Content: "x", Type: "question", EntryType: "text"})
	if !errors.Is(err, domain.ErrValidation) || !strings.Contains(err.Error(), "name is required") {
		t.Fatalf("expected required validation error, got %v", err)
	}

	first, err := env.app.CreateTemplate(ctx, ada, TemplateInput{Name: "mood", Content: "How are you?", Type: "Question", EntryType: "emoji"})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if first.Type != domain.TemplateQuestion || first.EntryType != domain.EntryEmoji {
		t.Fatalf("unexpected template: %+v", first)
	}
	env.clock.Advance(time.Second)
	second, err := env.app.CreateTemplate(ctx, ada, TemplateInput{Name: "photo", Content: "Send a photo", Type: "notification", EntryType: "image"})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	list, err := env.app.ListTemplates(ctx, ada)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest first: %+v", list)
	}
	if err := env.app.DeleteTemplate(ctx, bob, first.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("other users cannot delete, got %v", err)
	}
	if err := env.app.DeleteTemplate(ctx, ada, first.ID); err != nil {
		t.Fatalf("delete template: %v", err)
	}
}

func TestListChannelMessagesScopedToNumber(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	msgs, err := env.app.ListChannelMessages(ctx, ada, 0)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty list without config: %v %+v", err, msgs)
	}
	activateChannel(t, env, ada, "+393331234567")
	activateChannel(t, env, bob, "+393339999999")
	for _, to := range []string{"whatsapp:+393331234567", "whatsapp:+393339999999", "whatsapp:+393331234567"} {
		env.clock.Advance(time.Second)
		if _, err := env.app.ProcessInbound(ctx, inbound(map[string]string{"From": "whatsapp:+393400000000", "To": to, "Body": "hi"}), ""); err != nil {
			t.Fatalf("process inbound: %v", err)
		}
	}
	msgs, err = env.app.ListChannelMessages(ctx, ada, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected two messages for ada, got %d", len(msgs))
	}
	if !msgs[0].Timestamp.After(msgs[1].Timestamp) {
		t.Fatalf("expected newest first")
	}
}
