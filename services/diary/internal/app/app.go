package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"myndiary/internal/ratelimit"
	"myndiary/pkg/messaging"
	"myndiary/pkg/storage"
	"myndiary/pkg/store"
)

// DefaultSendInterval is the minimum gap between two sends to one destination.
const DefaultSendInterval = 60 * time.Second

// Config holds runtime configuration for the diary application.
type Config struct {
	Store   store.Store
	Objects storage.ObjectStore
	// Sender may be nil; sends then fail with ErrProviderUnavailable.
	Sender  messaging.Sender
	Limiter ratelimit.IntervalLimiter

	AppBaseURL string
	Location   *time.Location
	// LegacyProfileID owns entries created by the legacy provider webhook.
	// Zero disables that webhook.
	LegacyProfileID int64
	Development     bool
	// TestSchedule is the cron spec of the development test messages.
	TestSchedule string
	Now          func() time.Time
}

// App is the core application service wiring together storage, media and the
// chat channel.
type App struct {
	store           store.Store
	objects         storage.ObjectStore
	sender          messaging.Sender
	limiter         ratelimit.IntervalLimiter
	validate        *validator.Validate
	appBaseURL      string
	location        *time.Location
	legacyProfileID int64
	development     bool
	now             func() time.Time
	tests           *testScheduler
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewMemoryIntervalLimiter(DefaultSendInterval, cfg.Now)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	a := &App{
		store:           cfg.Store,
		objects:         cfg.Objects,
		sender:          cfg.Sender,
		limiter:         limiter,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		appBaseURL:      strings.TrimRight(strings.TrimSpace(cfg.AppBaseURL), "/"),
		location:        loc,
		legacyProfileID: cfg.LegacyProfileID,
		development:     cfg.Development,
		now:             now,
	}
	if cfg.Development {
		tests, err := newTestScheduler(a, cfg.TestSchedule)
		if err != nil {
			return nil, err
		}
		a.tests = tests
	}
	return a, nil
}

// Ping checks the backing store when it supports health checks.
func (a *App) Ping(ctx context.Context) error {
	if p, ok := a.store.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops background work started by the application.
func (a *App) Close(ctx context.Context) error {
	if a.tests == nil {
		return nil
	}
	return a.tests.stop(ctx)
}

// Development reports whether development-only endpoints are enabled.
func (a *App) Development() bool {
	return a.development
}

func (a *App) nowUTC() time.Time {
	return a.now().UTC()
}
