package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"myndiary/pkg/phone"
)

const (
	defaultTestSchedule = "@every 1m"
	testIntervalLabel   = "1 minute"
	testMessageText     = "Test automatico"
	// TestNumberExample is shown to clients that submit a malformed number.
	TestNumberExample = "+393331234567"
)

const (
	TestStarted        = "started"
	TestAlreadyRunning = "already_running"
	TestRestarted      = "restarted"
)

// TestRun describes the running test message job.
type TestRun struct {
	Status   string `json:"status"`
	Number   string `json:"testNumber"`
	Interval string `json:"interval"`
}

// testScheduler sends the content template to one number on a fixed schedule.
// State is process-local.
type testScheduler struct {
	app      *App
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	number  string
	running bool
}

func newTestScheduler(a *App, schedule string) (*testScheduler, error) {
	if schedule == "" {
		schedule = defaultTestSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("parse test schedule: %w", err)
	}
	return &testScheduler{app: a, schedule: schedule, cron: cron.New()}, nil
}

// StartTestMessages starts, keeps or retargets the test job for rawNumber.
func (a *App) StartTestMessages(ctx context.Context, rawNumber string) (TestRun, error) {
	if !a.development || a.tests == nil {
		return TestRun{}, ErrTestsDisabled
	}
	number := phone.Format(rawNumber)
	if number == "" || !phone.IsItalianMobileE164(number) {
		return TestRun{}, fmt.Errorf("%w: received %q", ErrInvalidTestNumber, rawNumber)
	}
	if a.sender == nil {
		return TestRun{}, ErrProviderUnavailable
	}
	status, err := a.tests.start(number)
	if err != nil {
		return TestRun{}, err
	}
	slog.Info("test messages scheduled", "to", number, "status", status)
	return TestRun{Status: status, Number: number, Interval: testIntervalLabel}, nil
}

func (s *testScheduler) start(number string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.number == number {
		return TestAlreadyRunning, nil
	}
	status := TestStarted
	if s.running {
		s.cron.Remove(s.entry)
		status = TestRestarted
	}
	id, err := s.cron.AddFunc(s.schedule, func() { s.send(number) })
	if err != nil {
		return "", fmt.Errorf("schedule test messages: %w", err)
	}
	if !s.running {
		s.cron.Start()
	}
	s.entry, s.number, s.running = id, number, true
	return status, nil
}

// send bypasses the destination limiter; the schedule already bounds the rate.
func (s *testScheduler) send(number string) {
	a := s.app
	vars := map[string]string{
		"1": testMessageText,
		"2": a.now().In(a.location).Format("15:04:05"),
	}
	if _, err := a.dispatch(context.Background(), number, vars, "", false); err != nil {
		slog.Warn("test message failed", "to", number, "err", err)
	}
}

func (s *testScheduler) stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	if running {
		s.cron.Remove(s.entry)
	}
	s.running = false
	s.mu.Unlock()
	if !running {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
