package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"myndiary/internal/ratelimit"
	"myndiary/pkg/domain"
	"myndiary/pkg/messaging"
	"myndiary/pkg/storage"
	"myndiary/pkg/store"
)

type sentMessage struct {
	To        string
	Variables map[string]string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendTemplate(_ context.Context, to string, variables map[string]string) (messaging.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return messaging.Receipt{}, f.err
	}
	f.sent = append(f.sent, sentMessage{To: to, Variables: variables})
	return messaging.Receipt{SID: "SM" + to, Status: "queued"}, nil
}

func (f *fakeSender) From() string { return messaging.DefaultFrom }

func (f *fakeSender) calls() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.MemoryStore
	sender  *fakeSender
	clock   *testClock
}

func newTestEnv(t *testing.T, opts ...func(*Config)) testEnv {
	t.Helper()
	env := testEnv{
		store:   store.NewMemoryStore(),
		objects: storage.NewMemoryStore("http://cdn.test"),
		sender:  &fakeSender{},
		clock:   &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	cfg := Config{
		Store:      env.store,
		Objects:    env.objects,
		Sender:     env.sender,
		Limiter:    ratelimit.NewMemoryIntervalLimiter(DefaultSendInterval, env.clock.Now),
		AppBaseURL: "https://diary.test/",
		Now:        env.clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	env.app = a
	return env
}

var (
	ada = domain.User{ID: "user-ada", Email: "ada@example.com"}
	bob = domain.User{ID: "user-bob", Email: "bob@example.com"}
)

func TestNewRequiresStores(t *testing.T) {
	if _, err := New(Config{Objects: storage.NewMemoryStore("")}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := New(Config{Store: store.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without object store")
	}
}

func TestNewRejectsBadTestSchedule(t *testing.T) {
	_, err := New(Config{
		Store:        store.NewMemoryStore(),
		Objects:      storage.NewMemoryStore(""),
		Development:  true,
		TestSchedule: "not a schedule",
	})
	if err == nil {
		t.Fatalf("expected schedule parse error")
	}
}
