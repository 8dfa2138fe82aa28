package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"myndiary/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs local runs without a
// database and the service tests.
type MemoryStore struct {
	mu        sync.RWMutex
	profileID int64
	entryID   int64
	profiles  map[int64]domain.Profile
	entries   map[int64]domain.Entry
	configs   map[string]domain.ChannelConfig // key: user ID
	messages  []domain.ChannelMessage
	templates map[string]domain.Template
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:  make(map[int64]domain.Profile),
		entries:   make(map[int64]domain.Entry),
		configs:   make(map[string]domain.ChannelConfig),
		templates: make(map[string]domain.Template),
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) GetProfileByID(_ context.Context, id int64) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

func (m *MemoryStore) GetProfileByUserID(_ context.Context, userID string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.UserID == userID {
			return p, true, nil
		}
	}
	return domain.Profile{}, false, nil
}

func (m *MemoryStore) GetProfileByIdentifier(_ context.Context, identifier string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.Identifier == identifier {
			return p, true, nil
		}
	}
	return domain.Profile{}, false, nil
}

// CreateProfile enforces the same unique columns as the profiles table.
func (m *MemoryStore) CreateProfile(_ context.Context, p domain.Profile) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.profiles {
		if existing.UserID == p.UserID || existing.Identifier == p.Identifier {
			return domain.Profile{}, fmt.Errorf("%w: profile already exists", domain.ErrConflict)
		}
	}
	if p.ID == 0 {
		m.profileID++
		p.ID = m.profileID
	} else if p.ID > m.profileID {
		m.profileID = p.ID
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = nowUTC()
	}
	m.profiles[p.ID] = p
	return p, nil
}

func (m *MemoryStore) CreateEntry(_ context.Context, e domain.Entry) (domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryID++
	e.ID = m.entryID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = nowUTC()
	}
	m.entries[e.ID] = e
	return e, nil
}

func (m *MemoryStore) GetEntry(_ context.Context, id int64) (domain.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e, ok, nil
}

func (m *MemoryStore) UpdateEntry(_ context.Context, e domain.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[e.ID]
	if !ok || current.UserID != e.UserID {
		return false, nil
	}
	e.CreatedAt = current.CreatedAt
	m.entries[e.ID] = e
	return true, nil
}

func (m *MemoryStore) DeleteEntry(_ context.Context, id, profileID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[id]
	if !ok || current.UserID != profileID {
		return false, nil
	}
	delete(m.entries, id)
	for i := range m.messages {
		if m.messages[i].EntryID != nil && *m.messages[i].EntryID == id {
			m.messages[i].EntryID = nil
		}
	}
	return true, nil
}

// ListEntries returns entries newest first, ties broken by id.
func (m *MemoryStore) ListEntries(_ context.Context, profileID int64) ([]domain.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Entry, 0)
	for _, e := range m.entries {
		if e.UserID == profileID {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) CreateChannelConfig(_ context.Context, cfg domain.ChannelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.configs[cfg.UserID]; exists {
		return fmt.Errorf("%w: channel configuration already exists", domain.ErrConflict)
	}
	for _, existing := range m.configs {
		if existing.WebhookToken == cfg.WebhookToken {
			return fmt.Errorf("%w: webhook token already exists", domain.ErrConflict)
		}
	}
	m.configs[cfg.UserID] = cfg
	return nil
}

func (m *MemoryStore) GetChannelConfigByUser(_ context.Context, userID string) (domain.ChannelConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.configs[userID]
	return cfg, ok, nil
}

func (m *MemoryStore) GetChannelConfigByToken(_ context.Context, token string) (domain.ChannelConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cfg := range m.configs {
		if cfg.WebhookToken == token {
			return cfg, true, nil
		}
	}
	return domain.ChannelConfig{}, false, nil
}

func (m *MemoryStore) FindActiveChannelConfig(_ context.Context, phoneNumber string) (domain.ChannelConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var (
		found domain.ChannelConfig
		ok    bool
	)
	for _, cfg := range m.configs {
		if !cfg.Active || cfg.PhoneNumber != phoneNumber {
			continue
		}
		if !ok || cfg.CreatedAt.Before(found.CreatedAt) {
			found, ok = cfg, true
		}
	}
	return found, ok, nil
}

func (m *MemoryStore) UpdateChannelConfig(_ context.Context, cfg domain.ChannelConfig) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.configs[cfg.UserID]
	if !ok {
		return false, nil
	}
	current.PhoneNumber = cfg.PhoneNumber
	current.Active = cfg.Active
	current.UpdatedAt = cfg.UpdatedAt
	m.configs[cfg.UserID] = current
	return true, nil
}

func (m *MemoryStore) AppendChannelMessage(_ context.Context, msg domain.ChannelMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryStore) LinkMessageEntry(_ context.Context, messageID string, entryID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == messageID {
			id := entryID
			m.messages[i].EntryID = &id
			return nil
		}
	}
	return fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
}

func (m *MemoryStore) ListChannelMessages(_ context.Context, to string, limit int) ([]domain.ChannelMessage, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ChannelMessage, 0)
	for _, msg := range m.messages {
		if msg.To == to {
			res = append(res, msg)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.After(res[j].Timestamp)
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// Messages returns a snapshot of every stored message in insertion order.
func (m *MemoryStore) Messages() []domain.ChannelMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ChannelMessage(nil), m.messages...)
}

func (m *MemoryStore) CreateTemplate(_ context.Context, t domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.templates[t.ID]; exists {
		return fmt.Errorf("%w: template already exists", domain.ErrConflict)
	}
	m.templates[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTemplate(_ context.Context, userID, id string) (domain.Template, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok || t.UserID != userID {
		return domain.Template{}, false, nil
	}
	return t, true, nil
}

func (m *MemoryStore) ListTemplates(_ context.Context, userID string) ([]domain.Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Template, 0)
	for _, t := range m.templates {
		if t.UserID == userID {
			res = append(res, t)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

func (m *MemoryStore) DeleteTemplate(_ context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok || t.UserID != userID {
		return false, nil
	}
	delete(m.templates, id)
	return true, nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Store  = (*GormStore)(nil)
	_ Pinger = (*MemoryStore)(nil)
	_ Pinger = (*GormStore)(nil)
)
