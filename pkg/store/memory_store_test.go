package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"myndiary/pkg/domain"
)

func TestMemoryStoreProfileUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p, err := s.CreateProfile(ctx, domain.Profile{UserID: "sub-1", Identifier: "ada@example.com", Username: "ada"})
	require.NoError(t, err)
	assert.NotZero(t, p.ID)

	_, err = s.CreateProfile(ctx, domain.Profile{UserID: "sub-2", Identifier: "ada@example.com"})
	assert.ErrorIs(t, err, domain.ErrConflict, "duplicate identifier")

	got, ok, err := s.GetProfileByIdentifier(ctx, "ada@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)

	got, ok, err = s.GetProfileByUserID(ctx, "sub-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.ID, got.ID)
}

func TestMemoryStoreEntryMutationsRequireOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	entry, err := s.CreateEntry(ctx, domain.Entry{UserID: 1, Type: domain.EntryText, Content: "hello"})
	require.NoError(t, err)

	entry.Content = "changed"
	entry.UserID = 2
	ok, err := s.UpdateEntry(ctx, entry)
	require.NoError(t, err)
	assert.False(t, ok, "update by other owner should not match")
	ok, err = s.DeleteEntry(ctx, entry.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok, "delete by other owner should not match")

	entry.UserID = 1
	ok, err = s.UpdateEntry(ctx, entry)
	require.NoError(t, err)
	require.True(t, ok)
	stored, _, _ := s.GetEntry(ctx, entry.ID)
	assert.Equal(t, "changed", stored.Content)

	ok, err = s.DeleteEntry(ctx, entry.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	_, found, _ := s.GetEntry(ctx, entry.ID)
	assert.False(t, found, "entry should be gone")
}

func TestMemoryStoreListEntriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{0, 2 * time.Hour, time.Hour} {
		_, err := s.CreateEntry(ctx, domain.Entry{UserID: 7, Type: domain.EntryText, Content: string(rune('a' + i)), CreatedAt: base.Add(offset)})
		require.NoError(t, err)
	}
	_, err := s.CreateEntry(ctx, domain.Entry{UserID: 8, Type: domain.EntryText, Content: "other"})
	require.NoError(t, err)

	entries, err := s.ListEntries(ctx, 7)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{entries[0].Content, entries[1].Content, entries[2].Content})
}

func TestMemoryStoreActiveConfigLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, s.CreateChannelConfig(ctx, domain.ChannelConfig{ID: "c1", UserID: "u1", PhoneNumber: "+393331234567", WebhookToken: "t1", CreatedAt: now}))
	err := s.CreateChannelConfig(ctx, domain.ChannelConfig{ID: "c2", UserID: "u1", WebhookToken: "t2"})
	assert.ErrorIs(t, err, domain.ErrConflict, "second config of a user")

	_, ok, _ := s.FindActiveChannelConfig(ctx, "+393331234567")
	assert.False(t, ok, "inactive config must not match")

	ok, err = s.UpdateChannelConfig(ctx, domain.ChannelConfig{UserID: "u1", PhoneNumber: "+393331234567", Active: true, UpdatedAt: now})
	require.NoError(t, err)
	require.True(t, ok)

	cfg, ok, err := s.FindActiveChannelConfig(ctx, "+393331234567")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", cfg.ID)
	assert.Equal(t, "t1", cfg.WebhookToken, "update must not touch the token")
}

func TestMemoryStoreLinkMessageEntry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, s.AppendChannelMessage(ctx, domain.ChannelMessage{ID: "m1", To: "+1", Body: "hi", Timestamp: now}))
	require.NoError(t, s.AppendChannelMessage(ctx, domain.ChannelMessage{ID: "m2", To: "+1", Body: "hi", Timestamp: now.Add(time.Second)}))
	require.NoError(t, s.LinkMessageEntry(ctx, "m1", 42))
	assert.ErrorIs(t, s.LinkMessageEntry(ctx, "missing", 42), domain.ErrNotFound)

	msgs, err := s.ListChannelMessages(ctx, "+1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID, "newest first")
	require.NotNil(t, msgs[1].EntryID)
	assert.Equal(t, int64(42), *msgs[1].EntryID)
	assert.Nil(t, msgs[0].EntryID, "message with identical body must stay unlinked")
}

func TestMemoryStoreTemplatesScopedByUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	_ = s.CreateTemplate(ctx, domain.Template{ID: "t1", UserID: "u1", Name: "old", CreatedAt: now.Add(-time.Hour)})
	_ = s.CreateTemplate(ctx, domain.Template{ID: "t2", UserID: "u1", Name: "new", CreatedAt: now})
	_ = s.CreateTemplate(ctx, domain.Template{ID: "t3", UserID: "u2", Name: "foreign", CreatedAt: now})

	list, err := s.ListTemplates(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].ID)

	_, ok, _ := s.GetTemplate(ctx, "u1", "t3")
	assert.False(t, ok, "template of another user must not be visible")
	ok, _ = s.DeleteTemplate(ctx, "u1", "t3")
	assert.False(t, ok, "template of another user must not be deletable")
	ok, _ = s.DeleteTemplate(ctx, "u1", "t1")
	assert.True(t, ok, "own template")
}
