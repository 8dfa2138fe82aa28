package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"myndiary/pkg/domain"
)

const dayLayout = "2006-01-02"

// EnsureProfile returns the profile of user, creating it on first use.
// Profiles are matched by subject only. The identifier (the email when empty)
// names a new profile; when another subject already holds it the subject
// itself is used instead.
func (a *App) EnsureProfile(ctx context.Context, user domain.User, identifier string) (domain.Profile, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.Profile{}, ErrMissingPrincipal
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(user.Email)
	}
	if identifier == "" {
		identifier = user.ID
	}
	if p, ok, err := a.findProfile(ctx, user.ID); err != nil || ok {
		return p, err
	}
	held, taken, err := a.store.GetProfileByIdentifier(ctx, identifier)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if taken && held.UserID != user.ID {
		identifier = user.ID
	}
	p, err := a.store.CreateProfile(ctx, domain.Profile{
		UserID:     user.ID,
		Identifier: identifier,
		Username:   usernameFor(identifier),
		UpdatedAt:  a.nowUTC(),
	})
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, domain.ErrConflict) {
		return domain.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	// a concurrent create for the same subject may have won
	p, ok, findErr := a.findProfile(ctx, user.ID)
	if findErr != nil {
		return domain.Profile{}, findErr
	}
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: profile identifier %q belongs to another user", domain.ErrConflict, identifier)
	}
	return p, nil
}

func (a *App) findProfile(ctx context.Context, userID string) (domain.Profile, bool, error) {
	p, ok, err := a.store.GetProfileByUserID(ctx, userID)
	if err != nil {
		return domain.Profile{}, false, fmt.Errorf("load profile: %w", err)
	}
	return p, ok, nil
}

// lookupProfile resolves the caller's profile without creating one.
func (a *App) lookupProfile(ctx context.Context, user domain.User) (domain.Profile, bool, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.Profile{}, false, ErrMissingPrincipal
	}
	return a.findProfile(ctx, user.ID)
}

func usernameFor(identifier string) string {
	if at := strings.IndexByte(identifier, '@'); at > 0 {
		return identifier[:at]
	}
	return identifier
}

// CreateEntry validates in and stores it for the caller.
func (a *App) CreateEntry(ctx context.Context, user domain.User, in domain.EntryInput) (domain.Entry, error) {
	entry, err := a.newEntry(in)
	if err != nil {
		return domain.Entry{}, err
	}
	profile, err := a.EnsureProfile(ctx, user, "")
	if err != nil {
		return domain.Entry{}, err
	}
	entry.UserID = profile.ID
	return a.insertEntry(ctx, entry)
}

func (a *App) newEntry(in domain.EntryInput) (domain.Entry, error) {
	entryType := domain.EntryText
	if strings.TrimSpace(string(in.Type)) != "" {
		parsed, ok := domain.ParseEntryType(string(in.Type))
		if !ok {
			return domain.Entry{}, fmt.Errorf("%w: %q", ErrInvalidEntryType, in.Type)
		}
		entryType = parsed
	}
	entry := domain.Entry{
		Type:     entryType,
		Content:  strings.TrimSpace(in.Content),
		ImageURL: strings.TrimSpace(in.ImageURL),
		AudioURL: strings.TrimSpace(in.AudioURL),
		VideoURL: strings.TrimSpace(in.VideoURL),
	}
	if err := validateEntry(entry); err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

func (a *App) insertEntry(ctx context.Context, entry domain.Entry) (domain.Entry, error) {
	entry.CreatedAt = a.nowUTC()
	stored, err := a.store.CreateEntry(ctx, entry)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("create entry: %w", err)
	}
	return stored, nil
}

// validateEntry enforces the media rules of an entry: media types carry their
// URL, nothing carries a URL of another type, and something is recorded.
func validateEntry(e domain.Entry) error {
	if _, ok := domain.ParseEntryType(string(e.Type)); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidEntryType, e.Type)
	}
	urls := map[string]string{"image_url": e.ImageURL, "audio_url": e.AudioURL, "video_url": e.VideoURL}
	want := mediaField(e.Type)
	if want != "" && urls[want] == "" {
		return fmt.Errorf("%w: %s requires %s", ErrMissingMediaURL, e.Type, want)
	}
	for field, value := range urls {
		if value != "" && field != want {
			return fmt.Errorf("%w: %s not allowed for %s", ErrUnexpectedMediaURL, field, e.Type)
		}
	}
	if strings.TrimSpace(e.Content) == "" && want == "" {
		return ErrEntryEmpty
	}
	return nil
}

// mediaField names the URL column an entry type stores, or "".
func mediaField(t domain.EntryType) string {
	switch t {
	case domain.EntryImage:
		return "image_url"
	case domain.EntryAudio, domain.EntryVoice:
		return "audio_url"
	case domain.EntryVideo:
		return "video_url"
	default:
		return ""
	}
}

// GetEntry returns one entry owned by the caller.
func (a *App) GetEntry(ctx context.Context, user domain.User, id int64) (domain.Entry, error) {
	entry, _, err := a.ownedEntry(ctx, user, id)
	return entry, err
}

// ownedEntry loads an entry and checks it belongs to the caller's profile.
func (a *App) ownedEntry(ctx context.Context, user domain.User, id int64) (domain.Entry, domain.Profile, error) {
	if strings.TrimSpace(user.ID) == "" {
		return domain.Entry{}, domain.Profile{}, ErrMissingPrincipal
	}
	entry, ok, err := a.store.GetEntry(ctx, id)
	if err != nil {
		return domain.Entry{}, domain.Profile{}, fmt.Errorf("load entry: %w", err)
	}
	if !ok {
		return domain.Entry{}, domain.Profile{}, ErrEntryNotFound
	}
	profile, ok, err := a.lookupProfile(ctx, user)
	if err != nil {
		return domain.Entry{}, domain.Profile{}, err
	}
	if !ok || entry.UserID != profile.ID {
		return domain.Entry{}, domain.Profile{}, ErrEntryForbidden
	}
	return entry, profile, nil
}

// UpdateEntry applies patch to an entry owned by the caller. created_at never
// changes; the merged entry must still be valid.
func (a *App) UpdateEntry(ctx context.Context, user domain.User, id int64, patch domain.EntryPatch) (domain.Entry, error) {
	if patch.Empty() {
		return domain.Entry{}, ErrEmptyPatch
	}
	if patch.Type != nil {
		parsed, ok := domain.ParseEntryType(string(*patch.Type))
		if !ok {
			return domain.Entry{}, fmt.Errorf("%w: %q", ErrInvalidEntryType, *patch.Type)
		}
		patch.Type = &parsed
	}
	current, profile, err := a.ownedEntry(ctx, user, id)
	if err != nil {
		return domain.Entry{}, err
	}
	merged := patch.Apply(current)
	merged.Content = strings.TrimSpace(merged.Content)
	merged.ImageURL = strings.TrimSpace(merged.ImageURL)
	merged.AudioURL = strings.TrimSpace(merged.AudioURL)
	merged.VideoURL = strings.TrimSpace(merged.VideoURL)
	if err := validateEntry(merged); err != nil {
		return domain.Entry{}, err
	}
	merged.ID = current.ID
	merged.UserID = profile.ID
	merged.CreatedAt = current.CreatedAt
	updatedAt := a.nowUTC()
	merged.UpdatedAt = &updatedAt
	ok, err := a.store.UpdateEntry(ctx, merged)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	if !ok {
		return domain.Entry{}, ErrEntryNotFound
	}
	return merged, nil
}

// DeleteEntry removes an entry owned by the caller.
func (a *App) DeleteEntry(ctx context.Context, user domain.User, id int64) error {
	_, profile, err := a.ownedEntry(ctx, user, id)
	if err != nil {
		return err
	}
	ok, err := a.store.DeleteEntry(ctx, id, profile.ID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if !ok {
		return ErrEntryNotFound
	}
	return nil
}

// ListEntriesByDay groups the caller's entries by calendar day, newest day
// first and newest entry first within a day.
func (a *App) ListEntriesByDay(ctx context.Context, user domain.User) ([]domain.DayEntries, error) {
	entries, err := a.listEntries(ctx, user)
	if err != nil {
		return nil, err
	}
	days := make([]domain.DayEntries, 0)
	for _, e := range entries {
		key := e.CreatedAt.In(a.location).Format(dayLayout)
		if n := len(days); n > 0 && days[n-1].Date == key {
			days[n-1].Entries = append(days[n-1].Entries, e)
			continue
		}
		days = append(days, domain.DayEntries{Date: key, Entries: []domain.Entry{e}})
	}
	return days, nil
}

// ListEntryDates returns the distinct days holding at least one entry, newest first.
func (a *App) ListEntryDates(ctx context.Context, user domain.User) ([]string, error) {
	days, err := a.ListEntriesByDay(ctx, user)
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(days))
	for _, d := range days {
		dates = append(dates, d.Date)
	}
	return dates, nil
}

func (a *App) listEntries(ctx context.Context, user domain.User) ([]domain.Entry, error) {
	profile, ok, err := a.lookupProfile(ctx, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.Entry{}, nil
	}
	entries, err := a.store.ListEntries(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}
