package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"myndiary/internal/util"
	"myndiary/pkg/domain"
	"myndiary/pkg/media"
)

const uploadConcurrency = 4

// Upload is a stored media object.
type Upload struct {
	URL         string         `json:"url"`
	ObjectName  string         `json:"objectName"`
	Category    media.Category `json:"category"`
	ContentType string         `json:"contentType"`
	Size        int64          `json:"size"`
}

// UploadMedia validates one file against category and stores it.
func (a *App) UploadMedia(ctx context.Context, category media.Category, file media.Upload) (Upload, error) {
	file.ContentType = media.GuessContentType(file.Filename, file.ContentType)
	v, err := media.Validate(file, category)
	if err != nil {
		return Upload{}, err
	}
	return a.put(ctx, v)
}

func (a *App) put(ctx context.Context, v media.Validated) (Upload, error) {
	url, err := a.objects.Put(ctx, string(v.Category), v.ObjectName, v.Body, v.Size, v.ContentType)
	if err != nil {
		return Upload{}, fmt.Errorf("upload %s: %w", v.ObjectName, err)
	}
	return Upload{
		URL:         url,
		ObjectName:  v.ObjectName,
		Category:    v.Category,
		ContentType: v.ContentType,
		Size:        v.Size,
	}, nil
}

// uploadAll validates every file before storing any, then uploads them
// concurrently. The first failure fails the batch; objects already stored
// stay in the bucket.
func (a *App) uploadAll(ctx context.Context, files []media.Upload) ([]Upload, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	validated := make([]media.Validated, 0, len(files))
	for _, file := range files {
		file.ContentType = media.GuessContentType(file.Filename, file.ContentType)
		category, ok := media.CategoryFor(file.ContentType)
		if !ok {
			return nil, fmt.Errorf("%w: file %q has type %q", media.ErrUnsupportedType, file.Filename, file.ContentType)
		}
		v, err := media.Validate(file, category)
		if err != nil {
			return nil, err
		}
		validated = append(validated, v)
	}

	uploads := make([]Upload, len(validated))
	var stored atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, v := range validated {
		g.Go(func() error {
			u, err := a.put(gctx, v)
			if err != nil {
				return err
			}
			uploads[i] = u
			stored.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if n := stored.Load(); n > 0 {
			util.LoggerFromContext(ctx).Warn("media upload failed, stored objects left orphaned", "stored", n, "total", len(validated), "err", err)
		}
		return nil, err
	}
	return uploads, nil
}

// applyUpload points in at the first uploaded file: its category decides the
// entry type and only its URL is kept. A voice entry stays voice when the file
// is audio.
func applyUpload(in domain.EntryInput, first Upload) domain.EntryInput {
	entryType := first.Category.EntryType()
	if t, ok := domain.ParseEntryType(string(in.Type)); ok && t == domain.EntryVoice && entryType == domain.EntryAudio {
		entryType = domain.EntryVoice
	}
	in.Type = entryType
	in.ImageURL, in.AudioURL, in.VideoURL = "", "", ""
	switch first.Category {
	case media.CategoryImages:
		in.ImageURL = first.URL
	case media.CategoryAudio:
		in.AudioURL = first.URL
	case media.CategoryVideo:
		in.VideoURL = first.URL
	}
	return in
}

// CreateEntryWithMedia stores every file and creates one entry from the first.
// Without files it is CreateEntry.
func (a *App) CreateEntryWithMedia(ctx context.Context, user domain.User, in domain.EntryInput, files []media.Upload) (domain.Entry, []Upload, error) {
	if len(files) == 0 {
		entry, err := a.CreateEntry(ctx, user, in)
		return entry, nil, err
	}
	if _, err := a.EnsureProfile(ctx, user, ""); err != nil {
		return domain.Entry{}, nil, err
	}
	uploads, err := a.uploadAll(ctx, files)
	if err != nil {
		return domain.Entry{}, nil, err
	}
	entry, err := a.CreateEntry(ctx, user, applyUpload(in, uploads[0]))
	if err != nil {
		return domain.Entry{}, uploads, err
	}
	return entry, uploads, nil
}

// UpdateEntryWithMedia replaces the media of an owned entry with the first of
// files and applies the remaining patch fields.
func (a *App) UpdateEntryWithMedia(ctx context.Context, user domain.User, id int64, patch domain.EntryPatch, files []media.Upload) (domain.Entry, []Upload, error) {
	if len(files) == 0 {
		entry, err := a.UpdateEntry(ctx, user, id, patch)
		return entry, nil, err
	}
	if _, _, err := a.ownedEntry(ctx, user, id); err != nil {
		return domain.Entry{}, nil, err
	}
	uploads, err := a.uploadAll(ctx, files)
	if err != nil {
		return domain.Entry{}, nil, err
	}
	var in domain.EntryInput
	if patch.Type != nil {
		in.Type = *patch.Type
	}
	in = applyUpload(in, uploads[0])
	patch.Type = &in.Type
	patch.ImageURL = &in.ImageURL
	patch.AudioURL = &in.AudioURL
	patch.VideoURL = &in.VideoURL
	entry, err := a.UpdateEntry(ctx, user, id, patch)
	if err != nil {
		return domain.Entry{}, uploads, err
	}
	return entry, uploads, nil
}
