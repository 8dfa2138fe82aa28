package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"myndiary/pkg/domain"
	"myndiary/pkg/media"
	"myndiary/services/diary/internal/app"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 8 << 20

type mediaEntryResponse struct {
	Entry   domain.Entry `json:"entry"`
	Uploads []app.Upload `json:"uploads"`
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		days, err := s.app.ListEntriesByDay(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": days,
			"count": len(days),
		})
	case http.MethodPost:
		s.handleCreateEntry(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request, user domain.User) {
	if !isMultipart(r) {
		var in domain.EntryInput
		if err := decodeJSON(r, &in); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		entry, err := s.app.CreateEntry(r.Context(), user, in)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
		return
	}
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer form.Close()
	in := domain.EntryInput{
		Content: form.value("content"),
		Type:    domain.EntryType(form.value("type")),
	}
	entry, uploads, err := s.app.CreateEntryWithMedia(r.Context(), user, in, form.files)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mediaEntryResponse{Entry: entry, Uploads: uploads})
}

func (s *Server) handleEntryDates(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	dates, err := s.app.ListEntryDates(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dates": dates})
}

func (s *Server) handleEntryByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rawID, tail := pathID(r.URL.Path, "/api/entries/")
	if tail != "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, ok := parseEntryID(rawID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		entry, err := s.app.GetEntry(r.Context(), user, id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case http.MethodPatch, http.MethodPut:
		s.handleUpdateEntry(w, r, user, id)
	case http.MethodDelete:
		if err := s.app.DeleteEntry(r.Context(), user, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request, user domain.User, id int64) {
	if !isMultipart(r) {
		var patch domain.EntryPatch
		if err := decodeJSON(r, &patch); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		entry, err := s.app.UpdateEntry(r.Context(), user, id, patch)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
		return
	}
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer form.Close()
	var patch domain.EntryPatch
	if v, ok := form.lookup("content"); ok {
		patch.Content = &v
	}
	if v, ok := form.lookup("type"); ok {
		t := domain.EntryType(v)
		patch.Type = &t
	}
	entry, uploads, err := s.app.UpdateEntryWithMedia(r.Context(), user, id, patch, form.files)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mediaEntryResponse{Entry: entry, Uploads: uploads})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	rawCategory, tail := pathID(r.URL.Path, "/api/uploads/")
	category, ok := media.ParseCategory(rawCategory)
	if !ok || tail != "" {
		s.writeAppError(w, r, fmt.Errorf("%w: %q", media.ErrUnknownCategory, rawCategory))
		return
	}
	form, err := s.parseMultipart(w, r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defer form.Close()
	if len(form.files) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one file is required")
		return
	}
	upload, err := s.app.UploadMedia(r.Context(), category, form.files[0])
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, upload)
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// multipartForm holds the parsed fields and the open files of a request.
type multipartForm struct {
	form    *multipart.Form
	files   []media.Upload
	closers []io.Closer
}

func (f *multipartForm) value(key string) string {
	v, _ := f.lookup(key)
	return v
}

func (f *multipartForm) lookup(key string) (string, bool) {
	values, ok := f.form.Value[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (f *multipartForm) Close() {
	for _, c := range f.closers {
		_ = c.Close()
	}
	_ = f.form.RemoveAll()
}

// parseMultipart reads a multipart body capped at the upload limit. Files are
// taken from the "files" and "file" fields in order.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipartForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request exceeds %d bytes", media.ErrTooLarge, s.maxUploadBytes)
		}
		return nil, fmt.Errorf("%w: invalid form data", domain.ErrValidation)
	}
	out := &multipartForm{form: r.MultipartForm}
	for _, field := range []string{"files", "file"} {
		for _, fh := range r.MultipartForm.File[field] {
			file, err := fh.Open()
			if err != nil {
				out.Close()
				return nil, fmt.Errorf("open upload %q: %w", fh.Filename, err)
			}
			out.closers = append(out.closers, file)
			out.files = append(out.files, media.Upload{
				Filename:    fh.Filename,
				ContentType: strings.TrimSpace(fh.Header.Get("Content-Type")),
				Size:        fh.Size,
				Body:        file,
			})
		}
	}
	return out, nil
}
