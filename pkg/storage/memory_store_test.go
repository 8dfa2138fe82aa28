package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutReturnsPublicURL(t *testing.T) {
	s := NewMemoryStore("http://localhost:9000/")
	url, err := s.Put(context.Background(), BucketImages, "abc.png", strings.NewReader("png!"), 4, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/images/abc.png", url)

	obj, ok := s.Get(BucketImages, "abc.png")
	require.True(t, ok)
	assert.Equal(t, "png!", string(obj.Data))
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreRejectsShortBody(t *testing.T) {
	s := NewMemoryStore("http://localhost:9000")
	_, err := s.Put(context.Background(), BucketAudio, "a.mp3", strings.NewReader("abc"), 10, "audio/mpeg")
	assert.Error(t, err, "size mismatch")
	assert.Zero(t, s.Len())
}

func TestMemoryStoreServesStoredObjects(t *testing.T) {
	s := NewMemoryStore("http://localhost:8080/media")
	url, err := s.Put(context.Background(), BucketAudio, "note.mp3", strings.NewReader("id3!"), 4, "audio/mpeg")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/media/audio/note.mp3", url)

	mux := http.NewServeMux()
	mux.Handle("/media/", http.StripPrefix("/media", s))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/audio/note.mp3", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "id3!", rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))

	for _, path := range []string{"/media/audio/missing.mp3", "/media/audio", "/media/"} {
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/media/audio/note.mp3", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPublicReadPolicyNamesBucket(t *testing.T) {
	assert.Contains(t, publicReadPolicy(BucketVideo), "arn:aws:s3:::video/*")
}
