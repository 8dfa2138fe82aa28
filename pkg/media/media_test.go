package media

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"myndiary/pkg/domain"
)

func TestValidateRejectsTypesOutsideAllowList(t *testing.T) {
	cases := []struct {
		category Category
		upload   Upload
	}{
		{CategoryImages, Upload{Filename: "photo.png", ContentType: "application/json", Size: 10}},
		{CategoryImages, Upload{Filename: "photo.png", ContentType: "image/bmp", Size: 10}},
		{CategoryImages, Upload{Filename: "photo.png", ContentType: "application/octet-stream", Size: 10}},
		{CategoryAudio, Upload{Filename: "voice.ogg", ContentType: "audio/ogg", Size: 10}},
		{CategoryAudio, Upload{Filename: "song.mp3", ContentType: "image/png", Size: 10}},
		{CategoryVideo, Upload{Filename: "clip.avi", ContentType: "video/x-msvideo", Size: 10}},
	}
	for _, tc := range cases {
		_, err := Validate(tc.upload, tc.category)
		require.Error(t, err, "%s %+v", tc.category, tc.upload)
		assert.True(t, errors.Is(err, ErrUnsupportedType), "unexpected error: %v", err)
		assert.True(t, errors.Is(err, domain.ErrValidation), "should classify as validation: %v", err)
	}
}

func TestValidateRejectsImageExtension(t *testing.T) {
	_, err := Validate(Upload{Filename: "photo.exe", ContentType: "image/png", Size: 10}, CategoryImages)
	require.ErrorIs(t, err, ErrInvalidExtension)

	_, err = Validate(Upload{Filename: "noext", ContentType: "image/png", Size: 10}, CategoryImages)
	require.ErrorIs(t, err, ErrInvalidExtension)
}

func TestValidateSizeCeilings(t *testing.T) {
	_, err := Validate(Upload{Filename: "a.png", ContentType: "image/png", Size: MaxImageBytes + 1}, CategoryImages)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = Validate(Upload{Filename: "a.png", ContentType: "image/png", Size: MaxImageBytes}, CategoryImages)
	require.NoError(t, err)

	_, err = Validate(Upload{Filename: "a.mp4", ContentType: "video/mp4", Size: MaxAVBytes + 1}, CategoryVideo)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = Validate(Upload{Filename: "a.mp3", ContentType: "audio/mpeg", Size: 6 * 1024 * 1024}, CategoryAudio)
	require.NoError(t, err)
}

func TestValidateNamesObjectFromMIME(t *testing.T) {
	cases := []struct {
		category Category
		filename string
		mime     string
		wantExt  string
	}{
		{CategoryImages, "holiday.jpeg", "image/jpeg", "jpg"},
		{CategoryImages, "holiday.png", "image/gif", "gif"},
		{CategoryImages, "logo.svg", "image/svg+xml", "svg"},
		{CategoryAudio, "memo.wav", "audio/mpeg", "mp3"},
		{CategoryAudio, "memo", "audio/mp4", "m4a"},
		{CategoryVideo, "clip.mp4", "video/quicktime", "mov"},
		{CategoryVideo, "clip.mov", "video/webm; codecs=vp9", "webm"},
	}
	seen := map[string]bool{}
	for _, tc := range cases {
		v, err := Validate(Upload{Filename: tc.filename, ContentType: tc.mime, Size: 100}, tc.category)
		require.NoError(t, err, "%s %s", tc.filename, tc.mime)
		assert.Equal(t, tc.wantExt, v.Extension)
		assert.Equal(t, "."+tc.wantExt, filepath.Ext(v.ObjectName))
		assert.Len(t, strings.TrimSuffix(v.ObjectName, "."+tc.wantExt), 36, "object name is a uuid: %s", v.ObjectName)
		assert.False(t, seen[v.ObjectName], "object names must be unique")
		seen[v.ObjectName] = true
	}
}

func TestValidateUnknownCategory(t *testing.T) {
	_, err := Validate(Upload{Filename: "a.pdf", ContentType: "application/pdf", Size: 1}, Category("docs"))
	require.ErrorIs(t, err, ErrUnknownCategory)
}

func TestGuessContentType(t *testing.T) {
	assert.Equal(t, "image/png", GuessContentType("photo.png", "application/json"))
	assert.Equal(t, "image/png", GuessContentType("photo.PNG", ""))
	assert.Equal(t, "audio/mpeg", GuessContentType("photo.png", "audio/mpeg"))
	assert.Equal(t, "application/octet-stream", GuessContentType("blob", "application/octet-stream"))
}

func TestCategoryFor(t *testing.T) {
	c, ok := CategoryFor("image/webp")
	assert.True(t, ok)
	assert.Equal(t, CategoryImages, c)
	assert.Equal(t, domain.EntryImage, c.EntryType())

	c, ok = CategoryFor("VIDEO/mp4")
	assert.True(t, ok)
	assert.Equal(t, CategoryVideo, c)

	_, ok = CategoryFor("application/pdf")
	assert.False(t, ok)
}
