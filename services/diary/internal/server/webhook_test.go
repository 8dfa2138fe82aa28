package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"myndiary/pkg/domain"
	"myndiary/pkg/messaging"
	"myndiary/services/diary/internal/app"
)

func (ts testServer) postForm(t *testing.T, path string, form url.Values, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

// activeWebhook configures an active channel for the user and returns its token.
func activeWebhook(t *testing.T, ts testServer, token, number string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPatch, "/api/whatsapp/config", token, map[string]any{"phone_number": number, "active": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("activate channel: %d %s", rec.Code, rec.Body.String())
	}
	cfg := decode[domain.ChannelConfig](t, rec)
	if cfg.WebhookToken == "" || !strings.HasSuffix(cfg.WebhookURL, "/api/whatsapp/webhook/"+cfg.WebhookToken) {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	return cfg.WebhookToken
}

func inboundForm(body string) url.Values {
	return url.Values{
		"MessageSid": {"SM100"},
		"From":       {"whatsapp:+393339999999"},
		"To":         {"whatsapp:+393331234567"},
		"Body":       {body},
		"NumMedia":   {"0"},
	}
}

func TestTokenWebhookCreatesEntry(t *testing.T) {
	ts := newTestServer(t)
	ada := signToken(t, "user-ada", "ada@example.com")
	hook := activeWebhook(t, ts, ada, "+393331234567")

	rec := ts.postForm(t, "/api/whatsapp/webhook/"+hook, inboundForm("oggi è andata bene"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[struct {
		Message string            `json:"message"`
		Data    app.InboundResult `json:"data"`
	}](t, rec)
	if out.Data.Entry.Content != "oggi è andata bene" || out.Data.Entry.Type != domain.EntryText || out.Data.MessageID == "" {
		t.Fatalf("unexpected webhook response: %+v", out)
	}

	// the short prefix reaches the same handler
	if rec = ts.postForm(t, "/webhook/"+hook, inboundForm("seconda nota"), nil); rec.Code != http.StatusOK {
		t.Fatalf("short webhook path expected 200, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/entries", ada, nil)
	list := decode[struct {
		Items []domain.DayEntries `json:"items"`
	}](t, rec)
	if len(list.Items) != 1 || len(list.Items[0].Entries) != 2 {
		t.Fatalf("webhook entries should belong to the channel owner: %+v", list)
	}
}

func TestTokenWebhookRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)
	ada := signToken(t, "user-ada", "ada@example.com")
	hook := activeWebhook(t, ts, ada, "+393331234567")

	rec := ts.postForm(t, "/api/whatsapp/webhook/unknown", inboundForm("hi"), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token expected 401, got %d", rec.Code)
	}
	if body := decode[errorResponse](t, rec); body.Code != "WEBHOOK_INVALID_TOKEN" {
		t.Fatalf("unexpected error code %q", body.Code)
	}

	missing := inboundForm("")
	rec = ts.postForm(t, "/api/whatsapp/webhook/"+hook, missing, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing body expected 400, got %d", rec.Code)
	}
	if body := decode[errorResponse](t, rec); body.Error != "Missing required fields: From, To, Body" {
		t.Fatalf("unexpected error %q", body.Error)
	}

	withMedia := inboundForm("")
	withMedia.Set("NumMedia", "1")
	withMedia.Set("MediaUrl0", "https://media.example.com/1")
	withMedia.Set("MediaContentType0", "image/jpeg")
	rec = ts.postForm(t, "/api/whatsapp/webhook/"+hook, withMedia, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("media without body expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	document := inboundForm("")
	document.Set("NumMedia", "1")
	document.Set("MediaUrl0", "https://media.example.com/2")
	document.Set("MediaContentType0", "application/pdf")
	rec = ts.postForm(t, "/api/whatsapp/webhook/"+hook, document, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unclassified media without body expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := decode[errorResponse](t, rec); body.Code != "WEBHOOK_PROCESSING_FAILED" {
		t.Fatalf("unexpected error code %q", body.Code)
	}

	otherNumber := inboundForm("hi")
	otherNumber.Set("To", "whatsapp:+393330000000")
	if rec = ts.postForm(t, "/api/whatsapp/webhook/"+hook, otherNumber, nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("unmatched destination expected 500, got %d", rec.Code)
	}

	if rec = ts.postForm(t, "/api/whatsapp/webhook/"+hook+"/extra", inboundForm("hi"), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("nested path expected 404, got %d", rec.Code)
	}
}

func TestWebhookStatus(t *testing.T) {
	ts := newTestServer(t)
	ada := signToken(t, "user-ada", "ada@example.com")
	hook := activeWebhook(t, ts, ada, "+393331234567")

	rec := ts.do(t, http.MethodGet, "/api/whatsapp/webhook/"+hook, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decode[map[string]string](t, rec); body["status"] != "active" || !strings.HasSuffix(body["webhook_url"], hook) {
		t.Fatalf("unexpected status: %+v", body)
	}

	ts.do(t, http.MethodPatch, "/api/whatsapp/config", ada, map[string]any{"active": false})
	rec = ts.do(t, http.MethodGet, "/webhook/"+hook, "", nil)
	if body := decode[map[string]string](t, rec); body["status"] != "inactive" {
		t.Fatalf("expected inactive status: %+v", body)
	}
	if rec = ts.postForm(t, "/webhook/"+hook, inboundForm("hi"), nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("inactive channel expected 401, got %d", rec.Code)
	}
	if rec = ts.do(t, http.MethodGet, "/webhook/nope", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token expected 401, got %d", rec.Code)
	}
}

func TestTokenWebhookRateLimit(t *testing.T) {
	ts := newTestServer(t, withRedis(t, 1))
	ada := signToken(t, "user-ada", "ada@example.com")
	hook := activeWebhook(t, ts, ada, "+393331234567")

	if rec := ts.postForm(t, "/api/whatsapp/webhook/"+hook, inboundForm("uno"), nil); rec.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", rec.Code)
	}
	rec := ts.postForm(t, "/api/whatsapp/webhook/"+hook, inboundForm("due"), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func seedLegacyProfile(t *testing.T, ts testServer) domain.Profile {
	t.Helper()
	p, err := ts.store.CreateProfile(context.Background(), domain.Profile{UserID: "legacy-owner", Identifier: "+393330000001", Username: "legacy"})
	if err != nil {
		t.Fatalf("create legacy profile: %v", err)
	}
	return p
}

func TestLegacyWebhookRepliesWithTwiML(t *testing.T) {
	ts := newTestServer(t, func(a *app.Config, _ *Config) { a.LegacyProfileID = 1 })
	seedLegacyProfile(t, ts)

	rec := ts.postForm(t, "/api/twilio/webhook", inboundForm("nota veloce"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != messaging.TwiMLContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Nota creata con successo") {
		t.Fatalf("unexpected reply: %s", rec.Body.String())
	}

	rec = ts.postForm(t, "/api/twilio/webhook", inboundForm("ancora"), nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "troppi messaggi") {
		t.Fatalf("expected rate limited reply, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec = ts.do(t, http.MethodGet, "/api/twilio/webhook", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET expected 405, got %d", rec.Code)
	}
}

func TestLegacyWebhookWithoutProfileRepliesFailure(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.postForm(t, "/api/twilio/webhook", inboundForm("nota"), nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "errore") {
		t.Fatalf("expected failure reply, got %d: %s", rec.Code, rec.Body.String())
	}
}

func signForm(token, fullURL string, form url.Values) string {
	pairs := make([]string, 0, len(form))
	for k, v := range form {
		pairs = append(pairs, k+v[0])
	}
	sort.Strings(pairs)
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(fullURL + strings.Join(pairs, "")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestLegacyWebhookVerifiesSignature(t *testing.T) {
	const authToken = "auth-token"
	ts := newTestServer(t, withRedis(t, 10), func(a *app.Config, cfg *Config) {
		a.LegacyProfileID = 1
		cfg.Signatures = messaging.NewSignatureValidator(authToken)
		cfg.VerifySignatures = true
		cfg.PublicBaseURL = "https://diary.example.com/"
	})
	seedLegacyProfile(t, ts)
	form := inboundForm("firmato")

	rec := ts.postForm(t, "/api/twilio/webhook", form, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unsigned request expected 403, got %d", rec.Code)
	}
	bad := http.Header{messaging.SignatureHeader: {signForm("other", "https://diary.example.com/api/twilio/webhook", form)}}
	if rec = ts.postForm(t, "/api/twilio/webhook", form, bad); rec.Code != http.StatusForbidden {
		t.Fatalf("bad signature expected 403, got %d", rec.Code)
	}

	good := http.Header{messaging.SignatureHeader: {signForm(authToken, "https://diary.example.com/api/twilio/webhook", form)}}
	rec = ts.postForm(t, "/api/twilio/webhook", form, good)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Nota creata") {
		t.Fatalf("signed request expected saved reply, got %d: %s", rec.Code, rec.Body.String())
	}
}
