package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"myndiary/internal/util"
	"myndiary/pkg/domain"
	"myndiary/pkg/messaging"
	"myndiary/services/diary/internal/security"
)

const maxWebhookBytes = 64 << 10

// Replies sent back to the chat sender by the legacy webhook.
const (
	replySaved       = "✅ Nota creata con successo! Il tuo messaggio è stato salvato nel diario."
	replyFailed      = "❌ Si è verificato un errore nel salvare il tuo messaggio. Per favore riprova più tardi."
	replyRateLimited = "Hai inviato troppi messaggi. Per favore attendi qualche minuto prima di inviarne altri."
)

var webhookPrefixes = []string{"/api/whatsapp/webhook/", "/webhook/"}

func (s *Server) handleTokenWebhook(w http.ResponseWriter, r *http.Request) {
	var token, tail string
	for _, prefix := range webhookPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			token, tail = pathID(r.URL.Path, prefix)
			break
		}
	}
	if token == "" || tail != "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleWebhookStatus(w, r, token)
	case http.MethodPost:
		s.handleWebhookMessage(w, r, token)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleWebhookStatus(w http.ResponseWriter, r *http.Request, token string) {
	cfg, err := s.app.WebhookStatus(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.audit(r, security.EventWebhookToken, security.OutcomeFail, "reason", "unknown_token")
		}
		s.writeAppError(w, r, err)
		return
	}
	status := "inactive"
	if cfg.Active {
		status = "active"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "Webhook configured correctly",
		"status":      status,
		"webhook_url": cfg.WebhookURL,
	})
}

func (s *Server) handleWebhookMessage(w http.ResponseWriter, r *http.Request, token string) {
	if s.webhookLimiter != nil && !s.webhookLimiter.Allow(r.Context(), token) {
		s.audit(r, security.EventWebhookToken, security.OutcomeRateLimited)
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "too many webhook requests")
		return
	}
	cfg, err := s.app.AuthorizeWebhook(r.Context(), token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.audit(r, security.EventWebhookToken, security.OutcomeFail, "reason", "invalid_or_inactive_token")
		}
		s.writeAppError(w, r, err)
		return
	}
	if err := parseWebhookForm(w, r); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	msg := messaging.ParseInbound(r.PostForm)
	if msg.From == "" || msg.To == "" || (strings.TrimSpace(msg.Body) == "" && !msg.HasMedia()) {
		writeError(w, http.StatusBadRequest, "Missing required fields: From, To, Body")
		return
	}
	res, err := s.app.ProcessInbound(r.Context(), msg, cfg.UserID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Message received and processed successfully",
		"data":    res,
	})
}

// handleLegacyWebhook answers the provider with TwiML whatever the outcome;
// only a bad signature is rejected with an HTTP error.
func (s *Server) handleLegacyWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := parseWebhookForm(w, r); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if s.verifySignatures {
		signature := r.Header.Get(messaging.SignatureHeader)
		if !s.signatures.Validate(s.signedURL(r), r.PostForm, signature) {
			s.audit(r, security.EventWebhookSignature, security.OutcomeFail)
			writeError(w, http.StatusForbidden, "Invalid signature")
			return
		}
	}
	logger := util.LoggerFromContext(r.Context())
	msg := messaging.ParseInbound(r.PostForm)
	reply := replySaved
	if _, err := s.app.ProcessLegacyInbound(r.Context(), msg); err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			reply = replyRateLimited
		} else {
			logger.Error("legacy webhook failed", "from", msg.From, "err", err)
			reply = replyFailed
		}
	}
	body, err := messaging.MessageReply(reply)
	if err != nil {
		logger.Error("render twiml failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", messaging.TwiMLContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func parseWebhookForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("%w: invalid form body", domain.ErrValidation)
	}
	return nil
}

// signedURL rebuilds the public URL the provider signed.
func (s *Server) signedURL(r *http.Request) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
