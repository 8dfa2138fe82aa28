package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"myndiary/internal/ratelimit"
	"myndiary/internal/util"
	"myndiary/pkg/domain"
	"myndiary/pkg/media"
	"myndiary/pkg/messaging"
	"myndiary/services/diary/internal/app"
	"myndiary/services/diary/internal/security"
)

const (
	defaultMaxUploadBytes   = 32 * 1024 * 1024
	defaultWebhookRateLimit = 30
	maxJSONBytes            = 1 << 20
)

// TokenVerifier validates bearer tokens issued by the identity provider.
type TokenVerifier interface {
	Verify(token string) (domain.User, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier TokenVerifier
	// Redis backs the webhook rate limit and the audit alerter. Both are
	// disabled when nil.
	Redis                     redis.Cmdable
	WebhookRateLimitPerMinute int
	// Signatures validates the legacy webhook; VerifySignatures turns the
	// check on (production).
	Signatures       *messaging.SignatureValidator
	VerifySignatures bool
	// PublicBaseURL is the externally visible origin used to rebuild signed URLs.
	PublicBaseURL  string
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
	// Media serves locally stored uploads under /media/ when set.
	Media http.Handler
	// SendInterval is advertised in Retry-After when a send is rate limited.
	SendInterval time.Duration
	// Environment is reported by development-only endpoints.
	Environment string
}

// Server exposes HTTP endpoints for the diary service.
type Server struct {
	app              *app.App
	tokenVerifier    TokenVerifier
	mux              *http.ServeMux
	media            http.Handler
	webhookLimiter   *ratelimit.FixedWindowLimiter
	alerter          *security.AuditAlerter
	signatures       *messaging.SignatureValidator
	verifySignatures bool
	publicBaseURL    string
	allowedOrigins   []string
	trustedProxies   *util.TrustedProxies
	maxUploadBytes   int64
	sendInterval     time.Duration
	environment      string
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("token verifier required")
	}
	if cfg.VerifySignatures && cfg.Signatures == nil {
		return nil, errors.New("signature validator required when signatures are verified")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	sendInterval := cfg.SendInterval
	if sendInterval <= 0 {
		sendInterval = app.DefaultSendInterval
	}
	s := &Server{
		app:              cfg.App,
		tokenVerifier:    cfg.TokenVerifier,
		mux:              http.NewServeMux(),
		media:            cfg.Media,
		alerter:          security.NewAuditAlerter(cfg.Redis, "myndiary:diary:alerts"),
		signatures:       cfg.Signatures,
		verifySignatures: cfg.VerifySignatures,
		publicBaseURL:    strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		allowedOrigins:   cfg.AllowedOrigins,
		trustedProxies:   cfg.TrustedProxies,
		maxUploadBytes:   maxUploadBytes,
		sendInterval:     sendInterval,
		environment:      cfg.Environment,
	}
	if cfg.Redis != nil {
		limit := cfg.WebhookRateLimitPerMinute
		if limit <= 0 {
			limit = defaultWebhookRateLimit
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "myndiary:diary:ratelimit:webhook", limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init webhook limiter: %w", err)
		}
		s.webhookLimiter = limiter
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("diary", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// entries
	s.mux.Handle("/api/entries", s.withUser(s.handleEntries))
	s.mux.Handle("/api/entries/dates", s.withUser(s.handleEntryDates))
	s.mux.Handle("/api/entries/", s.withUser(s.handleEntryByID))
	s.mux.Handle("/api/uploads/", s.withUser(s.handleUpload))

	// channel
	s.mux.Handle("/api/whatsapp/config", s.withUser(s.handleChannelConfig))
	s.mux.Handle("/api/whatsapp/messages", s.withUser(s.handleChannelMessages))
	s.mux.Handle("/api/whatsapp/templates", s.withUser(s.handleTemplates))
	s.mux.Handle("/api/whatsapp/templates/", s.withUser(s.handleTemplateByID))
	s.mux.Handle("/api/send-template", s.withUser(s.handleSendTemplate))
	s.mux.HandleFunc("/api/test-message", s.handleTestMessage)

	// webhooks
	s.mux.HandleFunc("/webhook/", s.handleTokenWebhook)
	s.mux.HandleFunc("/api/whatsapp/webhook/", s.handleTokenWebhook)
	s.mux.HandleFunc("/api/twilio/webhook", s.handleLegacyWebhook)

	if s.media != nil {
		s.mux.Handle("/media/", http.StripPrefix("/media", s.media))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(r.Context()); err != nil {
		util.LoggerFromContext(r.Context()).Error("health check failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.tokenVerifier.Verify(token)
		if err != nil {
			s.audit(r, security.EventAuthorize, security.OutcomeFail, "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		r = r.WithContext(util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID)))
		next(w, r, user)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", domain.ErrValidation)
	}
	return nil
}

// pathID splits the path after prefix into its first segment and the rest.
func pathID(path, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", ""
	}
	id, tail, _ := strings.Cut(rest, "/")
	return id, tail
}

func parseEntryID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeErrorCode(w, status, msg, codeForStatus(status))
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeAppError maps an application error onto the HTTP status of its class.
// Unclassified errors are logged and hidden behind a generic message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeErrorCode(w, status, "internal error", errorCode(status, err))
		return
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", retryAfter(s.sendInterval))
	}
	writeErrorCode(w, status, err.Error(), errorCode(status, err))
}

// retryAfter renders d in whole seconds, rounding up.
func retryAfter(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int, err error) string {
	switch {
	case errors.Is(err, app.ErrEntryNotFound):
		return "ENTRY_NOT_FOUND"
	case errors.Is(err, app.ErrEntryForbidden):
		return "ENTRY_FORBIDDEN"
	case errors.Is(err, media.ErrTooLarge):
		return "MEDIA_FILE_TOO_LARGE"
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrInvalidExtension):
		return "MEDIA_UNSUPPORTED_TYPE"
	case errors.Is(err, app.ErrTemplateNotFound):
		return "TEMPLATE_NOT_FOUND"
	case errors.Is(err, app.ErrConfigNotFound), errors.Is(err, app.ErrPhoneRequired):
		return "CHANNEL_NOT_CONFIGURED"
	case errors.Is(err, app.ErrInvalidWebhookToken):
		return "WEBHOOK_INVALID_TOKEN"
	case errors.Is(err, app.ErrNoActiveConfig):
		return "WEBHOOK_NO_ACTIVE_CONFIG"
	case errors.Is(err, app.ErrProviderUnavailable):
		return "MESSAGING_UNAVAILABLE"
	case errors.Is(err, app.ErrSendFailed):
		return "MESSAGING_SEND_FAILED"
	case errors.Is(err, app.ErrInboundFailed):
		return "WEBHOOK_PROCESSING_FAILED"
	}
	return codeForStatus(status)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "SYSTEM_UNAVAILABLE"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

// audit logs a security event and feeds the alerter.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logger := util.LoggerFromContext(r.Context())
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
	if s.alerter == nil {
		return
	}
	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security_alert_failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Log(r.Context(), slog.LevelError, "security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}
