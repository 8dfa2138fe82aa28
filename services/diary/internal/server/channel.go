package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"myndiary/pkg/domain"
	"myndiary/services/diary/internal/app"
	"myndiary/services/diary/internal/security"
)

var testRunMessages = map[string]string{
	app.TestStarted:        "Automatic testing started",
	app.TestAlreadyRunning: "Test messages are already running for this number",
	app.TestRestarted:      "Test restarted with new number",
}

func (s *Server) handleChannelConfig(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.app.GetOrCreateChannelConfig(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPatch, http.MethodPut:
		var patch domain.ChannelConfigPatch
		if err := decodeJSON(r, &patch); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		cfg, err := s.app.UpdateChannelConfig(r.Context(), user, patch)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChannelMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := s.app.ListChannelMessages(r.Context(), user, limit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": msgs,
		"count": len(msgs),
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		templates, err := s.app.ListTemplates(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": templates,
			"count": len(templates),
		})
	case http.MethodPost:
		var in app.TemplateInput
		if err := decodeJSON(r, &in); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		tmpl, err := s.app.CreateTemplate(r.Context(), user, in)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tmpl)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTemplateByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, tail := pathID(r.URL.Path, "/api/whatsapp/templates/")
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch {
	case tail == "" && r.Method == http.MethodDelete:
		if err := s.app.DeleteTemplate(r.Context(), user, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case tail == "send" && r.Method == http.MethodPost:
		res, err := s.app.SendTemplate(r.Context(), user, id)
		if err != nil {
			s.auditSend(r, err)
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case tail == "" || tail == "send":
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type sendTemplateRequest struct {
	To        string            `json:"to"`
	Variables map[string]string `json:"variables"`
}

func (s *Server) handleSendTemplate(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req sendTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	res, err := s.app.SendRaw(r.Context(), req.To, req.Variables)
	if err != nil {
		s.auditSend(r, err)
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"messageSid": res.SID,
	})
}

func (s *Server) auditSend(r *http.Request, err error) {
	if errors.Is(err, domain.ErrRateLimited) {
		s.audit(r, security.EventTemplateSend, security.OutcomeRateLimited)
	}
}

type testMessageRequest struct {
	TestNumber string `json:"testNumber"`
}

func (s *Server) handleTestMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.app.Development() {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":       "Test messages are only available in development",
			"code":        codeForStatus(http.StatusForbidden),
			"environment": s.environment,
		})
		return
	}
	var req testMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if strings.TrimSpace(req.TestNumber) == "" {
		writeError(w, http.StatusBadRequest, "testNumber is required")
		return
	}
	run, err := s.app.StartTestMessages(r.Context(), req.TestNumber)
	if errors.Is(err, app.ErrInvalidTestNumber) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":    "Invalid Italian mobile number",
			"code":     codeForStatus(http.StatusBadRequest),
			"received": req.TestNumber,
			"example":  app.TestNumberExample,
		})
		return
	}
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    testRunMessages[run.Status],
		"status":     run.Status,
		"testNumber": run.Number,
		"interval":   run.Interval,
	})
}
