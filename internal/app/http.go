package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/slug"
	"agora/api/internal/store"
	"agora/api/internal/util"
)

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	metricsHandler http.Handler
}

type ServerOption func(*HTTPServer)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *HTTPServer) { s.metricsHandler = h }
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metricsHandler != nil {
		s.metricsHandler.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      session.UserName,
			"userId":        session.UserID,
			"email":         session.Email,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name, body.Email)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"userName":  session.UserName,
			"userId":    session.UserID,
			"expiresAt": session.ExpiresAt,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "conversations" {
		s.handleConversations(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	// The slug cache is optional, so a failing cache degrades but does not
	// fail readiness.
	if s.service.CacheEnabled() {
		checks["cache"] = map[string]any{"status": "ok"}
		if err := s.service.PingCache(ctx); err != nil {
			checks["cache"] = map[string]any{
				"status": "degraded",
				"error":  err.Error(),
			}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
			return
		}
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body CreateConversationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
			return
		}
		item, err := s.service.CreateConversation(r.Context(), session, body)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"conversation": conversationJSON(item)})
		return
	}

	key := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
		return
	}

	var session Session
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		session = s.optionalSession(r)
	} else {
		var ok bool
		if session, ok = s.requireSession(w, r); !ok {
			return
		}
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		item, ok := s.resolve(w, r, session, key)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversation": conversationJSON(item)})

	case action == "contributions" && r.Method == http.MethodGet:
		item, ok := s.resolve(w, r, session, key)
		if !ok {
			return
		}
		items, err := s.service.ListContributions(r.Context(), session, item.ID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		out := make([]contributionResponse, 0, len(items))
		for _, contribution := range items {
			out = append(out, contributionJSON(contribution))
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversationId": item.ID, "contributions": out})

	case action == "contributions" && r.Method == http.MethodPost:
		var body struct {
			Content string  `json:"content"`
			Tone    *string `json:"tone"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
			return
		}
		if _, err := ValidateContribution(body.Content, body.Tone); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		item, ok := s.resolve(w, r, session, key)
		if !ok {
			return
		}
		s.handleAppend(w, r, session, item, body.Content, body.Tone)

	case action == "title" && r.Method == http.MethodPut:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
			return
		}
		if _, err := NormalizeTitle(body.Title); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		item, ok := s.resolve(w, r, session, key)
		if !ok {
			return
		}
		updated, err := s.service.UpdateTitle(r.Context(), session, item.ID, body.Title)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversation": conversationJSON(updated)})

	case action == "slug" && r.Method == http.MethodPut:
		var body struct {
			Slug string `json:"slug"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidBody, err.Error(), nil)
			return
		}
		if _, err := NormalizeSlug(body.Slug); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		item, ok := s.resolve(w, r, session, key)
		if !ok {
			return
		}
		updated, err := s.service.RenameSlug(r.Context(), session, item.ID, body.Slug)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversation": conversationJSON(updated)})

	default:
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleAppend(w http.ResponseWriter, r *http.Request, session Session, item store.Conversation, content string, tone *string) {
	input := AppendContributionInput{
		ConversationID: item.ID,
		Content:        content,
		Tone:           tone,
		CurrentSlug:    item.Slug,
	}
	if title := item.ExplicitTitle(); title != "" {
		input.ConversationTitle = &title
	}

	result, err := s.service.AppendContribution(r.Context(), session, input)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var currentSlug any
	switch {
	case result.Slug != "":
		currentSlug = result.Slug
	case item.Slug != nil:
		currentSlug = *item.Slug
	}
	response := map[string]any{
		"contribution": contributionJSON(result.Contribution),
		"slug":         currentSlug,
	}
	if result.SlugErr != nil {
		_, code, message, _ := mapError(result.SlugErr)
		response["warnings"] = []map[string]any{{"code": code, "error": message, "step": "slug"}}
	}
	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) resolve(w http.ResponseWriter, r *http.Request, session Session, key string) (store.Conversation, bool) {
	result := s.service.Resolve(r.Context(), session, key)
	if result.Kind != ResolutionFound {
		s.writeServiceError(w, r, result.AsError())
		return store.Conversation{}, false
	}
	return result.Conversation, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

// optionalSession treats a missing or invalid token as an anonymous caller.
func (s *HTTPServer) optionalSession(r *http.Request) Session {
	token := bearerToken(r)
	if token == "" {
		return Session{}
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return Session{}
	}
	return session
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.log.Error().
			Err(err).
			Str("request_id", requestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.service.metrics.ObserveHTTP(r.Method, writer.status, elapsed)
		s.service.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	return util.NewID("req")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// mapError translates service and store errors into an HTTP status, code and
// message. Unrecognized failures are transient, never NOT_FOUND.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		e := notFoundError()
		return e.Status, e.Code, e.Message, nil
	case errors.Is(err, store.ErrPermissionDenied):
		e := forbiddenError()
		return e.Status, e.Code, e.Message, nil
	case errors.Is(err, store.ErrSlugTaken):
		return http.StatusConflict, codeConflict, "slug is already in use", nil
	case errors.Is(err, slug.ErrCeilingExceeded):
		return http.StatusConflict, codeConflict, "no free slug found for this conversation", nil
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, codeUnauthorized, "Unauthorized", nil
	}
	e := transientError()
	return e.Status, e.Code, e.Message, nil
}
