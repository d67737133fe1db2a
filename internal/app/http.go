package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/auth"
	"github.com/helanludovic-commits/middleware-journea/internal/search"
)

type requestRecorder interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
}

type ServerOptions struct {
	CORSOrigin string
	Logger     *zap.Logger
	// Metrics and MetricsHandler are optional.
	Metrics        requestRecorder
	MetricsHandler http.Handler
	// Now is the clock used for webhook timestamp checks.
	Now func() time.Time
}

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	logger         *zap.Logger
	metrics        requestRecorder
	metricsHandler http.Handler
	now            func() time.Time
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	s := &HTTPServer{
		service:        service,
		corsOrigin:     opts.CORSOrigin,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		metricsHandler: opts.MetricsHandler,
		now:            opts.Now,
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/webhooks/crm" || r.URL.Path == "/api/webhooks" {
		s.handleWebhook(w, r)
		return
	}

	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
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
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metricsHandler != nil {
		s.metricsHandler.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/clients" {
		s.handleClientSearch(w, r)
		return
	}

	if r.URL.Path == "/api/itineraries" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body CreateItineraryInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateItinerary(r.Context(), body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "itineraries" {
		s.handleItinerary(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.service.MaxBodyBytes()))
	if err != nil {
		if isTooLarge(err) {
			writeText(w, http.StatusRequestEntityTooLarge, "Payload Too Large")
			return
		}
		writeText(w, http.StatusBadRequest, "Could not read body")
		return
	}

	if secret := s.service.WebhookSecret(); secret != "" {
		err := auth.Verify([]byte(secret),
			r.Header.Get(auth.TimestampHeader),
			r.Header.Get(auth.SignatureHeader),
			body, s.now(), auth.DefaultMaxSkew)
		if err != nil {
			s.logger.Warn("webhook rejected",
				zap.String("request_id", requestID(r.Context())),
				zap.Error(err),
			)
			writeText(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
	}

	message, err := s.service.HandleWebhook(r.Context(), body)
	if err != nil {
		s.logger.Error("webhook processing failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeText(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeText(w, http.StatusOK, message)
}

func (s *HTTPServer) handleClientSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:     query.Get("q"),
		TenantID: query.Get("tenantId"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer", nil)
			return
		}
		q.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be a non-negative integer", nil)
			return
		}
		q.Offset = offset
	}
	payload, err := s.service.SearchClients(r.Context(), q)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleItinerary(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	action := ""
	if len(rest) == 1 {
		action = rest[0]
	} else if len(rest) > 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		payload, err := s.service.GetItinerary(r.Context(), id)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case action == "draft" && r.Method == http.MethodPut:
		content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.service.MaxBodyBytes()))
		if err != nil {
			if isTooLarge(err) {
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Draft is too large", nil)
				return
			}
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read body", nil)
			return
		}
		status, err := s.service.SaveDraft(r.Context(), id, content)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)

	case action == "save-state" && r.Method == http.MethodGet:
		status, err := s.service.SaveState(r.Context(), id)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)

	case action == "save" && r.Method == http.MethodPost:
		status, err := s.service.SaveNow(r.Context(), id)
		if err != nil {
			code, errCode, message, _ := mapError(err)
			writeError(w, code, errCode, message, status)
			return
		}
		writeJSON(w, http.StatusOK, status)

	case action == "session" && r.Method == http.MethodDelete:
		status, err := s.service.CloseDocument(r.Context(), id)
		if err != nil {
			code, errCode, message, _ := mapError(err)
			if code == http.StatusNotFound {
				writeError(w, code, errCode, message, nil)
				return
			}
			writeError(w, code, errCode, message, status)
			return
		}
		writeJSON(w, http.StatusOK, status)

	case action == "share-link" && r.Method == http.MethodPost:
		var body struct {
			ShareURL string `json:"shareUrl"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ShareItinerary(r.Context(), id, body.ShareURL)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case action == "crm-sync" && r.Method == http.MethodPost:
		payload, err := s.service.SyncItineraryToCRM(r.Context(), id)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case action == "" || action == "draft" || action == "save-state" || action == "save" || action == "session" || action == "share-link" || action == "crm-sync":
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		took := time.Since(started)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), writer.status, took)
		}
		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", took.Milliseconds()),
		)
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
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// routeLabel collapses ids so metric label cardinality stays bounded.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "itineraries" {
		parts[2] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, message)
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

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
