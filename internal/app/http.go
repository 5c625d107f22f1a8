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
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"rangeclaims/api/internal/evidence"
	"rangeclaims/api/internal/metrics"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		metrics:    service.metrics,
		log:        service.log,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/api/listings/{listingID}", s.handleGetListing)

	r.Group(func(r chi.Router) {
		r.Use(s.requireCaller)

		r.Post("/api/claims", s.handleSubmitClaim)
		r.Get("/api/claims/mine", s.handleMyClaims)
		r.Get("/api/claims/{claimID}", s.handleGetClaim)
		r.Post("/api/claims/{claimID}/documents", s.handleAttachDocument)

		r.Route("/api/admin", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/claims", s.handleListClaims)
			r.Get("/claims/{claimID}/history", s.handleClaimHistory)
			r.Post("/claims/{claimID}/contacted", s.handleContacted)
			r.Post("/claims/{claimID}/approve", s.handleApprove)
			r.Post("/claims/{claimID}/reject", s.handleReject)
			r.Post("/claims/{claimID}/revoke", s.handleRevoke)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, notFoundError("ROUTE_NOT_FOUND", "Route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "code": "METHOD_NOT_ALLOWED", "error": "Method not allowed"})
	})
	return r
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

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type callerKey struct{}

// requireCaller resolves the bearer token into a Caller or rejects with 401.
func (s *HTTPServer) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, unauthenticatedError())
			return
		}
		caller, err := s.service.CallerFromToken(r.Context(), token)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(r *http.Request) Caller {
	caller, _ := r.Context().Value(callerKey{}).(Caller)
	return caller
}

func (s *HTTPServer) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.service.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"listing": listing})
}

func (s *HTTPServer) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ListingID string `json:"listingId"`
		ContactFields
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, validationError("INVALID_BODY", err.Error()))
		return
	}
	res, err := s.service.SubmitClaim(r.Context(), callerFrom(r), body.ListingID, body.ContactFields)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{
		"claimId":  res.ClaimID,
		"status":   res.Status,
		"notified": res.Notified,
	})
}

func (s *HTTPServer) handleMyClaims(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.MyClaims(r.Context(), callerFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.GetClaim(r.Context(), callerFrom(r), chi.URLParam(r, "claimID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"claim": detail.Claim, "documents": detail.Documents})
}

// maxUploadBytes leaves room for multipart framing around the file itself.
const maxUploadBytes = evidence.MaxSize + 1<<20

func (s *HTTPServer) handleAttachDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, validationError("INVALID_UPLOAD", "Expected a multipart form no larger than 10 MiB"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, validationError("MISSING_FILE", "file is required"))
		return
	}
	defer file.Close()

	doc, err := s.service.AttachClaimDocument(r.Context(), callerFrom(r), chi.URLParam(r, "claimID"), DocumentUpload{
		Kind:        strings.TrimSpace(r.FormValue("kind")),
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"document": doc})
}

func (s *HTTPServer) handleListClaims(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListClaims(r.Context(), callerFrom(r), r.URL.Query().Get("status"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleClaimHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ClaimHistory(r.Context(), callerFrom(r), chi.URLParam(r, "claimID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context(), callerFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *HTTPServer) handleContacted(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes string `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, validationError("INVALID_BODY", err.Error()))
		return
	}
	res, err := s.service.MarkContacted(r.Context(), callerFrom(r), chi.URLParam(r, "claimID"), body.Notes)
	s.writeTransition(w, r, res, err)
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.ApproveClaim(r.Context(), callerFrom(r), chi.URLParam(r, "claimID"))
	s.writeTransition(w, r, res, err)
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, validationError("INVALID_BODY", err.Error()))
		return
	}
	res, err := s.service.RejectClaim(r.Context(), callerFrom(r), chi.URLParam(r, "claimID"), body.Reason)
	s.writeTransition(w, r, res, err)
}

func (s *HTTPServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, validationError("INVALID_BODY", err.Error()))
		return
	}
	res, err := s.service.RevokeClaim(r.Context(), callerFrom(r), chi.URLParam(r, "claimID"), body.Reason)
	s.writeTransition(w, r, res, err)
}

func (s *HTTPServer) writeTransition(w http.ResponseWriter, r *http.Request, res TransitionResult, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	payload := map[string]any{
		"claimId":  res.ClaimID,
		"status":   res.Status,
		"notified": res.Notified,
	}
	if res.NoOp {
		payload["noop"] = true
	}
	writeOK(w, http.StatusOK, payload)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	domainErr := mapError(err)
	if domainErr.Kind == KindDependency {
		s.log.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("reason", domainErr.Reason),
			zap.Error(err),
		)
	}
	writeError(w, domainErr)
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

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.log.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, status int, payload map[string]any) {
	payload["ok"] = true
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, e *DomainError) {
	response := map[string]any{
		"ok":    false,
		"code":  e.Code,
		"error": e.Message,
		"retry": e.Retry,
	}
	if e.Reason != "" {
		response["reason"] = e.Reason
	}
	if e.Details != nil {
		response["details"] = e.Details
	}
	if e.Kind == KindRateLimited {
		if details, ok := e.Details.(map[string]any); ok {
			if seconds, ok := details["retryAfterSeconds"].(int); ok {
				w.Header().Set("Retry-After", fmt.Sprint(seconds))
			}
		}
	}
	writeJSON(w, e.Status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
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
