package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/partypen/go-backend/internal/prompt"
	"github.com/danielpatrickdp/partypen/go-backend/internal/quota"
	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
	"github.com/danielpatrickdp/partypen/go-backend/internal/verify"
)

// Version is set at build time or defaults to dev.
var Version = "0.1.0-dev"

// UserHeader carries the authenticated user id, set by the gateway in
// front of this service.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

// Handlers holds the HTTP handler methods for the API.
type Handlers struct {
	svc *Service
}

// NewHandlers creates Handlers backed by svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// RegisterRoutes registers all API routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, svc *Service) {
	h := NewHandlers(svc)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("POST /v1/generate", h.authed(h.HandleGenerate))
	mux.HandleFunc("GET /v1/usage", h.authed(h.HandleUsage))
	mux.HandleFunc("POST /v1/verify", h.authed(h.HandleVerify))
	mux.HandleFunc("POST /v1/style", h.authed(h.HandleStyle))
	mux.HandleFunc("POST /v1/evaluate", h.HandleEvaluate)
	mux.HandleFunc("POST /v1/news", h.HandleNews)
	mux.HandleFunc("GET /v1/memory", h.authed(h.HandleMemory))
	mux.HandleFunc("DELETE /v1/memory", h.authed(h.HandleForget))
	mux.HandleFunc("POST /v1/memory/feedback", h.authed(h.HandleFeedback))
}

// userHandler is a handler that needs the caller's user id.
type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (h *Handlers) authed(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next(w, r, userID)
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   Version,
		Platforms: prompt.Names(),
	})
}

// HandleGenerate runs the generation pipeline. A denied quota returns 402
// with the usage decision in the body.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request, userID string) {
	var req GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.svc.Generate(r.Context(), userID, req)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		writeJSON(w, http.StatusPaymentRequired, resp)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleUsage returns the caller's plan and remaining allowance.
func (h *Handlers) HandleUsage(w http.ResponseWriter, r *http.Request, userID string) {
	decision, err := h.svc.Usage(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// HandleVerify classifies an uploaded membership document.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request, userID string) {
	var req VerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.svc.Verify(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleStyle classifies writing samples.
func (h *Handlers) HandleStyle(w http.ResponseWriter, r *http.Request, userID string) {
	var req StyleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.svc.Style(userID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleEvaluate scores a post without generating.
func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev, err := h.svc.Evaluate(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// HandleNews fetches and compresses news for a query.
func (h *Handlers) HandleNews(w http.ResponseWriter, r *http.Request) {
	var req NewsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.svc.News(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleMemory lists remembered phrases. Query params: platform, k.
func (h *Handlers) HandleMemory(w http.ResponseWriter, r *http.Request, userID string) {
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "k must be a non-negative integer")
			return
		}
		k = n
	}
	resp, err := h.svc.Memory(userID, r.URL.Query().Get("platform"), k)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleFeedback records a like or dislike for a phrase.
func (h *Handlers) HandleFeedback(w http.ResponseWriter, r *http.Request, userID string) {
	var req FeedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.Feedback(userID, req); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleForget drops the caller's phrase memory.
func (h *Handlers) HandleForget(w http.ResponseWriter, _ *http.Request, userID string) {
	resp, err := h.svc.Forget(userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CORSMiddleware wraps a handler with CORS headers.
// If allowedOrigins is empty, no CORS header is set (same-origin only).
func CORSMiddleware(next http.Handler, allowedOrigins ...string) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, verify.ErrEmptyDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, quota.ErrQuotaExceeded):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("[API] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Code: code})
}
