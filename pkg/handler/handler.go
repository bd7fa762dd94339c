// Package handler implements the HTTP API of the popup and the one-shot
// page filter.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"forumfilter/pkg/blocklist"
	"forumfilter/pkg/page"
	"forumfilter/pkg/popup"
	"forumfilter/pkg/version"
)

const (
	// MaxPageSize bounds the body accepted by the filter endpoint.
	MaxPageSize = 16 << 20

	// CountsHeader carries the JSON counts of a filter request.
	CountsHeader = "X-Filter-Counts"
)

type Handler struct {
	popup *popup.Popup
	pages page.Deps
	log   *slog.Logger
}

type nameRequest struct {
	Name string `json:"name"`
}

type toggleResponse struct {
	Name  string         `json:"name"`
	Mode  blocklist.Mode `json:"mode"`
	Label string         `json:"label"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(p *popup.Popup, pages page.Deps, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{popup: p, pages: pages, log: log}
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Version:   version.ForumfilterVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ListAuthors handles GET /api/authors and GET /api/users.
func (h *Handler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	v, err := h.popup.View(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// AddAuthor handles POST /api/authors.
func (h *Handler) AddAuthor(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := parseJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	added, err := h.popup.Add(r.Context(), req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondView(w, r, addedStatus(added))
}

// RemoveAuthor handles DELETE /api/authors/{name}.
func (h *Handler) RemoveAuthor(w http.ResponseWriter, r *http.Request) {
	name, ok := nameParam(w, r)
	if !ok {
		return
	}
	if err := h.popup.Remove(r.Context(), name); err != nil {
		h.fail(w, err)
		return
	}
	h.respondView(w, r, http.StatusOK)
}

// ToggleAuthor handles POST /api/authors/{name}/toggle.
func (h *Handler) ToggleAuthor(w http.ResponseWriter, r *http.Request) {
	name, ok := nameParam(w, r)
	if !ok {
		return
	}
	mode, found, err := h.popup.Toggle(r.Context(), name)
	if err != nil {
		h.fail(w, err)
		return
	}
	if !found {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("author %q is not blocked", name)})
		return
	}
	v, err := h.popup.View(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := toggleResponse{Name: name, Mode: mode, Label: mode.Label(0, 0)}
	for _, row := range v.Authors {
		if blocklist.SameName(row.Name, name) {
			resp = toggleResponse{Name: row.Name, Mode: row.Mode, Label: row.Label}
			break
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// AddUser handles POST /api/users.
func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := parseJSON(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	added, err := h.popup.AddUser(r.Context(), req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondView(w, r, addedStatus(added))
}

// RemoveUser handles DELETE /api/users/{name}.
func (h *Handler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	name, ok := nameParam(w, r)
	if !ok {
		return
	}
	if err := h.popup.RemoveUser(r.Context(), name); err != nil {
		h.fail(w, err)
		return
	}
	h.respondView(w, r, http.StatusOK)
}

// Filter handles POST /api/filter: the body is a forum page, the response
// is the same page with blocked and hidden entries set to display:none.
func (h *Handler) Filter(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxPageSize)
	p, err := page.Load(body, h.pages)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "page too large"})
			return
		}
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable page"})
		return
	}
	p.Refresh(r.Context())

	counts, err := json.Marshal(p.Counts())
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set(CountsHeader, string(counts))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := p.Render(w); err != nil {
		h.log.Error("failed to write filtered page", "page", p.ID(), "error", err)
	}
}

func (h *Handler) respondView(w http.ResponseWriter, r *http.Request, status int) {
	v, err := h.popup.View(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, status, v)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, blocklist.ErrEmptyName) {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	h.log.Error("request failed", "error", err)
	respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func addedStatus(added bool) int {
	if added {
		return http.StatusCreated
	}
	return http.StatusOK
}

// nameParam returns the {name} segment. chi hands back the escaped form only
// when the request path needed escaping, so only then is it unescaped.
func nameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid name"})
			return "", false
		}
		name = unescaped
	}
	if name == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid name"})
		return "", false
	}
	return name, true
}

func parseJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Logging logs every request at debug level.
func Logging(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("handled request",
				"method", r.Method,
				"uri", r.RequestURI,
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
