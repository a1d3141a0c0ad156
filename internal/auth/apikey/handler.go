package apikey

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/logger"
	"github.com/go-chi/chi/v5"
)

// Handler serves key management under an already authenticated route.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

type createRequest struct {
	Name string `json:"name"`
	TTL  string `json:"ttl,omitempty"`
}

type createResponse struct {
	Key string `json:"key"`
	KeyInfo
}

// Create handles POST /api/v1/admin/keys. The raw key appears only in this
// response.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "ttl must be a positive duration")
			return
		}
		ttl = d
	}
	raw, info, err := h.store.CreateKey(r.Context(), req.Name, ttl)
	if err != nil {
		logger.FromContext(r.Context()).Error("creating api key", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{Key: raw, KeyInfo: *info})
}

// List handles GET /api/v1/admin/keys.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.List(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("listing api keys", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	if keys == nil {
		keys = []KeyInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

// Revoke handles DELETE /api/v1/admin/keys/{id}.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	err := h.store.Revoke(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, ErrInvalidKey):
		writeError(w, http.StatusNotFound, "api key not found")
	case err != nil:
		logger.FromContext(r.Context()).Error("revoking api key", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to revoke api key")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
