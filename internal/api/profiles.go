package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agora-labs/internal/domain"
	"github.com/ashureev/agora-labs/internal/profile"
)

// ListProfiles handles GET /api/profiles.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"profiles": h.profiles.List()})
}

// GetProfile handles GET /api/profiles/{id}.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.profiles.Load(id)
	if !ok {
		Error(w, http.StatusNotFound, "profile not found")
		return
	}
	JSON(w, http.StatusOK, p)
}

// SaveProfile handles PUT /api/profiles.
func (h *Handler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var p domain.Profile
	if err := decodeJSON(w, r, &p); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.profiles.Save(r.Context(), p); err != nil {
		if errors.Is(err, profile.ErrInvalidSchema) {
			Error(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.Error("Failed to save profile", "profile_id", p.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save profile")
		return
	}

	slog.Info("Profile saved", "profile_id", p.ID)
	JSON(w, http.StatusOK, p)
}
