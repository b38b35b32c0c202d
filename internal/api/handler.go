// Package api provides HTTP handlers for the Agora API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/agora-labs/internal/chat"
	"github.com/ashureev/agora-labs/internal/domain"
	"github.com/ashureev/agora-labs/internal/market"
	"github.com/ashureev/agora-labs/internal/profile"
)

const maxRequestBodySize = 1 << 20

// ProfileService is the profile registry used by the handlers.
type ProfileService interface {
	Save(ctx context.Context, p domain.Profile) error
	Load(id string) (domain.Profile, bool)
	List() []domain.Profile
	Resolve(ids []string) ([]domain.Profile, error)
}

// ChatService runs chat sessions.
type ChatService interface {
	CreateSession(ctx context.Context, id string, agents []domain.Profile) (domain.Session, error)
	PostMessage(ctx context.Context, id, msg string) ([]domain.Response, error)
	HandleMessage(ctx context.Context, id, msg string, agents []domain.Profile) ([]domain.Response, error)
	Session(ctx context.Context, id string) (domain.Session, error)
	ListSessions() []domain.Session
	CloseSession(ctx context.Context, id string) error
}

// MarketService serves coin market data.
type MarketService interface {
	GetCoinByID(ctx context.Context, id string) (market.Coin, error)
	GetTopCryptocurrencies(ctx context.Context, limit int) ([]market.Coin, error)
	GetCoinList(ctx context.Context, limit int) ([]market.Coin, error)
}

// Handler serves the REST and websocket API.
type Handler struct {
	profiles       ProfileService
	chat           ChatService
	market         MarketService
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a new Handler. market may be nil, in which case the
// market routes are not registered.
func NewHandler(profiles ProfileService, chatSvc ChatService, marketSvc MarketService, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		profiles:       profiles,
		chat:           chatSvc,
		market:         marketSvc,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// RegisterRoutes mounts every API route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/profiles", h.ListProfiles)
		r.Put("/profiles", h.SaveProfile)
		r.Get("/profiles/{id}", h.GetProfile)

		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.CloseSession)
		r.Post("/sessions/{id}/messages", h.PostMessage)
		r.Get("/sessions/{id}/ws", h.ServeChatWebSocket)

		r.Post("/chat", h.HandleChat)

		if h.market != nil {
			r.Get("/market/coins", h.GetCoinList)
			r.Get("/market/coins/{id}", h.GetCoin)
			r.Get("/market/top", h.GetTopCoins)
		}
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// chatStatus maps chat and profile errors to HTTP status codes.
func chatStatus(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidSession), errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, chat.ErrSessionLimit):
		return http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// chatErrorMessage returns the client-facing text for err. Internal
// failures are logged and masked.
func chatErrorMessage(err error) (int, string) {
	status := chatStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("Chat request failed", "error", err)
		return status, "internal error"
	}
	return status, err.Error()
}

func writeChatError(w http.ResponseWriter, err error) {
	status, msg := chatErrorMessage(err)
	Error(w, status, msg)
}
