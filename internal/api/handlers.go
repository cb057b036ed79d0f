package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mkhodary/chat-gateway/internal/models"
	"github.com/mkhodary/chat-gateway/internal/realtime"
)

// GatewayHandler exposes the hub's collaborator-facing operations to the
// backend CRUD layer over HTTP.
type GatewayHandler struct {
	hub *realtime.Hub
}

// NewGatewayHandler creates a new gateway handler
func NewGatewayHandler(hub *realtime.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// RegisterRoutes registers the collaborator API on the router. Middlewares
// apply to the API subrouter only, so the upgrade endpoint stays unwrapped.
func (h *GatewayHandler) RegisterRoutes(router *mux.Router, middlewares ...Middleware) {
	api := router.PathPrefix("/api/v1").Subrouter()
	if len(middlewares) > 0 {
		api.Use(mux.MiddlewareFunc(ChainMiddleware(middlewares...)))
	}

	api.HandleFunc("/users/online", h.OnlineUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/status", h.UserStatus).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/sessions", h.UserSessions).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/notify", h.Notify).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/disconnect", h.Disconnect).Methods(http.MethodPost)
	api.HandleFunc("/sessions", h.RegisterSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", h.RevokeSession).Methods(http.MethodDelete)
	api.HandleFunc("/broadcast", h.Broadcast).Methods(http.MethodPost)
}

// OnlineUsers handles GET /api/v1/users/online
func (h *GatewayHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	users := h.hub.GetActiveUsers()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// UserStatus handles GET /api/v1/users/{id}/status
func (h *GatewayHandler) UserStatus(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	connected, count := h.hub.GetConnectionStatus(userID)
	presence := h.hub.GetUserStatus(userID)

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      userID,
		"connected":    connected,
		"connections":  count,
		"state":        presence.State,
		"last_seen_at": presence.LastSeenAt,
	})
}

// UserSessions handles GET /api/v1/users/{id}/sessions
func (h *GatewayHandler) UserSessions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	sessions, err := h.hub.GetUserSessions(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve sessions")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

type registerSessionRequest struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	DeviceInfo string `json:"device_info"`
}

// RegisterSession handles POST /api/v1/sessions
func (h *GatewayHandler) RegisterSession(w http.ResponseWriter, r *http.Request) {
	var req registerSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		respondWithError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	session := &models.Session{
		ID:         req.ID,
		UserID:     req.UserID,
		DeviceInfo: req.DeviceInfo,
		CreatedAt:  time.Now(),
	}
	if err := h.hub.RegisterSession(r.Context(), session); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to register session")
		return
	}

	respondWithJSON(w, http.StatusCreated, session)
}

// RevokeSession handles DELETE /api/v1/sessions/{id}. The requesting user
// is taken from the X-User-ID header; X-Admin: true skips the ownership
// check (authorization is enforced upstream).
func (h *GatewayHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var err error
	if r.Header.Get("X-Admin") == "true" {
		err = h.hub.RevokeSessionAdmin(r.Context(), sessionID)
	} else {
		requestingUserID := r.Header.Get("X-User-ID")
		if requestingUserID == "" {
			respondWithError(w, http.StatusBadRequest, "X-User-ID header is required")
			return
		}
		err = h.hub.RevokeSession(r.Context(), sessionID, requestingUserID)
	}

	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	case errors.Is(err, models.ErrSessionNotFound):
		respondWithError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, models.ErrNotSessionOwner):
		respondWithError(w, http.StatusForbidden, "Session does not belong to requesting user")
	case errors.Is(err, models.ErrSessionRevoked):
		respondWithError(w, http.StatusConflict, "Session already revoked")
	default:
		respondWithError(w, http.StatusInternalServerError, "Failed to revoke session")
	}
}

type notifyRequest struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	ExceptUserID string `json:"except_user_id,omitempty"`
}

// Notify handles POST /api/v1/users/{id}/notify
func (h *GatewayHandler) Notify(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = "notification"
	}

	report := h.hub.SendNotification(userID, req.Message, req.Type)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"delivered": report.Delivered,
		"failed":    report.Failed,
	})
}

// Broadcast handles POST /api/v1/broadcast
func (h *GatewayHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = "broadcast"
	}

	var report realtime.DeliveryReport
	if req.ExceptUserID != "" {
		report = h.hub.BroadcastMessageExcept(req.ExceptUserID, req.Message, req.Type)
	} else {
		report = h.hub.BroadcastMessage(req.Message, req.Type)
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"delivered": report.Delivered,
		"failed":    report.Failed,
	})
}

// Disconnect handles POST /api/v1/users/{id}/disconnect. Privileged;
// authorization is enforced by the caller.
func (h *GatewayHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	closed := h.hub.DisconnectUser(userID)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":            userID,
		"connections_closed": closed,
	})
}
