package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"observability-demo/internal/application/services"
	"observability-demo/internal/domain/user"
	apperrors "observability-demo/pkg/errors"
)

const maxBodyBytes = 1 << 20

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	service *services.UserService
	logger  *zap.Logger
	now     func() time.Time
}

// NewUserHandler creates a new user handler
func NewUserHandler(service *services.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListUsers handles GET /users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	annotate(r.Context(), "users.count", len(users))
	respondJSON(w, h.logger, http.StatusOK, users)
}

// CreateUser handles POST /users. A created user is answered with 200.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req user.CreateUserRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, r, h.logger, apperrors.NewValidation("Invalid request body: "+err.Error()))
		return
	}

	created, err := h.service.CreateUser(r.Context(), req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	event(r.Context(), "user_created", map[string]any{"user.id": created.ID})
	respondJSON(w, h.logger, http.StatusOK, created)
}

// GetUser handles GET /users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	annotate(r.Context(), "user.id", id)

	u, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, u)
}

// DeleteUser handles DELETE /users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	annotate(r.Context(), "user.id", id)

	deleted, err := h.service.DeleteUser(r.Context(), id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, MessageResponse{
		Message:   fmt.Sprintf("User %s deleted successfully", deleted.Name),
		Timestamp: h.now(),
		Data:      map[string]any{"deleted_user_id": deleted.ID},
	})
}

func userID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidation(fmt.Sprintf("id must be an integer, got %q", raw))
	}
	return id, nil
}
