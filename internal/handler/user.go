package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixelgrove/pixelgrove/internal/model"
	"github.com/pixelgrove/pixelgrove/internal/repository"
	"github.com/pixelgrove/pixelgrove/internal/session"
)

// UserStore defines the user lookups the handler needs.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// UserHandler manages user endpoints.
type UserHandler struct {
	logger *slog.Logger
	store  UserStore
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(logger *slog.Logger, store UserStore) *UserHandler {
	return &UserHandler{
		logger: logger,
		store:  store,
	}
}

// Get dispatches /api/users/{id}. Only "me" is served today; lookup of
// other users by id is reserved.
//
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if id == "me" {
		h.me(w, r)
		return
	}

	if _, err := uuid.Parse(id); err == nil {
		writeProblem(w, http.StatusNotImplemented, "User lookup by id is not implemented.")
		return
	}

	writeProblem(w, http.StatusBadRequest, "Invalid user id.")
}

// me returns the authenticated user's record.
func (h *UserHandler) me(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		writeProblem(w, http.StatusUnauthorized, "Authentication required.")
		return
	}

	user, err := h.store.GetUserByID(r.Context(), sess.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Session outlived the user row.
			writeProblem(w, http.StatusNotFound, "User not found.")
			return
		}
		h.logger.Error("failed to load current user",
			slog.String("error", err.Error()),
			slog.String("user_id", sess.UserID),
		)
		writeProblem(w, http.StatusInternalServerError, "Unable to load user.")
		return
	}

	writeJSON(w, http.StatusOK, user)
}
