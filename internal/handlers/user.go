package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"convohub/internal/models"
)

// UserService is the user directory surface the REST layer needs.
type UserService interface {
	List(ctx context.Context, userID string) ([]models.UserSummary, error)
	Profile(ctx context.Context, userID string) (models.UserSummary, error)
	TouchLastSeen(ctx context.Context, userID string) (models.UserSummary, error)
	SetOnlineStatus(ctx context.Context, userID string, online bool) (models.UserSummary, error)
}

// UserHandler serves the user directory endpoints.
type UserHandler struct {
	users UserService
}

func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// ListUsers returns everyone except the caller.
func (h *UserHandler) ListUsers(c *gin.Context) {
	users, err := h.users.List(requestContext(c), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Profile(c *gin.Context) {
	user, err := h.users.Profile(requestContext(c), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) TouchLastSeen(c *gin.Context) {
	user, err := h.users.TouchLastSeen(requestContext(c), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// SetOnlineStatus is a manual override; socket presence remains authoritative.
func (h *UserHandler) SetOnlineStatus(c *gin.Context) {
	var req struct {
		IsOnline *bool `json:"isOnline" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.users.SetOnlineStatus(requestContext(c), userIDFromContext(c), *req.IsOnline)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
