package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"convohub/internal/models"
	"convohub/internal/services"
)

// InviteService is the invitation surface the REST layer needs.
type InviteService interface {
	Send(ctx context.Context, inviterID, email, chatID string) (services.InviteResult, error)
	SendDirect(ctx context.Context, inviterID, email string) (services.InviteResult, error)
	Verify(ctx context.Context, token string) (models.InviteView, error)
	Use(ctx context.Context, userID, token string) (*models.ChatView, error)
}

// InviteHandler issues and redeems email invitations.
type InviteHandler struct {
	invites InviteService
}

func NewInviteHandler(invites InviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

func (h *InviteHandler) Send(c *gin.Context) {
	var req struct {
		Email  string `json:"email" binding:"required"`
		ChatID string `json:"chatId" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.invites.Send(requestContext(c), userIDFromContext(c), req.Email, req.ChatID)
	h.respondResult(c, res, err)
}

func (h *InviteHandler) SendDirect(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.invites.SendDirect(requestContext(c), userIDFromContext(c), req.Email)
	h.respondResult(c, res, err)
}

// Verify is public: the signup page calls it before the invitee has an account.
func (h *InviteHandler) Verify(c *gin.Context) {
	invite, err := h.invites.Verify(requestContext(c), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "invite": invite})
}

func (h *InviteHandler) Use(c *gin.Context) {
	chat, err := h.invites.Use(requestContext(c), userIDFromContext(c), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invite accepted", "chat": chat})
}

func (h *InviteHandler) respondResult(c *gin.Context, res services.InviteResult, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}
