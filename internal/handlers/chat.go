package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"convohub/internal/models"
	"convohub/internal/services"
)

// ChatService is the chat lifecycle surface the REST layer needs.
type ChatService interface {
	OneToOne(ctx context.Context, userID, recipientID string) (models.ChatView, bool, error)
	CreateGroup(ctx context.Context, userID, name string, memberIDs []string) (models.ChatView, error)
	List(ctx context.Context, userID string) ([]models.ChatView, error)
	Get(ctx context.Context, userID, chatID string) (models.ChatView, error)
	AddMember(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error)
	RemoveMember(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error)
	Leave(ctx context.Context, userID, chatID string) (services.LeaveResult, error)
	TransferAdmin(ctx context.Context, actorID, chatID, memberID string) (models.ChatView, error)
	DeleteGroup(ctx context.Context, actorID, chatID string) error
}

// ChatHandler manages direct and group chat endpoints.
type ChatHandler struct {
	chats ChatService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chats ChatService) *ChatHandler {
	return &ChatHandler{chats: chats}
}

type memberRequest struct {
	MemberID string `json:"memberId" binding:"required"`
}

// ListChats returns the caller's chats, most recently active first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.chats.List(requestContext(c), userIDFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chats.Get(requestContext(c), userIDFromContext(c), c.Param("chat_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// StartChat creates or returns the direct chat with the recipient.
func (h *ChatHandler) StartChat(c *gin.Context) {
	var req struct {
		RecipientID string `json:"recipientId" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	chat, created, err := h.chats.OneToOne(requestContext(c), userIDFromContext(c), req.RecipientID)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, chat)
}

func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name" binding:"required"`
		MemberIDs []string `json:"memberIds" binding:"required,min=1"`
	}
	if !bindJSON(c, &req) {
		return
	}

	chat, err := h.chats.CreateGroup(requestContext(c), userIDFromContext(c), req.Name, req.MemberIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

func (h *ChatHandler) AddMember(c *gin.Context) {
	var req memberRequest
	if !bindJSON(c, &req) {
		return
	}
	chat, err := h.chats.AddMember(requestContext(c), userIDFromContext(c), c.Param("chat_id"), req.MemberID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) RemoveMember(c *gin.Context) {
	var req memberRequest
	if !bindJSON(c, &req) {
		return
	}
	chat, err := h.chats.RemoveMember(requestContext(c), userIDFromContext(c), c.Param("chat_id"), req.MemberID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// LeaveChat answers with the remaining group, or a deletion notice when the
// caller was the last member.
func (h *ChatHandler) LeaveChat(c *gin.Context) {
	res, err := h.chats.Leave(requestContext(c), userIDFromContext(c), c.Param("chat_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if res.Deleted {
		c.JSON(http.StatusOK, gin.H{"message": "group deleted", "deleted": true})
		return
	}
	c.JSON(http.StatusOK, res.Chat)
}

func (h *ChatHandler) TransferAdmin(c *gin.Context) {
	var req memberRequest
	if !bindJSON(c, &req) {
		return
	}
	chat, err := h.chats.TransferAdmin(requestContext(c), userIDFromContext(c), c.Param("chat_id"), req.MemberID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) DeleteGroup(c *gin.Context) {
	if err := h.chats.DeleteGroup(requestContext(c), userIDFromContext(c), c.Param("chat_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "group deleted"})
}
