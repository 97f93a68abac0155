package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"convohub/internal/models"
)

// MessageService is the mutation engine surface the REST layer needs.
type MessageService interface {
	Create(ctx context.Context, userID string, in models.NewMessage) (models.MessageView, error)
	History(ctx context.Context, userID, chatID string, page, limit int) (models.MessagePage, error)
	Pinned(ctx context.Context, userID, chatID string) ([]models.MessageView, error)
	MarkSeen(ctx context.Context, userID, messageID string) (models.MessageView, error)
	MarkAllSeen(ctx context.Context, userID, chatID string) (int64, error)
	Edit(ctx context.Context, userID, messageID, text string) (models.MessageView, error)
	DeleteForMe(ctx context.Context, userID, messageID string) error
	DeleteForEveryone(ctx context.Context, userID, messageID string) (models.MessageView, error)
	React(ctx context.Context, userID, messageID, emoji string) (models.MessageView, error)
	Unreact(ctx context.Context, userID, messageID string) (models.MessageView, error)
	TogglePin(ctx context.Context, userID, messageID string) (models.MessageView, error)
}

// MessageHandler exposes message mutations over REST. Broadcasting happens in
// the service, so REST and socket callers produce identical events.
type MessageHandler struct {
	messages MessageService
}

func NewMessageHandler(messages MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

func (h *MessageHandler) Send(c *gin.Context) {
	var req models.NewMessage
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.messages.Create(requestContext(c), userIDFromContext(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// History pages backwards from the newest message. Bad paging values fall
// back to the defaults.
func (h *MessageHandler) History(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	res, err := h.messages.History(requestContext(c), userIDFromContext(c), c.Param("chat_id"), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *MessageHandler) Pinned(c *gin.Context) {
	msgs, err := h.messages.Pinned(requestContext(c), userIDFromContext(c), c.Param("chat_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *MessageHandler) MarkSeen(c *gin.Context) {
	h.respond(c)(h.messages.MarkSeen(requestContext(c), userIDFromContext(c), c.Param("message_id")))
}

func (h *MessageHandler) MarkAllSeen(c *gin.Context) {
	n, err := h.messages.MarkAllSeen(requestContext(c), userIDFromContext(c), c.Param("chat_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *MessageHandler) Edit(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.messages.Edit(requestContext(c), userIDFromContext(c), c.Param("message_id"), req.Text))
}

func (h *MessageHandler) DeleteForMe(c *gin.Context) {
	if err := h.messages.DeleteForMe(requestContext(c), userIDFromContext(c), c.Param("message_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted for you"})
}

func (h *MessageHandler) DeleteForEveryone(c *gin.Context) {
	h.respond(c)(h.messages.DeleteForEveryone(requestContext(c), userIDFromContext(c), c.Param("message_id")))
}

func (h *MessageHandler) React(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	h.respond(c)(h.messages.React(requestContext(c), userIDFromContext(c), c.Param("message_id"), req.Emoji))
}

func (h *MessageHandler) Unreact(c *gin.Context) {
	h.respond(c)(h.messages.Unreact(requestContext(c), userIDFromContext(c), c.Param("message_id")))
}

func (h *MessageHandler) TogglePin(c *gin.Context) {
	h.respond(c)(h.messages.TogglePin(requestContext(c), userIDFromContext(c), c.Param("message_id")))
}

func (h *MessageHandler) respond(c *gin.Context) func(models.MessageView, error) {
	return func(msg models.MessageView, err error) {
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, msg)
	}
}
