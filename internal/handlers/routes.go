package handlers

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups the REST handlers mounted under /api.
type Handlers struct {
	Users    *UserHandler
	Chats    *ChatHandler
	Messages *MessageHandler
	Invites  *InviteHandler
}

// RegisterRoutes mounts the REST API. Everything except invite verification
// sits behind auth.
func RegisterRoutes(router gin.IRouter, h Handlers, auth gin.HandlerFunc) {
	api := router.Group("/api")
	api.GET("/invites/verify/:token", h.Invites.Verify)

	protected := api.Group("")
	protected.Use(auth)

	users := protected.Group("/users")
	users.GET("", h.Users.ListUsers)
	users.GET("/profile", h.Users.Profile)
	users.PUT("/lastseen", h.Users.TouchLastSeen)
	users.PUT("/online-status", h.Users.SetOnlineStatus)

	chats := protected.Group("/chats")
	chats.GET("", h.Chats.ListChats)
	chats.POST("/one-to-one", h.Chats.StartChat)
	chats.POST("/group", h.Chats.CreateGroup)
	chats.GET("/:chat_id", h.Chats.GetChat)
	chats.PUT("/:chat_id/add-member", h.Chats.AddMember)
	chats.PUT("/:chat_id/remove-member", h.Chats.RemoveMember)
	chats.PUT("/:chat_id/leave", h.Chats.LeaveChat)
	chats.PUT("/:chat_id/admin", h.Chats.TransferAdmin)
	chats.DELETE("/:chat_id", h.Chats.DeleteGroup)

	messages := protected.Group("/messages")
	messages.POST("", h.Messages.Send)
	messages.GET("/:chat_id", h.Messages.History)
	messages.GET("/:chat_id/pinned", h.Messages.Pinned)
	messages.PUT("/chat/:chat_id/mark-all-seen", h.Messages.MarkAllSeen)
	messages.PUT("/:message_id/mark-seen", h.Messages.MarkSeen)
	messages.PUT("/:message_id/edit", h.Messages.Edit)
	messages.PUT("/:message_id/pin", h.Messages.TogglePin)
	messages.DELETE("/:message_id/delete-for-me", h.Messages.DeleteForMe)
	messages.DELETE("/:message_id/delete-for-everyone", h.Messages.DeleteForEveryone)
	messages.POST("/:message_id/react", h.Messages.React)
	messages.DELETE("/:message_id/react", h.Messages.Unreact)

	invites := protected.Group("/invites")
	invites.POST("/send", h.Invites.Send)
	invites.POST("/send-direct", h.Invites.SendDirect)
	invites.POST("/use/:token", h.Invites.Use)
}
