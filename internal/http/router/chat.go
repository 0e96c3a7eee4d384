package router

import (
	"github.com/gin-gonic/gin"

	"crmdesk.app/chatsync/internal/http/handler"
)

// ChatRouter sets up the conversation and send endpoints. All routes require
// an authenticated identity.
func ChatRouter(rg *gin.RouterGroup, h *handler.ChatHandler) {
	rg.POST("/send", h.SendMessage)
	rg.POST("/feedback", h.SetFeedback)

	rg.POST("/conversations", h.NewConversation)
	rg.GET("/conversations", h.ListConversations)
	rg.GET("/conversations/active", h.GetActive)
	rg.GET("/conversations/:id", h.OpenConversation)
	rg.DELETE("/conversations/:id", h.DeleteConversation)
}
