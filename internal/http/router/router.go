package router

import (
	"github.com/gin-gonic/gin"

	"crmdesk.app/chatsync/internal/http/handler"
	"crmdesk.app/chatsync/internal/http/middleware"
)

func SetupRoutes(router *gin.Engine, orch handler.ChatOrchestrator) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity())
	{
		chatHandler := handler.NewChatHandler(orch)
		ChatRouter(v1.Group("/chat"), chatHandler)
	}
}
