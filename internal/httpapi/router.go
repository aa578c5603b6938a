package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/quietriver/chatrelay/internal/common"
	"github.com/quietriver/chatrelay/internal/httpapi/handlers"
	"github.com/quietriver/chatrelay/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.RequestID())
	r.Use(cors.Default())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.POST("/captcha", h.SendCaptcha)
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	authGroup.POST("/room-create", h.RoomCreate)
	authGroup.POST("/room-rename", h.RoomRename)
	authGroup.POST("/room-delete", h.RoomDelete)
	authGroup.GET("/room-list", h.RoomList)

	// Route name kept for wire compatibility with existing clients.
	authGroup.GET("/chat-hisroty", h.ChatHistory)
	authGroup.POST("/chat-process", h.ChatProcess)
	authGroup.POST("/chat", h.Chat)
	authGroup.POST("/chat-delete", h.ChatDelete)
	authGroup.POST("/chat-clear", h.ChatClear)
	authGroup.POST("/chat-regenerate-async", h.ChatRegenerateAsync)
	authGroup.GET("/chat-job/:job_id", h.GetChatJob)

	return r
}
