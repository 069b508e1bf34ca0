package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatcine/chatcine/internal/common"
	"github.com/chatcine/chatcine/internal/config"
	"github.com/chatcine/chatcine/internal/httpapi/handlers"
	"github.com/chatcine/chatcine/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, cfg config.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Chat-Session"},
		ExposeHeaders:   []string{"X-Request-ID", "X-Chat-Session"},
		MaxAge:          12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	// users register + auth
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// conversation: anonymous sessions allowed, identity attached when a
	// valid token is present
	turnGroup := r.Group("/")
	turnGroup.Use(middleware.AuthOptional(cfg.JWTSecret))
	turnGroup.POST("/chat", h.SendTurn)
	turnGroup.GET("/chat/history", h.GetChatHistory)

	// movie metadata
	r.GET("/movies/:id", h.GetMovie)
	r.GET("/movies/:id/recommendations", h.GetMovieRecommendations)

	// JWT required
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/chat/async", h.SendTurnAsync)
	authGroup.GET("/chat/jobs/:job_id", h.GetChatJob)

	return r
}
