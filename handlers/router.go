package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tourtrack/api/middleware"
	"tourtrack/api/utils"
)

type RouterConfig struct {
	Tours    *TourHandlers
	Stats    *StatsHandlers // nil when no action-log archive is configured
	Auth     *AuthHandlers
	Tokens   *utils.TokenIssuer
	APIKey   string
	FEOrigin string
}

// NewRouter registers the public tour endpoints used by the client state
// machine and the protected reporting endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg.FEOrigin))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/signup", cfg.Auth.Signup)
		api.POST("/login", cfg.Auth.Login)
		api.POST("/logout", cfg.Auth.Logout)

		tours := api.Group("/tours/sessions")
		{
			tours.POST("", cfg.Tours.CreateSession)
			tours.GET("/:id/exists", cfg.Tours.SessionExists)
			tours.POST("/:id/complete", cfg.Tours.CompleteSession)
			tours.POST("/:id/milestones", cfg.Tours.RecordMilestone)
		}

		protected := api.Group("/")
		protected.Use(middleware.AuthRequired(cfg.Tokens, cfg.APIKey))
		{
			protected.POST("/tours/sessions/:id/dispatch", cfg.Tours.RetryDispatch)
			protected.GET("/tours/summary", cfg.Tours.GetSummary)

			protected.GET("/profile", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{
					"user_id":     c.GetInt("user_id"),
					"user_email":  c.GetString("user_email"),
					"auth_method": c.GetString("auth_method"),
					"ip_address":  c.ClientIP(),
				})
			})

			if cfg.Stats != nil {
				stats := protected.Group("/stats")
				{
					stats.GET("/action-counts", cfg.Stats.GetActionCountsOverTime)
					stats.GET("/average-dwell", cfg.Stats.GetAverageRoomDwell)
					stats.GET("/top-rooms", cfg.Stats.GetTopRooms)
				}
			}
		}
	}
	return r
}
