package router

import (
	"database/sql"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/incidentflow/api/handlers"
	"github.com/incidentflow/api/internal/config"
	"github.com/incidentflow/api/services"
)

func NewGinRouter(pg *sql.DB, rdb *redis.Client) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize services
	jwtService := services.NewJWTService(config.App.JWTSecret, time.Duration(config.App.JWTTTLHours)*time.Hour)
	authService := services.NewAuthService(pg, jwtService)
	userService := services.NewUserService(pg, rdb)
	orgService := services.NewOrgService(pg)
	analyticsService := services.NewAnalyticsService(pg)

	incidentService := services.NewIncidentService(pg)
	// The API server only enqueues; the worker process delivers.
	incidentService.SetNotificationSender(services.NewQueueNotificationSender(pg))

	// Initialize handlers
	authMiddleware := handlers.NewAuthMiddleware(jwtService)
	authHandler := handlers.NewAuthHandler(authService)
	incidentHandler := handlers.NewIncidentHandler(incidentService)
	userHandler := handlers.NewUserHandler(userService)
	orgHandler := handlers.NewOrgHandler(orgService)
	analyticsHandler := handlers.NewAnalyticsHandler(analyticsService)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	auth := v1.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	protected := v1.Group("")
	protected.Use(authMiddleware.RequireAuth())
	{
		incidents := protected.Group("/incidents")
		{
			incidents.POST("", incidentHandler.CreateIncident)
			incidents.GET("", incidentHandler.ListIncidents)
			incidents.GET("/:id", incidentHandler.GetIncident)
			incidents.PATCH("/:id", incidentHandler.UpdateIncident)
			incidents.DELETE("/:id", incidentHandler.DeleteIncident)
			incidents.POST("/:id/transition", incidentHandler.TransitionIncident)
			incidents.POST("/:id/comments", incidentHandler.AddComment)
			incidents.GET("/:id/events", incidentHandler.GetIncidentEvents)
		}

		users := protected.Group("/users")
		{
			users.GET("", userHandler.ListUsers)
			users.GET("/me", userHandler.GetMe)
			users.PUT("/me/fcm-token", userHandler.UpdateFCMToken)
			users.PUT("/:id/role", userHandler.UpdateRole)
		}

		protected.GET("/org", orgHandler.GetOrganization)

		analytics := protected.Group("/analytics")
		{
			analytics.GET("/stats", analyticsHandler.GetStats)
			analytics.GET("/volume", analyticsHandler.GetVolumeTrend)
		}
	}

	return r
}
