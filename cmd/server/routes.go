package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/handlers"
	"github.com/huangang/capstrack/internal/middleware"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))

	loginRPS := cfg.Server.LoginRPS
	if loginRPS <= 0 {
		loginRPS = 1
	}
	loginLimiter := middleware.NewRateLimiter(loginRPS, 5)
	apiLimiter := middleware.NewRateLimiter(20, 40)
	svc.limiters = append(svc.limiters, loginLimiter, apiLimiter)

	healthHandler := handlers.NewHealthHandler(models.GetDB(), svc.hub, svc.taskQueue)
	r.GET("/health", healthHandler.CheckHealth)

	authHandler := handlers.NewAuthHandler(svc.auth)
	userHandler := handlers.NewUserHandler(svc.users, svc.roster)
	teamHandler := handlers.NewTeamHandler(svc.roster)
	milestoneHandler := handlers.NewMilestoneHandler(svc.milestones)
	taskHandler := handlers.NewTaskHandler(svc.tasks, svc.roster)
	eventsHandler := handlers.NewEventsHandler(svc.hub)
	systemConfigHandler := handlers.NewSystemConfigHandler(svc.configs)
	systemLogHandler := handlers.NewSystemLogHandler(svc.logs)

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", loginLimiter.Middleware(), authHandler.Login)
			auth.GET("/config", authHandler.GetAuthConfig)
		}

		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), apiLimiter.Middleware(), middleware.AuditLog())
		{
			protected.GET("/auth/me", authHandler.GetCurrentUser)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.PUT("/auth/password", authHandler.ChangePassword)

			protected.GET("/events", eventsHandler.Stream)

			// Teams: everyone reads, roster writes are below.
			protected.GET("/teams", teamHandler.List)
			protected.GET("/teams/mine", teamHandler.Mine)
			protected.GET("/teams/:id", teamHandler.GetByID)
			protected.GET("/teams/:id/milestones", milestoneHandler.List)
			protected.GET("/teams/:id/milestones/:category/gate", milestoneHandler.Gate)
			protected.PUT("/teams/:id/milestones/:category", milestoneHandler.RecordVerdict)

			// Tasks
			protected.GET("/tasks", taskHandler.List)
			protected.GET("/tasks/:id", taskHandler.GetByID)
			protected.POST("/tasks", taskHandler.Create)
			protected.POST("/tasks/reconcile", taskHandler.Reconcile)
			protected.PUT("/tasks/:id/due", taskHandler.EditDue)
			protected.PUT("/tasks/:id/status", taskHandler.ChangeStatus)

			protected.GET("/users/role/:role", userHandler.ByRole)
		}

		instructor := api.Group("")
		instructor.Use(middleware.AuthRequired(), middleware.RoleRequired(models.RoleInstructor), middleware.AuditLog())
		{
			instructor.POST("/teams", teamHandler.Create)
			instructor.PUT("/teams/:id", teamHandler.Update)
			instructor.DELETE("/teams/:id", teamHandler.Delete)
			instructor.POST("/teams/transfer", teamHandler.TransferMember)
			instructor.POST("/tasks/sweep", taskHandler.Sweep)

			instructor.GET("/users", userHandler.List)
			instructor.POST("/users", userHandler.Create)
			instructor.PUT("/users/:id", userHandler.Update)
			instructor.DELETE("/users/:id", userHandler.Delete)

			instructor.GET("/system-config", systemConfigHandler.List)
			instructor.PUT("/system-config", systemConfigHandler.Update)

			instructor.GET("/system-logs", systemLogHandler.List)
			instructor.GET("/system-logs/modules", systemLogHandler.GetModules)
		}
	}
}
