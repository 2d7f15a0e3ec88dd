package main

import (
	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/middleware"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/internal/utils"
	"github.com/huangang/capstrack/pkg/logger"
)

// appServices holds the long-lived services the routes and shutdown need.
type appServices struct {
	hub          *services.EventHub
	taskQueue    services.TaskQueue
	worker       *services.Worker
	housekeeping *services.HousekeepingService
	limiters     []*middleware.RateLimiter

	auth       *services.AuthService
	users      *services.UserService
	roster     *services.RosterService
	milestones *services.MilestoneService
	tasks      *services.TaskService
	configs    *services.SystemConfigService
	logs       *services.SystemLogService
}

// bootstrap initializes the database, the notification pipeline and the
// schedulers, then wires the domain services to them.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}
	db := models.GetDB()

	services.InitSystemLogger(db)

	housekeeping := services.NewHousekeepingService(db, &cfg.Log)
	if err := housekeeping.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to schedule log cleanup")
	}

	// Notifications run through asynq when Redis is enabled, in-process otherwise.
	notifications := services.NewNotificationService(db, services.NewEmailService(&cfg.Email))
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(notifications.Process)
	}
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.InitWorker(&cfg.Redis)
		worker.SetProcessor(notifications.Process)
		if err := worker.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start notification worker")
		}
	}

	hub := services.GetEventHub()

	roster := services.NewRosterService(db, &cfg.Roster)
	roster.SetEventHub(hub)
	roster.SetTaskQueue(taskQueue)

	milestones := services.NewMilestoneService(db, &cfg.Roster)
	milestones.SetEventHub(hub)

	tasks := services.NewTaskService(db, cfg)
	tasks.SetEventHub(hub)
	tasks.SetTaskQueue(taskQueue)

	auth := services.NewAuthService(db, &cfg.JWT, &cfg.LDAP)
	if err := auth.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		hub:          hub,
		taskQueue:    taskQueue,
		worker:       worker,
		housekeeping: housekeeping,
		auth:         auth,
		users:        services.NewUserService(db),
		roster:       roster,
		milestones:   milestones,
		tasks:        tasks,
		configs:      services.NewSystemConfigService(db),
		logs:         services.NewSystemLogService(db),
	}
}

// shutdown stops schedulers first, then drains the notification pipeline.
func (s *appServices) shutdown() {
	s.housekeeping.Stop()
	for _, rl := range s.limiters {
		rl.Stop()
	}
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
}
