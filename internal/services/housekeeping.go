package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/pkg/logger"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const logCleanupLock = "system_log_cleanup"

// HousekeepingService prunes the audit log on a cron schedule. When several
// instances share a database only the one that wins the scheduler lock for a
// given day does the work.
type HousekeepingService struct {
	db        *gorm.DB
	cfg       *config.LogConfig
	logs      *SystemLogService
	configSvc *SystemConfigService
	owner     string
	cron      *cron.Cron
	now       func() time.Time
}

func NewHousekeepingService(db *gorm.DB, cfg *config.LogConfig) *HousekeepingService {
	return &HousekeepingService{
		db:        db,
		cfg:       cfg,
		logs:      NewSystemLogService(db),
		configSvc: NewSystemConfigService(db),
		owner:     uuid.NewString(),
		now:       time.Now,
	}
}

func (s *HousekeepingService) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.CleanupCron, func() { s.RunLogCleanup() }); err != nil {
		return err
	}
	s.cron.Start()
	logger.Infof("[Housekeeping] Log cleanup scheduled (cron: %s)", s.cfg.CleanupCron)
	return nil
}

func (s *HousekeepingService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunLogCleanup deletes expired system logs if this instance acquires
// today's lock. It returns the number of deleted rows.
func (s *HousekeepingService) RunLogCleanup() int64 {
	now := s.now()
	key := now.UTC().Format(models.DueDateLayout)

	ok, err := s.acquire(logCleanupLock, key, now, time.Hour)
	if err != nil {
		logger.Warn().Err(err).Msg("[Housekeeping] lock acquisition failed")
		return 0
	}
	if !ok {
		logger.Debug().Str("key", key).Msg("[Housekeeping] cleanup already claimed")
		return 0
	}

	retentionDays := s.configSvc.GetInt("log_retention_days", s.cfg.RetentionDays)
	if retentionDays <= 0 {
		logger.Infof("[Housekeeping] Log cleanup disabled (retention_days <= 0)")
		return 0
	}

	deleted, err := s.logs.CleanupOldLogs(now, retentionDays)
	if err != nil {
		logger.Errorf("[Housekeeping] Failed to cleanup old logs: %v", err)
		return 0
	}
	if deleted > 0 {
		logger.Infof("[Housekeeping] Cleaned up %d logs older than %d days", deleted, retentionDays)
	}
	return deleted
}

// acquire inserts the lock row; the unique (name, key) index makes the
// insert fail for every other contender. Expired rows are removed first.
func (s *HousekeepingService) acquire(name, key string, now time.Time, ttl time.Duration) (bool, error) {
	if err := s.db.Where("lock_name = ? AND expires_at < ?", name, now.Add(-24*time.Hour)).
		Delete(&models.SchedulerLock{}).Error; err != nil {
		return false, err
	}

	lock := models.SchedulerLock{
		LockName:  name,
		LockKey:   key,
		LockedBy:  s.owner,
		LockedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	err := s.db.Create(&lock).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	return err == nil, err
}
