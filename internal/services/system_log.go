package services

import (
	"encoding/json"
	"time"

	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/pkg/logger"
	"gorm.io/gorm"
)

var globalDB *gorm.DB

// InitSystemLogger points the audit helpers at the application database.
// Until it is called they only write to the process log.
func InitSystemLogger(db *gorm.DB) {
	globalDB = db
}

// LogInfo, LogWarning and LogError append to the audit trail. ip and
// userAgent are empty for entries written by services rather than requests.
func LogInfo(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("info", module, action, message, userID, ip, userAgent, extra)
}

func LogWarning(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("warning", module, action, message, userID, ip, userAgent, extra)
}

func LogError(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("error", module, action, message, userID, ip, userAgent, extra)
}

func writeLog(level, module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	logger.Debug().Str("module", module).Str("action", action).Msg(message)
	if globalDB == nil {
		return
	}

	var extraStr string
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			extraStr = string(b)
		}
	}

	entry := &models.SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Extra:     extraStr,
		CreatedAt: time.Now(),
	}
	if err := globalDB.Create(entry).Error; err != nil {
		logger.Warn().Err(err).Str("module", module).Msg("failed to write system log")
	}
}

type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

// SystemLogListRequest filters the audit trail. Dates are YYYY-MM-DD and
// both ends are inclusive.
type SystemLogListRequest struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size" binding:"max=100"`
	Level     string `form:"level"`
	Module    string `form:"module"`
	Action    string `form:"action"`
	UserID    uint   `form:"user_id"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Search    string `form:"search"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

func (s *SystemLogService) List(req *SystemLogListRequest) (*SystemLogListResponse, error) {
	const op = "listSystemLogs"
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.SystemLog{})
	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}
	if req.UserID != 0 {
		query = query.Where("user_id = ?", req.UserID)
	}
	if req.StartDate != "" {
		start, err := time.Parse(models.DueDateLayout, req.StartDate)
		if err != nil {
			return nil, validationError(op, "start_date must be YYYY-MM-DD")
		}
		query = query.Where("created_at >= ?", start)
	}
	if req.EndDate != "" {
		end, err := time.Parse(models.DueDateLayout, req.EndDate)
		if err != nil {
			return nil, validationError(op, "end_date must be YYYY-MM-DD")
		}
		query = query.Where("created_at < ?", end.AddDate(0, 0, 1))
	}
	if req.Search != "" {
		like := "%" + req.Search + "%"
		query = query.Where("message LIKE ? OR action LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}

	var logs []models.SystemLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&logs).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}

	return &SystemLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    logs,
	}, nil
}

func (s *SystemLogService) GetModules() ([]string, error) {
	var modules []string
	if err := s.db.Model(&models.SystemLog{}).Distinct("module").Order("module").Pluck("module", &modules).Error; err != nil {
		return nil, classifyStoreError("listLogModules", err)
	}
	return modules, nil
}

// CleanupOldLogs removes entries older than retentionDays before now and
// reports how many were deleted. A non-positive retention keeps everything.
func (s *SystemLogService) CleanupOldLogs(now time.Time, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	result := s.db.Where("created_at < ?", now.AddDate(0, 0, -retentionDays)).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}
