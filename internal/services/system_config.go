package services

import (
	"errors"
	"strconv"

	"github.com/huangang/capstrack/internal/models"
	"gorm.io/gorm"
)

type SystemConfigService struct {
	db *gorm.DB
}

func NewSystemConfigService(db *gorm.DB) *SystemConfigService {
	return &SystemConfigService{db: db}
}

func (s *SystemConfigService) Get(key string) (string, error) {
	var cfg models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
		return "", err
	}
	return cfg.Value, nil
}

func (s *SystemConfigService) GetWithDefault(key, defaultValue string) string {
	value, err := s.Get(key)
	if err != nil {
		return defaultValue
	}
	return value
}

func (s *SystemConfigService) GetBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(s.GetWithDefault(key, strconv.FormatBool(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func (s *SystemConfigService) GetInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(s.GetWithDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return v
}

func (s *SystemConfigService) Set(key, value string) error {
	var cfg models.SystemConfig
	err := s.db.Where(&models.SystemConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.SystemConfig{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&cfg).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&cfg).Update("value", value).Error
}

func (s *SystemConfigService) List() ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Order("id").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

func (s *SystemConfigService) GetByGroup(group string) ([]models.SystemConfig, error) {
	var configs []models.SystemConfig
	if err := s.db.Where(&models.SystemConfig{Group: group}).Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}

// UpdateConfigsRequest sets several keys at once. Values are validated
// against the stored Type.
type UpdateConfigsRequest struct {
	Configs map[string]string `json:"configs" binding:"required"`
}

func (s *SystemConfigService) Update(req *UpdateConfigsRequest) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range req.Configs {
			var cfg models.SystemConfig
			if err := tx.Where(&models.SystemConfig{Key: key}).First(&cfg).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return validationError("updateConfig", "unknown config key %q", key)
				}
				return classifyStoreError("updateConfig", err)
			}
			switch cfg.Type {
			case "bool":
				if _, err := strconv.ParseBool(value); err != nil {
					return validationError("updateConfig", "%s expects a boolean", key)
				}
			case "int":
				if _, err := strconv.Atoi(value); err != nil {
					return validationError("updateConfig", "%s expects an integer", key)
				}
			}
			if err := tx.Model(&cfg).Update("value", value).Error; err != nil {
				return classifyStoreError("updateConfig", err)
			}
		}
		return nil
	})
}
