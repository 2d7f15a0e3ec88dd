package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/models"
	"gorm.io/gorm"
)

// MilestoneService keeps the per-category milestone records of each team and
// answers whether the gate for a category is open.
type MilestoneService struct {
	db     *gorm.DB
	cfg    *config.RosterConfig
	events *EventHub
}

func NewMilestoneService(db *gorm.DB, cfg *config.RosterConfig) *MilestoneService {
	return &MilestoneService{db: db, cfg: cfg}
}

func (s *MilestoneService) SetEventHub(hub *EventHub) { s.events = hub }

type RecordVerdictRequest struct {
	Verdict     models.Verdict `json:"verdict" binding:"required"`
	Title       *string        `json:"title"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
}

// GateOpen returns nil when tasks of category may be created or changed for
// the team, and a precondition error otherwise.
func (s *MilestoneService) GateOpen(ctx context.Context, teamID uint, category string) error {
	return checkGate(s.db.WithContext(ctx), s.cfg, "gate", teamID, category)
}

// checkGate runs on whatever handle it is given so callers can evaluate the
// gate inside their own transaction.
func checkGate(tx *gorm.DB, cfg *config.RosterConfig, op string, teamID uint, category string) error {
	cat, ok := cfg.Category(category)
	if !ok {
		return validationError(op, "unknown milestone category %q", category)
	}
	if cat.Upstream == "" {
		return nil
	}

	var upstream models.MilestoneRecord
	err := tx.Where("team_id = ? AND category = ?", teamID, cat.Upstream).First(&upstream).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return preconditionError(op, "%s has no %s record yet", category, cat.Upstream)
	}
	if err != nil {
		return classifyStoreError(op, err)
	}
	if !upstream.Approved() {
		return preconditionError(op, "%s is locked until %s is approved with a title", category, cat.Upstream)
	}
	return nil
}

func (s *MilestoneService) ListRecords(ctx context.Context, teamID uint) ([]models.MilestoneRecord, error) {
	var records []models.MilestoneRecord
	if err := s.db.WithContext(ctx).Where("team_id = ?", teamID).Order("id").Find(&records).Error; err != nil {
		return nil, classifyStoreError("listRecords", err)
	}
	return records, nil
}

// RecordVerdict is how the team's adviser (or an instructor) approves or
// rejects a milestone, which opens or closes the downstream gate.
func (s *MilestoneService) RecordVerdict(ctx context.Context, teamID uint, category string, req *RecordVerdictRequest, actor Actor) (*models.MilestoneRecord, error) {
	const op = "recordVerdict"

	if _, ok := s.cfg.Category(category); !ok {
		return nil, validationError(op, "unknown milestone category %q", category)
	}
	if !req.Verdict.Valid() {
		return nil, validationError(op, "unknown verdict %q", req.Verdict)
	}

	var record models.MilestoneRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var team models.Team
		if err := tx.First(&team, teamID).Error; err != nil {
			return classifyStoreError(op, err)
		}
		isAdviser := team.AdviserID != nil && *team.AdviserID == actor.UserID
		if actor.Role != models.RoleInstructor && !isAdviser {
			return permissionError(op, "only the team's adviser or an instructor can record verdicts")
		}

		if err := tx.Where(models.MilestoneRecord{TeamID: teamID, Category: category}).
			FirstOrCreate(&record).Error; err != nil {
			return classifyStoreError(op, err)
		}

		updates := map[string]interface{}{
			"verdict":     req.Verdict,
			"reviewed_by": actor.UserID,
		}
		if req.Title != nil {
			updates["title"] = strings.TrimSpace(*req.Title)
		}
		if req.ScheduledAt != nil {
			updates["scheduled_at"] = *req.ScheduledAt
		}
		if err := tx.Model(&record).Updates(updates).Error; err != nil {
			return classifyStoreError(op, err)
		}
		return tx.First(&record, record.ID).Error
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	LogInfo("milestone", "record_verdict", fmt.Sprintf("Team %d %s marked %s", teamID, category, req.Verdict), &actor.UserID, "", "", nil)
	s.events.Publish(ChangeEvent{Entity: "milestone", Action: "updated", ID: record.ID, TeamID: teamID})
	return &record, nil
}
