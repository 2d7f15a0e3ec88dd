package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/pkg/logger"
	"gorm.io/gorm"
)

// NotificationService turns queued jobs into emails for the people on a team.
type NotificationService struct {
	db        *gorm.DB
	mailer    Mailer
	configSvc *SystemConfigService
}

func NewNotificationService(db *gorm.DB, mailer Mailer) *NotificationService {
	return &NotificationService{
		db:        db,
		mailer:    mailer,
		configSvc: NewSystemConfigService(db),
	}
}

// Process is the queue processor for both notification task types.
func (s *NotificationService) Process(ctx context.Context, job *NotificationJob) error {
	switch job.Type {
	case TaskTypeTeamCreated:
		if !s.configSvc.GetBool("notify_team_created", true) {
			return nil
		}
		return s.teamCreated(ctx, job)
	case TaskTypeTaskCreated:
		if !s.configSvc.GetBool("notify_task_created", true) {
			return nil
		}
		return s.taskCreated(ctx, job)
	default:
		logger.Warnf("[Notification] unknown job type %q", job.Type)
		return nil
	}
}

func (s *NotificationService) teamCreated(ctx context.Context, job *NotificationJob) error {
	team, people, err := s.teamPeople(ctx, job.TeamID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[Capstrack] You have been added to %s", team.Name)
	var body strings.Builder
	body.WriteString("<html><body style=\"font-family: Arial, sans-serif;\">")
	body.WriteString(fmt.Sprintf("<h2>%s</h2><ul>", html.EscapeString(team.Name)))
	for _, u := range people {
		body.WriteString(fmt.Sprintf("<li>%s (%s)</li>", html.EscapeString(u.DisplayName()), u.Role))
	}
	body.WriteString("</ul></body></html>")

	return s.mailer.Send(emailsOf(people), subject, body.String())
}

func (s *NotificationService) taskCreated(ctx context.Context, job *NotificationJob) error {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, job.TaskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted with its team before the job ran.
			return nil
		}
		return err
	}
	team, people, err := s.teamPeople(ctx, task.TeamID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[Capstrack] New task for %s: %s", team.Name, task.Title)
	due := "not scheduled"
	if task.DueDate != nil {
		due = *task.DueDate
		if task.DueTime != nil {
			due += " " + *task.DueTime
		}
	}
	body := fmt.Sprintf("<html><body style=\"font-family: Arial, sans-serif;\"><h2>%s</h2><p>Category: %s</p><p>Due: %s</p><p>Managed by: %s</p></body></html>",
		html.EscapeString(task.Title), html.EscapeString(task.Category), due, task.TaskManager)

	return s.mailer.Send(emailsOf(people), subject, body)
}

// teamPeople returns the manager, members and adviser of a team.
func (s *NotificationService) teamPeople(ctx context.Context, teamID uint) (*models.Team, []models.User, error) {
	var team models.Team
	if err := s.db.WithContext(ctx).Preload("Members").First(&team, teamID).Error; err != nil {
		return nil, nil, err
	}

	ids := append([]uint{team.ManagerID}, team.MemberIDs()...)
	if team.AdviserID != nil {
		ids = append(ids, *team.AdviserID)
	}

	var people []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&people).Error; err != nil {
		return nil, nil, err
	}
	return &team, people, nil
}

func emailsOf(users []models.User) []string {
	var out []string
	for _, u := range users {
		if u.Email != "" && u.IsActive {
			out = append(out, u.Email)
		}
	}
	return out
}
