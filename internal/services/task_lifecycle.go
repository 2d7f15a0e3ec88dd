package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangang/capstrack/internal/config"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/pkg/logger"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID uint
	Role   models.Role
}

// TaskService runs the task state machine. It has no background loop:
// overdue tasks are moved to missed whenever they are read or touched.
type TaskService struct {
	db     *gorm.DB
	cfg    *config.Config
	loc    *time.Location
	events *EventHub
	queue  TaskQueue
	now    func() time.Time
}

func NewTaskService(db *gorm.DB, cfg *config.Config) *TaskService {
	return &TaskService{
		db:  db,
		cfg: cfg,
		loc: cfg.Tasks.Location(),
		now: time.Now,
	}
}

func (s *TaskService) SetEventHub(hub *EventHub) { s.events = hub }

func (s *TaskService) SetTaskQueue(q TaskQueue) { s.queue = q }

type CreateTaskRequest struct {
	TeamID      *uint              `json:"team_id"`
	AssigneeID  *uint              `json:"assignee_id"`
	Category    string             `json:"category" binding:"required"`
	Title       string             `json:"title" binding:"required"`
	TaskManager models.TaskManager `json:"task_manager" binding:"required"`
	DueDate     *string            `json:"due_date"`
	DueTime     *string            `json:"due_time"`
}

type EditDueRequest struct {
	DueDate string  `json:"due_date" binding:"required"`
	DueTime *string `json:"due_time"`
	Version uint    `json:"version"`
}

type ChangeStatusRequest struct {
	Status  models.TaskStatus `json:"status" binding:"required"`
	Version uint              `json:"version"`
}

type TaskListRequest struct {
	TeamID     *uint  `form:"team_id"`
	AssigneeID *uint  `form:"assignee_id"`
	Category   string `form:"category"`
	Status     string `form:"status"`
}

type side int

const (
	sideNone side = iota
	sideTeam
	sideAdviser
)

func sideOf(team *models.Team, actor Actor) side {
	switch {
	case actor.Role == models.RoleInstructor:
		return sideNone
	case team.ManagerID == actor.UserID || team.HasMember(actor.UserID):
		return sideTeam
	case team.AdviserID != nil && *team.AdviserID == actor.UserID:
		return sideAdviser
	}
	return sideNone
}

// managesTask reports whether actor schedules tasks of the given manager kind
// for team.
func managesTask(team *models.Team, manager models.TaskManager, actor Actor) bool {
	switch manager {
	case models.ManagedByProjectManager:
		return team.ManagerID == actor.UserID
	case models.ManagedByAdviser:
		return team.AdviserID != nil && *team.AdviserID == actor.UserID
	}
	return false
}

var statusTargets = map[models.TaskManager]map[side][]models.TaskStatus{
	models.ManagedByProjectManager: {
		sideTeam: {models.StatusToDo, models.StatusInProgress, models.StatusToReview, models.StatusCompleted},
	},
	models.ManagedByAdviser: {
		sideTeam:    {models.StatusToDo, models.StatusInProgress, models.StatusToReview},
		sideAdviser: {models.StatusToDo, models.StatusInProgress, models.StatusToReview, models.StatusCompleted},
	},
}

// AllowedTargets lists the statuses actor may set on a task of the given kind.
// Missed never appears: only the expiry sweep sets it.
func AllowedTargets(manager models.TaskManager, team *models.Team, actor Actor) []models.TaskStatus {
	return statusTargets[manager][sideOf(team, actor)]
}

func (s *TaskService) Create(ctx context.Context, req *CreateTaskRequest, actor Actor) (*models.Task, error) {
	const op = "createTask"

	if !req.TaskManager.Valid() {
		return nil, validationError(op, "unknown task manager %q", req.TaskManager)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, validationError(op, "title is required")
	}
	if req.TeamID == nil && req.AssigneeID == nil {
		return nil, validationError(op, "a task needs a team or an assignee")
	}
	if req.TaskManager == models.ManagedByAdviser && (req.DueDate != nil || req.DueTime != nil) {
		return nil, validationError(op, "adviser-managed tasks are scheduled by the adviser")
	}
	if req.DueDate != nil {
		if err := validateDue(op, *req.DueDate, req.DueTime); err != nil {
			return nil, err
		}
	} else if req.DueTime != nil {
		return nil, validationError(op, "due time needs a due date")
	}

	now := s.now()
	var task models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		teamID, err := resolveOwner(tx, op, req.TeamID, req.AssigneeID)
		if err != nil {
			return err
		}
		team, err := loadTeam(tx, op, teamID)
		if err != nil {
			return err
		}
		if !managesTask(team, req.TaskManager, actor) {
			return permissionError(op, "only the team's %s can create %s tasks", managerLabel(req.TaskManager), req.TaskManager)
		}
		if err := checkGate(tx, &s.cfg.Roster, op, team.ID, req.Category); err != nil {
			return err
		}

		task = models.Task{
			TeamID:      team.ID,
			AssigneeID:  req.AssigneeID,
			Category:    req.Category,
			Title:       title,
			Status:      models.StatusToDo,
			Revision:    0,
			DueDate:     req.DueDate,
			DueTime:     req.DueTime,
			TaskManager: req.TaskManager,
			CreatedBy:   actor.UserID,
			Version:     1,
		}
		if due, ok := task.DueAt(s.loc); ok && !due.After(now) {
			return validationError(op, "due date %s is in the past", due.Format(time.RFC3339))
		}
		if err := tx.Create(&task).Error; err != nil {
			return classifyStoreError(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	logger.Info().Uint("task_id", task.ID).Uint("team_id", task.TeamID).Str("category", task.Category).Msg("[Task] task created")
	LogInfo("task", "create_task", fmt.Sprintf("Task %q created", task.Title), &actor.UserID, "", "", map[string]interface{}{
		"task_id": task.ID, "team_id": task.TeamID, "task_manager": task.TaskManager,
	})
	s.publish("created", &task)
	if s.queue != nil {
		if err := s.queue.Enqueue(&NotificationJob{Type: TaskTypeTaskCreated, TeamID: task.TeamID, TaskID: task.ID, ActorID: actor.UserID}); err != nil {
			logger.Warn().Err(err).Msg("[Task] failed to enqueue notification")
		}
	}
	return &task, nil
}

// EditDueDateTime reschedules a task. Rescheduling a task that is waiting for
// review or already missed counts as a revision and sends it back to todo.
// Completed tasks are final and are refused with a conflict error.
func (s *TaskService) EditDueDateTime(ctx context.Context, taskID uint, req *EditDueRequest, actor Actor) (*models.Task, error) {
	const op = "editDueDateTime"

	if err := validateDue(op, req.DueDate, req.DueTime); err != nil {
		return nil, err
	}

	now := s.now()
	var updated models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.First(&task, taskID).Error; err != nil {
			return classifyStoreError(op, err)
		}
		team, err := loadTeam(tx, op, task.TeamID)
		if err != nil {
			return err
		}
		if !managesTask(team, task.TaskManager, actor) {
			return permissionError(op, "only the team's %s can reschedule this task", managerLabel(task.TaskManager))
		}
		if req.Version != 0 && req.Version != task.Version {
			return conflictError(op, "task %d was modified (version %d, expected %d)", task.ID, task.Version, req.Version)
		}
		if err := checkGate(tx, &s.cfg.Roster, op, team.ID, task.Category); err != nil {
			return err
		}
		if task.Revision >= s.cfg.Tasks.MaxRevision {
			return newError(KindRevisionLimit, op, "task is at its %s; create a new task instead", models.RevisionLabel(task.Revision))
		}

		status := task.Status
		if task.Overdue(now, s.loc) {
			status = models.StatusMissed
		}
		if status == models.StatusCompleted {
			return conflictError(op, "completed tasks cannot be rescheduled")
		}

		next := task
		next.DueDate = &req.DueDate
		next.DueTime = req.DueTime
		if due, _ := next.DueAt(s.loc); !due.After(now) {
			return validationError(op, "due date %s is in the past", due.Format(time.RFC3339))
		}

		changed := !sameValue(task.DueDate, next.DueDate) || !sameValue(task.DueTime, next.DueTime)
		revision := task.Revision
		if changed && (status == models.StatusToReview || status == models.StatusMissed) {
			revision++
			status = models.StatusToDo
		}
		if !changed && status == task.Status {
			updated = task
			return nil
		}

		res := tx.Model(&models.Task{}).Where("id = ? AND version = ?", task.ID, task.Version).Updates(map[string]interface{}{
			"due_date": next.DueDate,
			"due_time": next.DueTime,
			"status":   status,
			"revision": revision,
			"version":  task.Version + 1,
		})
		if res.Error != nil {
			return classifyStoreError(op, res.Error)
		}
		if res.RowsAffected == 0 {
			return conflictError(op, "task %d was modified concurrently", task.ID)
		}
		return tx.First(&updated, task.ID).Error
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	LogInfo("task", "edit_due", fmt.Sprintf("Task %d due %s (%s)", updated.ID, req.DueDate, updated.RevisionLabel()), &actor.UserID, "", "", nil)
	s.publish("updated", &updated)
	return &updated, nil
}

// ChangeStatus applies a direct status write. The task is swept first, so an
// overdue task can no longer be moved; completed and missed tasks are final
// for this path.
func (s *TaskService) ChangeStatus(ctx context.Context, taskID uint, req *ChangeStatusRequest, actor Actor) (*models.Task, error) {
	const op = "changeStatus"

	if !req.Status.Valid() {
		return nil, validationError(op, "unknown status %q", req.Status)
	}
	if req.Status == models.StatusMissed {
		return nil, permissionError(op, "missed is set only by the expiry sweep")
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	now := s.now()
	var updated models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.First(&task, taskID).Error; err != nil {
			return classifyStoreError(op, err)
		}
		team, err := loadTeam(tx, op, task.TeamID)
		if err != nil {
			return err
		}

		allowed := AllowedTargets(task.TaskManager, team, actor)
		if !containsStatus(allowed, req.Status) {
			return permissionError(op, "not allowed to set %s on this task", req.Status)
		}
		if req.Version != 0 && req.Version != task.Version {
			return conflictError(op, "task %d was modified (version %d, expected %d)", task.ID, task.Version, req.Version)
		}
		switch task.Status {
		case models.StatusMissed:
			return conflictError(op, "missed tasks are reopened by rescheduling")
		case models.StatusCompleted:
			return conflictError(op, "completed tasks are final")
		}
		if task.TaskManager == models.ManagedByAdviser && !task.HasFullSchedule() {
			return preconditionError(op, "the adviser has not set both due date and due time yet")
		}
		if err := checkGate(tx, &s.cfg.Roster, op, team.ID, task.Category); err != nil {
			return err
		}
		if req.Status == task.Status {
			updated = task
			return nil
		}

		updates := map[string]interface{}{
			"status":  req.Status,
			"version": task.Version + 1,
		}
		if req.Status == models.StatusCompleted {
			updates["completed_at"] = now
		}
		res := tx.Model(&models.Task{}).Where("id = ? AND version = ?", task.ID, task.Version).Updates(updates)
		if res.Error != nil {
			return classifyStoreError(op, res.Error)
		}
		if res.RowsAffected == 0 {
			return conflictError(op, "task %d was modified concurrently", task.ID)
		}
		return tx.First(&updated, task.ID).Error
	})
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	LogInfo("task", "change_status", fmt.Sprintf("Task %d set to %s", updated.ID, updated.Status), &actor.UserID, "", "", nil)
	s.publish("updated", &updated)
	return &updated, nil
}

// ExpirySweep moves every overdue, unfinished task in tasks to missed and
// updates the slice in place. Each row is changed with a conditional update
// on its version, so concurrent sweeps of the same task write it once and a
// snapshot that predates a reschedule never overwrites it. It returns the
// number of rows this call changed.
func (s *TaskService) ExpirySweep(ctx context.Context, tasks []models.Task) (int, error) {
	now := s.now()
	swept := 0
	for i := range tasks {
		if !tasks[i].Overdue(now, s.loc) {
			continue
		}
		res := s.db.WithContext(ctx).Model(&models.Task{}).
			Where("id = ? AND version = ? AND status NOT IN ?", tasks[i].ID, tasks[i].Version,
				[]models.TaskStatus{models.StatusCompleted, models.StatusMissed}).
			Updates(map[string]interface{}{
				"status":  models.StatusMissed,
				"version": gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return swept, classifyStoreError("expirySweep", res.Error)
		}
		if res.RowsAffected == 0 {
			// The row moved on since it was read (swept, rescheduled or
			// finished elsewhere); take whatever is stored now.
			if err := s.db.WithContext(ctx).First(&tasks[i], tasks[i].ID).Error; err != nil {
				return swept, classifyStoreError("expirySweep", err)
			}
			continue
		}
		tasks[i].Status = models.StatusMissed
		tasks[i].Version++
		swept++
		s.publish("missed", &tasks[i])
	}
	if swept > 0 {
		logger.Debug().Int("count", swept).Msg("[Task] overdue tasks marked missed")
	}
	return swept, nil
}

// SweepOverdue sweeps every unfinished task whose due date is today or earlier.
func (s *TaskService) SweepOverdue(ctx context.Context) (int, error) {
	today := s.now().In(s.loc).Format(models.DueDateLayout)

	var tasks []models.Task
	if err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []models.TaskStatus{models.StatusCompleted, models.StatusMissed}).
		Where("due_date IS NOT NULL AND due_date <= ?", today).
		Find(&tasks).Error; err != nil {
		return 0, classifyStoreError("sweepOverdue", err)
	}
	return s.ExpirySweep(ctx, tasks)
}

// ListTasks is the pull-based query used by clients. Results are swept before
// they are returned.
func (s *TaskService) ListTasks(ctx context.Context, req *TaskListRequest) ([]models.Task, error) {
	const op = "listTasks"

	var status models.TaskStatus
	if req.Status != "" {
		parsed, err := models.ParseTaskStatus(req.Status)
		if err != nil {
			return nil, validationError(op, "%v", err)
		}
		status = parsed
	}

	query := s.db.WithContext(ctx).Model(&models.Task{})
	if req.TeamID != nil {
		query = query.Where("team_id = ?", *req.TeamID)
	}
	if req.AssigneeID != nil {
		query = query.Where("assignee_id = ?", *req.AssigneeID)
	}
	if req.Category != "" {
		query = query.Where("category = ?", req.Category)
	}

	var tasks []models.Task
	if err := query.Order("id").Find(&tasks).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}
	if _, err := s.ExpirySweep(ctx, tasks); err != nil {
		return nil, err
	}

	if status == "" {
		return tasks, nil
	}
	filtered := tasks[:0]
	for _, t := range tasks {
		if t.Status == status {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (s *TaskService) GetTask(ctx context.Context, id uint) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, classifyStoreError("getTask", err)
	}
	batch := []models.Task{task}
	if _, err := s.ExpirySweep(ctx, batch); err != nil {
		return nil, err
	}
	return &batch[0], nil
}

func (s *TaskService) publish(action string, task *models.Task) {
	s.events.Publish(ChangeEvent{Entity: "task", Action: action, ID: task.ID, TeamID: task.TeamID, Version: task.Version})
}

// resolveOwner returns the team that will own a task. An assignee must sit on
// that team, as manager or member.
func resolveOwner(tx *gorm.DB, op string, teamID, assigneeID *uint) (uint, error) {
	if assigneeID == nil {
		return *teamID, nil
	}

	var owner uint
	var team models.Team
	err := tx.Where("manager_id = ?", *assigneeID).First(&team).Error
	switch {
	case err == nil:
		owner = team.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		var entry models.TeamMember
		if err := tx.Where("user_id = ?", *assigneeID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, validationError(op, "assignee %d is not on a team", *assigneeID)
			}
			return 0, classifyStoreError(op, err)
		}
		owner = entry.TeamID
	default:
		return 0, classifyStoreError(op, err)
	}

	if teamID != nil && *teamID != owner {
		return 0, validationError(op, "assignee %d is not on team %d", *assigneeID, *teamID)
	}
	return owner, nil
}

func loadTeam(tx *gorm.DB, op string, id uint) (*models.Team, error) {
	var team models.Team
	if err := tx.Preload("Members").First(&team, id).Error; err != nil {
		return nil, classifyStoreError(op, err)
	}
	return &team, nil
}

func validateDue(op, date string, clock *string) error {
	if _, err := time.Parse(models.DueDateLayout, date); err != nil {
		return validationError(op, "due date %q must be YYYY-MM-DD", date)
	}
	if clock != nil {
		if _, err := time.Parse(models.DueTimeLayout, *clock); err != nil {
			return validationError(op, "due time %q must be HH:MM", *clock)
		}
	}
	return nil
}

func managerLabel(m models.TaskManager) string {
	if m == models.ManagedByAdviser {
		return "adviser"
	}
	return "project manager"
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func containsStatus(list []models.TaskStatus, st models.TaskStatus) bool {
	for _, v := range list {
		if v == st {
			return true
		}
	}
	return false
}
