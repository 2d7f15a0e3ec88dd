package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/middleware"
	"github.com/huangang/capstrack/internal/models"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/pkg/logger"
	"github.com/huangang/capstrack/pkg/response"
)

type TaskHandler struct {
	taskService   *services.TaskService
	rosterService *services.RosterService
}

func NewTaskHandler(taskService *services.TaskService, rosterService *services.RosterService) *TaskHandler {
	return &TaskHandler{taskService: taskService, rosterService: rosterService}
}

// taskView adds the display fields clients render next to a task.
type taskView struct {
	models.Task
	RevisionLabel string              `json:"revision_label"`
	AllowedStatus []models.TaskStatus `json:"allowed_status"`
}

func (h *TaskHandler) view(c *gin.Context, tasks []models.Task) []taskView {
	actor := middleware.GetActor(c)
	teams := map[uint]*models.Team{}
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		team, seen := teams[t.TeamID]
		if !seen {
			var err error
			team, err = h.rosterService.GetTeam(c.Request.Context(), t.TeamID)
			if err != nil {
				logger.Warn().Err(err).Uint("team_id", t.TeamID).Uint("task_id", t.ID).Msg("[Task] team unavailable, allowed status left empty")
			}
			teams[t.TeamID] = team
		}
		v := taskView{Task: t, RevisionLabel: t.RevisionLabel(), AllowedStatus: []models.TaskStatus{}}
		if team != nil && !t.Status.Terminal() {
			v.AllowedStatus = services.AllowedTargets(t.TaskManager, team, actor)
		}
		out = append(out, v)
	}
	return out
}

// List is the pull query; overdue tasks are swept before they are returned.
// GET /api/tasks
func (h *TaskHandler) List(c *gin.Context) {
	var req services.TaskListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	tasks, err := h.taskService.ListTasks(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, h.view(c, tasks))
}

// GET /api/tasks/:id
func (h *TaskHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	task, err := h.taskService.GetTask(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, h.view(c, []models.Task{*task})[0])
}

// POST /api/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req services.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	task, err := h.taskService.Create(c.Request.Context(), &req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, h.view(c, []models.Task{*task})[0])
}

// PUT /api/tasks/:id/due
func (h *TaskHandler) EditDue(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.EditDueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	task, err := h.taskService.EditDueDateTime(c.Request.Context(), id, &req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, h.view(c, []models.Task{*task})[0])
}

// PUT /api/tasks/:id/status
func (h *TaskHandler) ChangeStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	task, err := h.taskService.ChangeStatus(c.Request.Context(), id, &req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, h.view(c, []models.Task{*task})[0])
}

type reconcileRequest struct {
	Pending []services.PendingEdit `json:"pending"`
	TeamID  *uint                  `json:"team_id"`
}

// Reconcile merges the client's unsent edits into the current server state
// and reports which of them are stale.
// POST /api/tasks/reconcile
func (h *TaskHandler) Reconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	server, err := h.taskService.ListTasks(c.Request.Context(), &services.TaskListRequest{TeamID: req.TeamID})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{
		"tasks": h.view(c, services.Reconcile(server, req.Pending)),
		"stale": services.StaleEdits(server, req.Pending),
	})
}

// Sweep marks every overdue task missed in one pass. Reads already sweep the
// tasks they return; this catches tasks nobody has looked at.
// POST /api/tasks/sweep
func (h *TaskHandler) Sweep(c *gin.Context) {
	swept, err := h.taskService.SweepOverdue(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"swept": swept})
}
