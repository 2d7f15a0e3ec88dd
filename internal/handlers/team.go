package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/middleware"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/pkg/response"
)

type TeamHandler struct {
	rosterService *services.RosterService
}

func NewTeamHandler(rosterService *services.RosterService) *TeamHandler {
	return &TeamHandler{rosterService: rosterService}
}

// GET /api/teams
func (h *TeamHandler) List(c *gin.Context) {
	var req services.TeamListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	teams, err := h.rosterService.ListTeams(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, teams)
}

// GET /api/teams/:id
func (h *TeamHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	team, err := h.rosterService.GetTeam(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, team)
}

// Mine returns the caller's own team.
// GET /api/teams/mine
func (h *TeamHandler) Mine(c *gin.Context) {
	team, err := h.rosterService.TeamOf(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, team)
}

// POST /api/teams
func (h *TeamHandler) Create(c *gin.Context) {
	var req services.CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	team, err := h.rosterService.CreateTeam(c.Request.Context(), &req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, team)
}

// PUT /api/teams/:id
func (h *TeamHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.EditTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	team, err := h.rosterService.EditTeam(c.Request.Context(), id, &req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, team)
}

// DELETE /api/teams/:id
func (h *TeamHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.rosterService.DissolveTeam(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "team dissolved"})
}

// POST /api/teams/transfer
func (h *TeamHandler) TransferMember(c *gin.Context) {
	var req services.TransferMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.rosterService.TransferMember(c.Request.Context(), &req, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "member transferred"})
}
