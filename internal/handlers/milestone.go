package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/middleware"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/pkg/response"
)

type MilestoneHandler struct {
	milestoneService *services.MilestoneService
}

func NewMilestoneHandler(milestoneService *services.MilestoneService) *MilestoneHandler {
	return &MilestoneHandler{milestoneService: milestoneService}
}

// GET /api/teams/:id/milestones
func (h *MilestoneHandler) List(c *gin.Context) {
	teamID, ok := parseID(c, "id")
	if !ok {
		return
	}
	records, err := h.milestoneService.ListRecords(c.Request.Context(), teamID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, records)
}

// GET /api/teams/:id/milestones/:category/gate
func (h *MilestoneHandler) Gate(c *gin.Context) {
	teamID, ok := parseID(c, "id")
	if !ok {
		return
	}
	err := h.milestoneService.GateOpen(c.Request.Context(), teamID, c.Param("category"))
	switch services.KindOf(err) {
	case "":
		response.Success(c, gin.H{"open": true})
	case services.KindPrecondition:
		response.Success(c, gin.H{"open": false, "reason": err.Error()})
	default:
		respondError(c, err)
	}
}

// PUT /api/teams/:id/milestones/:category
func (h *MilestoneHandler) RecordVerdict(c *gin.Context) {
	teamID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.RecordVerdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	record, err := h.milestoneService.RecordVerdict(c.Request.Context(), teamID, c.Param("category"), &req, middleware.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, record)
}
