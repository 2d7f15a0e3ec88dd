package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/pkg/response"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// GET /api/system-config?group=notification
func (h *SystemConfigHandler) List(c *gin.Context) {
	var (
		configs interface{}
		err     error
	)
	if group := c.Query("group"); group != "" {
		configs, err = h.configService.GetByGroup(group)
	} else {
		configs, err = h.configService.List()
	}
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, configs)
}

// PUT /api/system-config
func (h *SystemConfigHandler) Update(c *gin.Context) {
	var req services.UpdateConfigsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.configService.Update(&req); err != nil {
		respondError(c, err)
		return
	}
	configs, err := h.configService.List()
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, configs)
}
