package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/middleware"
	"github.com/huangang/capstrack/internal/services"
	"github.com/huangang/capstrack/pkg/logger"
	"github.com/huangang/capstrack/pkg/response"
)

// respondError turns a service failure into the response envelope. Each kind
// keeps its own status so clients can tell a stale edit from a locked gate.
func respondError(c *gin.Context, err error) {
	var se *services.ServiceError
	msg := err.Error()
	if errors.As(err, &se) && se.Message != "" {
		msg = se.Message
	}

	kind := services.KindOf(err)
	var appErr *response.AppError
	switch kind {
	case services.KindValidation:
		appErr = response.NewBadRequest(msg)
	case services.KindNotFound:
		appErr = response.NewNotFound(msg)
	case services.KindConflict:
		appErr = response.NewConflict(msg)
	case services.KindRevisionLimit:
		appErr = response.NewUnprocessable(msg)
	case services.KindPrecondition:
		appErr = response.NewPreconditionFailed(msg)
	case services.KindPermission:
		appErr = response.NewForbidden(msg)
	case services.KindTransient:
		appErr = response.NewUnavailable("temporarily unavailable, please retry")
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		var uid *uint
		if id := middleware.GetUserID(c); id != 0 {
			uid = &id
		}
		services.LogError("http", c.Request.Method+" "+c.FullPath(), err.Error(), uid, c.ClientIP(), c.Request.UserAgent(), nil)
		appErr = response.NewServerError("internal server error")
	}
	response.Error(c, appErr.WithKind(string(kind)))
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}
