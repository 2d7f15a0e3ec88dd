package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/capstrack/internal/services"
)

const maxAuditBody = 2000

var sensitiveKeys = map[string]bool{
	"password":     true,
	"old_password": true,
	"new_password": true,
	"token":        true,
	"secret":       true,
}

// auditActions names the roster and task operations behind each write
// route. Routes not listed fall back to the HTTP method.
var auditActions = map[string]string{
	"POST /api/teams":                         "CreateTeam",
	"PUT /api/teams/:id":                      "EditTeam",
	"DELETE /api/teams/:id":                   "DissolveTeam",
	"POST /api/teams/transfer":                "TransferMember",
	"PUT /api/teams/:id/milestones/:category": "RecordVerdict",
	"POST /api/tasks":                         "CreateTask",
	"PUT /api/tasks/:id/due":                  "EditDueDateTime",
	"PUT /api/tasks/:id/status":               "ChangeStatus",
	"POST /api/tasks/reconcile":               "Reconcile",
	"POST /api/tasks/sweep":                   "SweepOverdue",
	"PUT /api/auth/password":                  "ChangePassword",
	"POST /api/auth/logout":                   "Logout",
}

// AuditLog writes one system_logs row per state-changing request, after the
// handler has run so the outcome is known.
func AuditLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		switch method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		var body string
		if c.Request.Body != nil {
			raw, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			body = auditBody(raw)
		}

		c.Next()

		module, action := parseRouteInfo(c.FullPath(), method)
		status := c.Writer.Status()
		message := formatAuditMessage(GetUsername(c), action, c.Request.URL.Path, status)

		var uid *uint
		if id := GetUserID(c); id > 0 {
			uid = &id
		}
		extra := map[string]interface{}{
			"method": method,
			"status": status,
			"body":   body,
		}

		logFn := services.LogInfo
		if status >= http.StatusBadRequest {
			logFn = services.LogWarning
		}
		logFn(module, action, message, uid, c.ClientIP(), c.Request.UserAgent(), extra)
	}
}

// parseRouteInfo maps a route pattern to a log module and action, e.g.
// "/api/tasks/:id/status" + "PUT" gives "tasks", "ChangeStatus".
func parseRouteInfo(fullPath, method string) (module, action string) {
	path := strings.TrimPrefix(fullPath, "/api/")
	module, _, _ = strings.Cut(path, "/")
	if module == "" {
		module = "unknown"
	}
	module = strings.ReplaceAll(module, "-", "_")

	if name, ok := auditActions[method+" "+fullPath]; ok {
		return module, name
	}
	switch method {
	case http.MethodPost:
		action = "Create"
	case http.MethodPut, http.MethodPatch:
		action = "Update"
	case http.MethodDelete:
		action = "Delete"
	default:
		action = method
	}
	return module, action
}

func formatAuditMessage(username, action, path string, status int) string {
	outcome := "OK"
	if status < 200 || status >= 300 {
		outcome = fmt.Sprintf("Failed (%d)", status)
	}
	if username == "" {
		username = "anonymous"
	}
	return fmt.Sprintf("[Audit] %s %s %s -> %s", username, action, path, outcome)
}

// auditBody masks credentials in a JSON body and truncates the result.
// Bodies that are not JSON objects are kept as text.
func auditBody(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	out := string(raw)
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err == nil {
		maskSensitiveFields(doc)
		if b, err := json.Marshal(doc); err == nil {
			out = string(b)
		}
	}
	if len(out) > maxAuditBody {
		out = out[:maxAuditBody] + "...[truncated]"
	}
	return out
}

// maskSensitiveFields replaces credential values in place, descending into
// nested objects and arrays.
func maskSensitiveFields(v interface{}) {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			if sensitiveKeys[strings.ToLower(k)] {
				node[k] = "***"
				continue
			}
			maskSensitiveFields(child)
		}
	case []interface{}:
		for _, child := range node {
			maskSensitiveFields(child)
		}
	}
}
