package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the audit feed on the admin group, which already
// carries authentication and the admin check.
func RegisterRoutes(admin *echo.Group, h *Handler) {
	admin.GET("/audit", h.Index)
}
