package smtp

import "github.com/labstack/echo/v4"

// RegisterRoutes mounts the diagnostics on the admin group.
func RegisterRoutes(admin *echo.Group, h *Handler) {
	admin.GET("/smtp", h.Settings)
	admin.POST("/smtp/test", h.TestConnection)
}
