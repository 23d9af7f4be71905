package reports

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/asascience/matos/internal/middleware"
	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/policy"
)

// RegisterRoutes mounts the public form on e and the grid on g, a group
// already guarded by auth.RequireAuth.
func RegisterRoutes(e *echo.Echo, g *echo.Group, h *Handler, studySvc studies.StudyService, enforcer *policy.Enforcer, rdb *redis.Client) {
	e.GET("/reports/new", h.New)
	e.POST("/reports", h.Create, middleware.RateLimit(rdb, "reports", 10, time.Minute))
	e.GET("/reports/info", h.Info)

	admin := RequireGlobal(enforcer, policy.Manage, policy.Report)
	g.GET("/reports", h.Index, admin)
	g.GET("/reports/datatable", h.Datatable, admin)
	g.GET("/reports/search", h.Search, admin)
	g.PATCH("/reports/:id", h.Update)
	g.PUT("/reports/:id", h.Update)
	g.DELETE("/reports/:id", h.Destroy)

	// The study feed includes unmatched reports, so it stays admin-only
	// like the global one.
	sg := g.Group("/studies/:id/reports", admin, studies.LoadStudy(studySvc), studies.Require(enforcer, policy.Manage, policy.Study))
	sg.GET("", h.Index)
	sg.GET("/datatable", h.Datatable)
}
