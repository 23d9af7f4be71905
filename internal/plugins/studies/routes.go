package studies

import (
	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/policy"
)

// RegisterRoutes mounts study routes on g, a group already guarded by
// auth.RequireAuth.
func RegisterRoutes(g *echo.Group, h *Handler, service StudyService, enforcer *policy.Enforcer) {
	g.GET("/studies", h.Index)
	g.POST("/studies", h.Create)

	sg := g.Group("/studies/:id", LoadStudy(service))
	sg.GET("", h.Show, Require(enforcer, policy.Read, policy.Study))
	sg.POST("/collaborators", h.AddCollaborator, Require(enforcer, policy.Manage, policy.Study))
	sg.DELETE("/collaborators/:uid", h.RemoveCollaborator, Require(enforcer, policy.Manage, policy.Study))
}
