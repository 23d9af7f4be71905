package tags

import (
	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/policy"
)

// RegisterRoutes mounts deployment routes on g, a group already guarded
// by auth.RequireAuth.
func RegisterRoutes(g *echo.Group, h *Handler, service TagService, studySvc studies.StudyService, enforcer *policy.Enforcer) {
	sg := g.Group("/studies/:id/deployments", studies.LoadStudy(studySvc))
	sg.GET("", h.Index, studies.Require(enforcer, policy.Read, policy.Deployment))
	sg.POST("", h.Create, studies.Require(enforcer, policy.Create, policy.Deployment))
	sg.GET("/search", h.Search, studies.Require(enforcer, policy.Read, policy.Deployment))

	dg := g.Group("/deployments/:did", LoadDeployment(service, studySvc))
	dg.GET("", h.Show, studies.Require(enforcer, policy.Read, policy.Deployment))
	dg.GET("/geojson", h.GeoJSON, studies.Require(enforcer, policy.Read, policy.Deployment))
	dg.DELETE("", h.Delete, studies.Require(enforcer, policy.Destroy, policy.Deployment))
}
