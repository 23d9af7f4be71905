package submissions

import (
	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/policy"
)

// RegisterRoutes mounts submission routes on g, a group already guarded
// by auth.RequireAuth.
func RegisterRoutes(g *echo.Group, h *Handler, service SubmissionService, studySvc studies.StudyService, enforcer *policy.Enforcer) {
	sg := g.Group("/studies/:id/submissions", studies.LoadStudy(studySvc))
	sg.GET("", h.Index, studies.Require(enforcer, policy.Read, policy.Submission))
	sg.POST("", h.Create, studies.Require(enforcer, policy.Create, policy.Submission))

	dg := g.Group("/submissions/:sid", LoadSubmission(service, studySvc))
	dg.GET("", h.Show, RequireSubmission(enforcer, policy.Read))
	dg.POST("/process", h.Process, RequireSubmission(enforcer, policy.Update))
	dg.DELETE("", h.Destroy, RequireSubmission(enforcer, policy.Destroy))
}
