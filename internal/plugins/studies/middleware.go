package studies

import (
	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/plugins/auth"
	"github.com/asascience/matos/internal/policy"
)

const contextKeyStudy = "study_context"

// LoadStudy resolves the study named by the :id parameter and attaches it
// with its collaborators. It does not authorize; pair it with Require.
func LoadStudy(service StudyService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Param("id")
			if id == "" {
				return apperror.NewBadRequest("study ID is required")
			}
			sc, err := service.Load(c.Request().Context(), id)
			if err != nil {
				return err
			}
			SetStudyContext(c, sc)
			return next(c)
		}
	}
}

// Require checks action on subject against the loaded study. Must run
// after LoadStudy.
func Require(enforcer *policy.Enforcer, action policy.Action, subject policy.Subject) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sc := GetStudyContext(c)
			if sc == nil {
				return apperror.NewMissingContext()
			}
			if err := enforcer.Authorize(action, subject, auth.GetActor(c), sc.Resource()); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// SetStudyContext attaches sc to the request. Plugins whose routes are
// keyed by a child resource resolve the owning study themselves and use
// this before Require.
func SetStudyContext(c echo.Context, sc *StudyContext) {
	c.Set(contextKeyStudy, sc)
}

// GetStudyContext returns the study attached by LoadStudy, or nil.
func GetStudyContext(c echo.Context) *StudyContext {
	sc, _ := c.Get(contextKeyStudy).(*StudyContext)
	return sc
}
