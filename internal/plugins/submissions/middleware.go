package submissions

import (
	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/plugins/auth"
	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/policy"
)

const contextKeySubmission = "submission"

// LoadSubmission resolves the :sid parameter and the owning study.
func LoadSubmission(service SubmissionService, studySvc studies.StudyService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			sub, err := service.Get(ctx, c.Param("sid"))
			if err != nil {
				return err
			}
			sc, err := studySvc.Load(ctx, sub.StudyID)
			if err != nil {
				return err
			}
			c.Set(contextKeySubmission, sub)
			studies.SetStudyContext(c, sc)
			return next(c)
		}
	}
}

// RequireSubmission authorizes action against the loaded submission, so
// the submitter is known to the policy.
func RequireSubmission(enforcer *policy.Enforcer, action policy.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			sub, sc := GetSubmission(c), studies.GetStudyContext(c)
			if sub == nil || sc == nil {
				return apperror.NewMissingContext()
			}
			if err := enforcer.Authorize(action, policy.Submission, auth.GetActor(c), sub.Resource(sc)); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// GetSubmission returns the submission attached by LoadSubmission, or nil.
func GetSubmission(c echo.Context) *Submission {
	sub, _ := c.Get(contextKeySubmission).(*Submission)
	return sub
}
