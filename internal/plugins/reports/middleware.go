package reports

import (
	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/plugins/auth"
	"github.com/asascience/matos/internal/policy"
)

// RequireGlobal authorizes a collection-level action, such as opening the
// all-studies report grid.
func RequireGlobal(enforcer *policy.Enforcer, action policy.Action, subject policy.Subject) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := enforcer.Authorize(action, subject, auth.GetActor(c), policy.Global); err != nil {
				return err
			}
			return next(c)
		}
	}
}
