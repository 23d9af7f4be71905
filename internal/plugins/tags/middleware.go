package tags

import (
	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/plugins/studies"
)

const contextKeyDeployment = "deployment"

// LoadDeployment resolves the :did parameter and the study that owns the
// deployment, so studies.Require can authorize against it.
func LoadDeployment(service TagService, studySvc studies.StudyService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			d, err := service.GetDeployment(ctx, c.Param("did"))
			if err != nil {
				return err
			}
			sc, err := studySvc.Load(ctx, d.StudyID)
			if err != nil {
				return err
			}
			c.Set(contextKeyDeployment, d)
			studies.SetStudyContext(c, sc)
			return next(c)
		}
	}
}

// GetDeployment returns the deployment attached by LoadDeployment, or nil.
func GetDeployment(c echo.Context) *Deployment {
	d, _ := c.Get(contextKeyDeployment).(*Deployment)
	return d
}
