package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/middleware"
	"github.com/asascience/matos/internal/policy"
)

const (
	contextKeySession = "auth_session"
	contextKeyUserID  = "auth_user_id"
)

// RequireAuth rejects requests without a valid session: JSON clients get
// 401, browsers are redirected to /login.
func RequireAuth(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if GetSession(c) == nil && !loadSession(c, service) {
				return handleUnauthenticated(c)
			}
			return next(c)
		}
	}
}

// OptionalAuth attaches the session when there is one and never blocks.
// Public pages use it so the layout and policy checks see the visitor.
func OptionalAuth(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			loadSession(c, service)
			return next(c)
		}
	}
}

// RequireAdmin must run after RequireAuth.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !GetSession(c).IsAdmin() {
				return apperror.NewForbidden("administrator access required")
			}
			return next(c)
		}
	}
}

func loadSession(c echo.Context, service AuthService) bool {
	token := getSessionToken(c)
	if token == "" {
		return false
	}
	session, err := service.ValidateSession(c.Request().Context(), token)
	if err != nil {
		clearSessionCookie(c)
		return false
	}
	SetSession(c, session)
	return true
}

// SetSession attaches session to the request. Middleware calls it after
// validating the cookie; tests in other packages use it to sign in.
func SetSession(c echo.Context, session *Session) {
	c.Set(contextKeySession, session)
	c.Set(contextKeyUserID, session.UserID)
}

func handleUnauthenticated(c echo.Context) error {
	if middleware.WantsJSON(c) || c.Request().Method != http.MethodGet {
		return apperror.NewUnauthorized("authentication required")
	}
	return c.Redirect(http.StatusSeeOther, "/login")
}

// GetSession returns the session attached by RequireAuth or OptionalAuth,
// or nil.
func GetSession(c echo.Context) *Session {
	session, _ := c.Get(contextKeySession).(*Session)
	return session
}

// GetUserID returns the signed-in user's ID, or "".
func GetUserID(c echo.Context) string {
	id, _ := c.Get(contextKeyUserID).(string)
	return id
}

// GetActor returns the policy actor for the request; anonymous visitors
// are the zero Actor.
func GetActor(c echo.Context) policy.Actor {
	return GetSession(c).Actor()
}
