package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/middleware"
	"github.com/asascience/matos/internal/plugins/audit"
)

const sessionCookieName = "matos_session"

// Handler serves sign-in, sign-up and user administration.
type Handler struct {
	service AuthService
	audit   audit.AuditService
}

// NewHandler creates the handler. auditSvc may be nil.
func NewHandler(service AuthService, auditSvc audit.AuditService) *Handler {
	return &Handler{service: service, audit: auditSvc}
}

// LoginForm renders GET /login.
func (h *Handler) LoginForm(c echo.Context) error {
	if GetSession(c) != nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	return middleware.Render(c, http.StatusOK, loginPage(middleware.GetCSRFToken(c), "", ""))
}

// Login handles POST /login.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	token, _, err := h.service.Login(c.Request().Context(), req)
	if err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) || appErr.Code >= 500 {
			return err
		}
		if middleware.WantsJSON(c) {
			return err
		}
		return middleware.Render(c, appErr.Code, loginPage(middleware.GetCSRFToken(c), req.Email, appErr.Message))
	}

	setSessionCookie(c, token)
	if middleware.WantsJSON(c) {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

// RegisterForm renders GET /register.
func (h *Handler) RegisterForm(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, registerPage(middleware.GetCSRFToken(c), &RegisterRequest{}, nil))
}

// Register handles POST /register. The account is created unapproved, so
// no session is started.
func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	user, err := h.service.Register(c.Request().Context(), req)
	if err != nil {
		var appErr *apperror.AppError
		if middleware.WantsJSON(c) || !errors.As(err, &appErr) || appErr.Code != http.StatusUnprocessableEntity {
			return err
		}
		return middleware.Render(c, http.StatusUnprocessableEntity,
			registerPage(middleware.GetCSRFToken(c), &req, appErr.Fields))
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusCreated, user)
	}
	return middleware.Render(c, http.StatusOK, pendingApprovalPage(user))
}

// Logout handles POST /logout.
func (h *Handler) Logout(c echo.Context) error {
	if token := getSessionToken(c); token != "" {
		_ = h.service.DestroySession(c.Request().Context(), token)
	}
	clearSessionCookie(c)
	return c.Redirect(http.StatusSeeOther, "/")
}

type usersResponse struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
}

// Users lists accounts for admins (GET /admin/users[?pending=1]).
func (h *Handler) Users(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pending := c.QueryParam("pending") != ""

	users, total, err := h.service.ListUsers(c.Request().Context(), pending, page)
	if err != nil {
		return err
	}
	if users == nil {
		users = []User{}
	}
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, usersResponse{Users: users, Total: total, Page: page})
	}
	return middleware.Render(c, http.StatusOK, usersPage(middleware.GetCSRFToken(c), users, total, page))
}

// Approve handles PUT /admin/users/:uid/approve with an optional role
// parameter; without it the requested role is granted.
func (h *Handler) Approve(c echo.Context) error {
	var role Role
	if raw := c.FormValue("role"); raw != "" {
		r, ok := ParseRole(raw)
		if !ok {
			return apperror.NewFieldValidation(map[string]string{"role": raw + " is not a valid role"})
		}
		role = r
	}

	user, err := h.service.Approve(c.Request().Context(), c.Param("uid"), role)
	if err != nil {
		return err
	}

	if h.audit != nil {
		h.audit.Record(c.Request().Context(), audit.Entry{
			ActorID:      GetUserID(c),
			Action:       audit.ActionUserApproved,
			ResourceType: "user",
			ResourceID:   user.ID,
			Details:      map[string]any{"role": string(user.Role)},
		})
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, user)
	}
	return c.Redirect(http.StatusSeeOther, "/admin/users?pending=1")
}

func getSessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setSessionCookie(c echo.Context, token string) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
