package studies

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/middleware"
	"github.com/asascience/matos/internal/plugins/audit"
	"github.com/asascience/matos/internal/plugins/auth"
	"github.com/asascience/matos/internal/policy"
)

// Handler serves study pages and collaborator management.
type Handler struct {
	service  StudyService
	enforcer *policy.Enforcer
	audit    audit.AuditService
}

// NewHandler creates the handler. auditSvc may be nil.
func NewHandler(service StudyService, enforcer *policy.Enforcer, auditSvc audit.AuditService) *Handler {
	return &Handler{service: service, enforcer: enforcer, audit: auditSvc}
}

// Index lists the studies visible to the signed-in user (GET /studies).
func (h *Handler) Index(c echo.Context) error {
	actor := auth.GetActor(c)
	list, err := h.service.List(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	if list == nil {
		list = []Study{}
	}
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, list)
	}
	canCreate, _ := h.enforcer.Can(policy.Create, policy.Study, actor, policy.Global)
	return middleware.Render(c, http.StatusOK, indexPage(middleware.GetCSRFToken(c), list, canCreate, &CreateStudyRequest{}, nil))
}

// Create handles POST /studies.
func (h *Handler) Create(c echo.Context) error {
	var req CreateStudyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	actor := auth.GetActor(c)
	study, err := h.service.Create(c.Request().Context(), actor, req)
	if err != nil {
		var appErr *apperror.AppError
		if middleware.WantsJSON(c) || !errors.As(err, &appErr) || appErr.Code != http.StatusUnprocessableEntity {
			return err
		}
		list, _ := h.service.List(c.Request().Context(), actor)
		return middleware.Render(c, http.StatusUnprocessableEntity,
			indexPage(middleware.GetCSRFToken(c), list, true, &req, appErr.Fields))
	}

	h.record(c, audit.Entry{
		StudyID:      study.ID,
		Action:       audit.ActionStudyCreated,
		ResourceType: "study",
		ResourceID:   study.ID,
		Details:      map[string]any{"name": study.Name},
	})

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusCreated, study)
	}
	return c.Redirect(http.StatusSeeOther, "/studies/"+study.ID)
}

// Show renders GET /studies/:id.
func (h *Handler) Show(c echo.Context) error {
	sc := GetStudyContext(c)
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, sc)
	}
	canManage, _ := h.enforcer.Can(policy.Manage, policy.Study, auth.GetActor(c), sc.Resource())
	return middleware.Render(c, http.StatusOK, showPage(middleware.GetCSRFToken(c), sc, canManage, nil))
}

// AddCollaborator handles POST /studies/:id/collaborators. Adding an
// existing collaborator changes their role.
func (h *Handler) AddCollaborator(c echo.Context) error {
	var req AddCollaboratorRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	sc := GetStudyContext(c)
	collab, err := h.service.AddCollaborator(c.Request().Context(), sc.Study.ID, req)
	if err != nil {
		var appErr *apperror.AppError
		if middleware.WantsJSON(c) || !errors.As(err, &appErr) || appErr.Code != http.StatusUnprocessableEntity {
			return err
		}
		return middleware.Render(c, http.StatusUnprocessableEntity,
			showPage(middleware.GetCSRFToken(c), sc, true, appErr.Fields))
	}

	h.record(c, audit.Entry{
		StudyID:      sc.Study.ID,
		Action:       audit.ActionCollaboratorAdded,
		ResourceType: "user",
		ResourceID:   collab.UserID,
		Details:      map[string]any{"role": string(collab.Role)},
	})

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusCreated, collab)
	}
	return c.Redirect(http.StatusSeeOther, "/studies/"+sc.Study.ID)
}

// RemoveCollaborator handles DELETE /studies/:id/collaborators/:uid.
func (h *Handler) RemoveCollaborator(c echo.Context) error {
	sc := GetStudyContext(c)
	if err := h.service.RemoveCollaborator(c.Request().Context(), sc.Study.ID, c.Param("uid")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) record(c echo.Context, e audit.Entry) {
	if h.audit == nil {
		return
	}
	e.ActorID = auth.GetUserID(c)
	h.audit.Record(c.Request().Context(), e)
}
