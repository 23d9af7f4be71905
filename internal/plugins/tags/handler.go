package tags

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/middleware"
	"github.com/asascience/matos/internal/plugins/audit"
	"github.com/asascience/matos/internal/plugins/auth"
	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/policy"
)

// Handler serves deployment pages, search and GeoJSON.
type Handler struct {
	service  TagService
	enforcer *policy.Enforcer
	audit    audit.AuditService
}

// NewHandler creates the handler. auditSvc may be nil.
func NewHandler(service TagService, enforcer *policy.Enforcer, auditSvc audit.AuditService) *Handler {
	return &Handler{service: service, enforcer: enforcer, audit: auditSvc}
}

// deploymentJSON adds the derived fields to the wire form.
type deploymentJSON struct {
	*Deployment
	DTRowID     string `json:"DT_RowId"`
	DisplayName string `json:"display_name"`
	DateRange   string `json:"date_range"`
}

func toJSON(list []Deployment) []deploymentJSON {
	out := make([]deploymentJSON, len(list))
	for i := range list {
		d := &list[i]
		out[i] = deploymentJSON{Deployment: d, DTRowID: d.DTRowID(), DisplayName: d.DisplayName(), DateRange: d.DateRange()}
	}
	return out
}

type listResponse struct {
	Deployments []deploymentJSON `json:"deployments"`
	Total       int              `json:"total"`
	Page        int              `json:"page"`
}

// Index lists a study's deployments (GET /studies/:id/deployments).
func (h *Handler) Index(c echo.Context) error {
	sc := studies.GetStudyContext(c)
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	list, total, err := h.service.ListDeployments(c.Request().Context(), sc.Study.ID, page)
	if err != nil {
		return err
	}
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, listResponse{Deployments: toJSON(list), Total: total, Page: page})
	}
	return h.renderIndex(c, http.StatusOK, sc, list, total, page, &CreateDeploymentRequest{}, nil)
}

func (h *Handler) renderIndex(c echo.Context, status int, sc *studies.StudyContext, list []Deployment, total, page int,
	req *CreateDeploymentRequest, errs map[string]string) error {
	canCreate, _ := h.enforcer.Can(policy.Create, policy.Deployment, auth.GetActor(c), sc.Resource())
	return middleware.Render(c, status, indexPage(indexData{
		CSRF:      middleware.GetCSRFToken(c),
		Study:     sc.Study,
		List:      list,
		Total:     total,
		Page:      page,
		CanCreate: canCreate,
		Form:      req,
		Errors:    errs,
	}))
}

// Create handles POST /studies/:id/deployments.
func (h *Handler) Create(c echo.Context) error {
	var req CreateDeploymentRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}
	sc := studies.GetStudyContext(c)

	in, errs := ParseDeploymentRequest(req)
	var d *Deployment
	var err error
	if len(errs) > 0 {
		err = apperror.NewFieldValidation(errs)
	} else {
		d, err = h.service.CreateDeployment(c.Request().Context(), sc.Study.ID, in)
	}
	if err != nil {
		var appErr *apperror.AppError
		if middleware.WantsJSON(c) || !errors.As(err, &appErr) || appErr.Code != http.StatusUnprocessableEntity {
			return err
		}
		list, total, _ := h.service.ListDeployments(c.Request().Context(), sc.Study.ID, 1)
		return h.renderIndex(c, http.StatusUnprocessableEntity, sc, list, total, 1, &req, appErr.Fields)
	}

	if h.audit != nil {
		h.audit.Record(c.Request().Context(), audit.Entry{
			StudyID:      sc.Study.ID,
			ActorID:      auth.GetUserID(c),
			Action:       audit.ActionDeploymentCreated,
			ResourceType: "deployment",
			ResourceID:   d.ID,
			Details:      map[string]any{"tag": d.TagCode},
		})
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusCreated, toJSON([]Deployment{*d})[0])
	}
	return c.Redirect(http.StatusSeeOther, "/deployments/"+d.ID)
}

// Search handles GET /studies/:id/deployments/search?q=.
func (h *Handler) Search(c echo.Context) error {
	sc := studies.GetStudyContext(c)
	q := c.QueryParam("q")
	list, err := h.service.SearchDeployments(c.Request().Context(), sc.Study.ID, q)
	if err != nil {
		return err
	}
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, toJSON(list))
	}
	return middleware.Render(c, http.StatusOK, searchPage(sc.Study, q, list))
}

// Show renders GET /deployments/:did.
func (h *Handler) Show(c echo.Context) error {
	d := GetDeployment(c)
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, toJSON([]Deployment{*d})[0])
	}
	canDestroy, _ := h.enforcer.Can(policy.Destroy, policy.Deployment, auth.GetActor(c), studies.GetStudyContext(c).Resource())
	return middleware.Render(c, http.StatusOK, showPage(middleware.GetCSRFToken(c), d, canDestroy))
}

// GeoJSON serves GET /deployments/:did/geojson.
func (h *Handler) GeoJSON(c echo.Context) error {
	data, err := h.service.HitsGeoJSON(c.Request().Context(), GetDeployment(c).ID)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/geo+json", data)
}

// Delete handles DELETE /deployments/:did.
func (h *Handler) Delete(c echo.Context) error {
	d := GetDeployment(c)
	if err := h.service.DeleteDeployment(c.Request().Context(), d.ID); err != nil {
		return err
	}
	if h.audit != nil {
		h.audit.Record(c.Request().Context(), audit.Entry{
			StudyID:      d.StudyID,
			ActorID:      auth.GetUserID(c),
			Action:       audit.ActionDeploymentDeleted,
			ResourceType: "deployment",
			ResourceID:   d.ID,
			Details:      map[string]any{"tag": d.TagCode},
		})
	}
	return c.NoContent(http.StatusOK)
}
