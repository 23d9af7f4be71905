package reports

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/middleware"
	"github.com/asascience/matos/internal/plugins/audit"
	"github.com/asascience/matos/internal/plugins/auth"
	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/policy"
)

const (
	thankYouMessage = "Thank you for submitting a Report!"
	maxPatchBytes   = 1 << 20
)

// Handler serves the public report form and the report grid.
type Handler struct {
	service  ReportService
	studies  studies.StudyService
	enforcer *policy.Enforcer
	audit    audit.AuditService
}

// NewHandler creates the handler. auditSvc may be nil.
func NewHandler(service ReportService, studySvc studies.StudyService, enforcer *policy.Enforcer, auditSvc audit.AuditService) *Handler {
	return &Handler{service: service, studies: studySvc, enforcer: enforcer, audit: auditSvc}
}

// New renders the public report form (GET /reports/new).
func (h *Handler) New(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, newPage(middleware.GetCSRFToken(c), &ReportRequest{}, nil))
}

// Create handles POST /reports.
func (h *Handler) Create(c echo.Context) error {
	var req ReportRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	r, err := h.service.Submit(c.Request().Context(), req)
	if err != nil {
		var appErr *apperror.AppError
		if middleware.WantsJSON(c) || !errors.As(err, &appErr) || appErr.Code != http.StatusUnprocessableEntity {
			return err
		}
		return middleware.Render(c, http.StatusUnprocessableEntity, newPage(middleware.GetCSRFToken(c), &req, appErr.Fields))
	}

	h.record(c, r, audit.ActionReportCreated, map[string]any{"matched": r.Matched()})

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusCreated, NewGridRow(r))
	}
	middleware.SetFlash(c, thankYouMessage)
	return c.Redirect(http.StatusSeeOther, "/reports/info")
}

// Info is the landing page after a report (GET /reports/info).
func (h *Handler) Info(c echo.Context) error {
	return middleware.Render(c, http.StatusOK, infoPage())
}

// Index renders the grid shell (GET /reports, GET /studies/:id/reports).
func (h *Handler) Index(c echo.Context) error {
	dataURL := "/reports/datatable"
	title := "All reports"
	if sc := studies.GetStudyContext(c); sc != nil {
		dataURL = "/studies/" + sc.Study.ID + "/reports/datatable"
		title = sc.Study.Name + " reports"
	}
	return middleware.Render(c, http.StatusOK, gridPage(title, dataURL))
}

// Datatable serves the DataTables feed.
func (h *Handler) Datatable(c echo.Context) error {
	p := gridParams(c)
	if sc := studies.GetStudyContext(c); sc != nil {
		p.StudyID = sc.Study.ID
	}
	resp, err := h.service.Grid(c.Request().Context(), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func gridParams(c echo.Context) GridParams {
	atoi := func(name string) int {
		n, _ := strconv.Atoi(c.QueryParam(name))
		return n
	}
	p := GridParams{
		SortCol: atoi("iSortCol_0"),
		SortDir: c.QueryParam("sSortDir_0"),
		Start:   atoi("iDisplayStart"),
		Length:  atoi("iDisplayLength"),
		Echo:    c.QueryParam("sEcho"),
	}
	if cols := c.QueryParam("sColumns"); cols != "" {
		p.Columns = strings.Split(cols, ",")
	}
	return p
}

// Search handles GET /reports/search?q=.
func (h *Handler) Search(c echo.Context) error {
	q := c.QueryParam("q")
	list, err := h.service.Search(c.Request().Context(), q)
	if err != nil {
		return err
	}
	if middleware.WantsJSON(c) {
		rows := make([]GridRow, 0, len(list))
		for i := range list {
			rows = append(rows, NewGridRow(&list[i]))
		}
		return c.JSON(http.StatusOK, rows)
	}
	return middleware.Render(c, http.StatusOK, searchPage(q, list))
}

// Update applies a JSON merge patch (PATCH|PUT /reports/:id). The grid
// only reads the status code.
func (h *Handler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	r, err := h.authorize(c, policy.Update)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPatchBytes))
	if err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	updated, err := h.service.Update(ctx, r.ID, body)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Code == http.StatusUnprocessableEntity {
			return c.NoContent(http.StatusUnprocessableEntity)
		}
		return err
	}

	h.record(c, updated, audit.ActionReportUpdated, nil)
	return c.NoContent(http.StatusOK)
}

// Destroy handles DELETE /reports/:id.
func (h *Handler) Destroy(c echo.Context) error {
	r, err := h.authorize(c, policy.Destroy)
	if err != nil {
		return err
	}
	if err := h.service.Delete(c.Request().Context(), r.ID); err != nil {
		return err
	}
	h.record(c, r, audit.ActionReportDeleted, nil)
	return c.NoContent(http.StatusOK)
}

// authorize loads the report and checks action against the study that
// owns its deployment. Unmatched reports belong to no study.
func (h *Handler) authorize(c echo.Context, action policy.Action) (*Report, error) {
	ctx := c.Request().Context()
	r, err := h.service.Get(ctx, c.Param("id"))
	if err != nil {
		return nil, err
	}
	res, err := h.resource(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := h.enforcer.Authorize(action, policy.Report, auth.GetActor(c), res); err != nil {
		return nil, err
	}
	return r, nil
}

func (h *Handler) resource(ctx context.Context, r *Report) (policy.Resource, error) {
	if r.StudyID == "" {
		return policy.Global, nil
	}
	sc, err := h.studies.Load(ctx, r.StudyID)
	if err != nil {
		return policy.Resource{}, err
	}
	return sc.Resource(), nil
}

func (h *Handler) record(c echo.Context, r *Report, action string, details map[string]any) {
	if h.audit == nil {
		return
	}
	h.audit.Record(c.Request().Context(), audit.Entry{
		StudyID:      r.StudyID,
		ActorID:      auth.GetUserID(c),
		Action:       action,
		ResourceType: "report",
		ResourceID:   r.ID,
		Details:      details,
	})
}
