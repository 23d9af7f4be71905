package submissions

import (
	"errors"
	"mime/multipart"
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

// Handler serves the upload form, submission listing and processing.
type Handler struct {
	service  SubmissionService
	enforcer *policy.Enforcer
	audit    audit.AuditService
}

// NewHandler creates the handler. auditSvc may be nil.
func NewHandler(service SubmissionService, enforcer *policy.Enforcer, auditSvc audit.AuditService) *Handler {
	return &Handler{service: service, enforcer: enforcer, audit: auditSvc}
}

// submissionJSON adds derived fields to the wire form.
type submissionJSON struct {
	*Submission
	DTRowID   string `json:"DT_RowId"`
	HumanSize string `json:"human_size"`
}

func toJSON(s *Submission) submissionJSON {
	return submissionJSON{Submission: s, DTRowID: s.DTRowID(), HumanSize: s.HumanSize()}
}

// Index lists a study's submissions (GET /studies/:id/submissions).
func (h *Handler) Index(c echo.Context) error {
	sc := studies.GetStudyContext(c)
	list, err := h.service.List(c.Request().Context(), sc.Study.ID)
	if err != nil {
		return err
	}
	if middleware.WantsJSON(c) {
		out := make([]submissionJSON, len(list))
		for i := range list {
			out[i] = toJSON(&list[i])
		}
		return c.JSON(http.StatusOK, out)
	}
	return h.renderIndex(c, http.StatusOK, sc, list, "", nil)
}

func (h *Handler) renderIndex(c echo.Context, status int, sc *studies.StudyContext, list []Submission, datatype string, errs map[string]string) error {
	canUpload, _ := h.enforcer.Can(policy.Create, policy.Submission, auth.GetActor(c), sc.Resource())
	return middleware.Render(c, status, indexPage(indexData{
		CSRF:      middleware.GetCSRFToken(c),
		Study:     sc.Study,
		List:      list,
		CanUpload: canUpload,
		Datatype:  datatype,
		Errors:    errs,
	}))
}

// Create accepts a multipart upload (POST /studies/:id/submissions). The
// file travels in "datafile"; "datatype" and "cleardata" are form fields.
func (h *Handler) Create(c echo.Context) error {
	sc := studies.GetStudyContext(c)
	ctx := c.Request().Context()

	in := UploadInput{
		StudyID:  sc.Study.ID,
		UserID:   auth.GetUserID(c),
		Datatype: c.FormValue("datatype"),
	}
	in.ClearData, _ = strconv.ParseBool(c.FormValue("cleardata"))

	fh, err := c.FormFile("datafile")
	switch {
	case err == nil:
		f, oerr := fh.Open()
		if oerr != nil {
			return apperror.NewBadRequest("unreadable datafile")
		}
		defer f.Close()
		in.Data, in.FileName, in.Size = f, fh.Filename, fh.Size
		in.ContentType = contentType(fh)
	case errors.Is(err, http.ErrMissingFile):
	default:
		return apperror.NewBadRequest("invalid upload")
	}

	sub, err := h.service.Upload(ctx, in)
	if err != nil {
		var appErr *apperror.AppError
		if middleware.WantsJSON(c) || !errors.As(err, &appErr) || appErr.Code != http.StatusUnprocessableEntity {
			return err
		}
		list, _ := h.service.List(ctx, sc.Study.ID)
		return h.renderIndex(c, http.StatusUnprocessableEntity, sc, list, in.Datatype, appErr.Fields)
	}

	h.record(c, sub, audit.ActionSubmissionCreated, map[string]any{"datatype": sub.Datatype, "file": sub.FileName})

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusCreated, toJSON(sub))
	}
	middleware.SetFlash(c, "Datafile uploaded. Process it to load its rows.")
	return c.Redirect(http.StatusSeeOther, "/studies/"+sc.Study.ID+"/submissions")
}

func contentType(fh *multipart.FileHeader) string {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "text/csv"
}

// Show renders GET /submissions/:sid.
func (h *Handler) Show(c echo.Context) error {
	sub := GetSubmission(c)
	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, toJSON(sub))
	}
	sc := studies.GetStudyContext(c)
	actor := auth.GetActor(c)
	res := sub.Resource(sc)
	canProcess, _ := h.enforcer.Can(policy.Update, policy.Submission, actor, res)
	canDestroy, _ := h.enforcer.Can(policy.Destroy, policy.Submission, actor, res)
	return middleware.Render(c, http.StatusOK, showPage(middleware.GetCSRFToken(c), sc.Study, sub, canProcess, canDestroy))
}

// Process runs ingest for the datafile (POST /submissions/:sid/process).
func (h *Handler) Process(c echo.Context) error {
	sub, err := h.service.Process(c.Request().Context(), GetSubmission(c).ID)
	if sub != nil {
		action := audit.ActionSubmissionProcessed
		if sub.Status == StatusFailed {
			action = audit.ActionSubmissionFailed
		}
		h.record(c, sub, action, map[string]any{"rows": sub.RowCount, "message": sub.Message})
	}

	if middleware.WantsJSON(c) {
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, toJSON(sub))
	}

	if err != nil {
		if sub == nil {
			return err
		}
		middleware.SetFlash(c, "Processing failed: "+apperror.SafeMessage(err))
	} else {
		middleware.SetFlash(c, "Processed "+strconv.Itoa(sub.RowCount)+" rows.")
	}
	return c.Redirect(http.StatusSeeOther, "/submissions/"+sub.ID)
}

// Destroy handles DELETE /submissions/:sid.
func (h *Handler) Destroy(c echo.Context) error {
	sub := GetSubmission(c)
	if err := h.service.Destroy(c.Request().Context(), sub.ID); err != nil {
		return err
	}
	h.record(c, sub, audit.ActionSubmissionDeleted, map[string]any{"datatype": sub.Datatype, "file": sub.FileName})
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) record(c echo.Context, sub *Submission, action string, details map[string]any) {
	if h.audit == nil {
		return
	}
	h.audit.Record(c.Request().Context(), audit.Entry{
		StudyID:      sub.StudyID,
		ActorID:      auth.GetUserID(c),
		Action:       action,
		ResourceType: "submission",
		ResourceID:   sub.ID,
		Details:      details,
	})
}
