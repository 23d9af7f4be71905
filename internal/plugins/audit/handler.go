package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/middleware"
)

// Handler serves the audit feed.
type Handler struct {
	service AuditService
}

// NewHandler creates a new audit handler.
func NewHandler(service AuditService) *Handler {
	return &Handler{service: service}
}

type pageResponse struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// Index lists entries (GET /admin/audit), optionally filtered by
// ?study_id= and ?action=.
func (h *Handler) Index(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	f := Filter{StudyID: c.QueryParam("study_id"), Action: c.QueryParam("action")}

	entries, total, err := h.service.List(c.Request().Context(), f, page)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, pageResponse{Entries: entries, Total: total, Page: page, PerPage: perPage})
	}
	return middleware.Render(c, http.StatusOK, activityPage(entries, total, page))
}
