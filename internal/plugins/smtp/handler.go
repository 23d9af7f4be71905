package smtp

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes mail diagnostics to admins.
type Handler struct {
	service SMTPService
}

// NewHandler creates the handler.
func NewHandler(service SMTPService) *Handler {
	return &Handler{service: service}
}

// Settings returns the effective configuration (GET /admin/smtp).
func (h *Handler) Settings(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Settings())
}

type testResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// TestConnection checks connectivity (POST /admin/smtp/test).
func (h *Handler) TestConnection(c echo.Context) error {
	if err := h.service.TestConnection(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, testResult{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, testResult{OK: true})
}
