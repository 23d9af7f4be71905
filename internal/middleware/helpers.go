package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
)

// LayoutInjector copies request-scoped data (session, CSRF token, flash)
// from the echo context into the Go context read by views. It is assigned
// once in app/routes.go so this package never imports plugin types.
var LayoutInjector func(echo.Context, context.Context) context.Context

// Render writes a component with the given status code.
func Render(c echo.Context, statusCode int, component templ.Component) error {
	ctx := c.Request().Context()
	if LayoutInjector != nil {
		ctx = LayoutInjector(c, ctx)
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(statusCode)
	return component.Render(ctx, c.Response().Writer)
}

// WantsJSON reports whether the client asked for a JSON response, either by
// Accept header, by XHR, or by hitting a .json/datatable/geojson endpoint.
func WantsJSON(c echo.Context) bool {
	req := c.Request()
	path := req.URL.Path
	if strings.HasSuffix(path, "/datatable") || strings.HasSuffix(path, "/geojson") || strings.HasSuffix(path, ".json") {
		return true
	}
	if req.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.Contains(req.Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON)
}

const flashCookie = "matos_flash"

// SetFlash stores msg for the next page render in a short-lived cookie.
func SetFlash(c echo.Context, msg string) {
	c.SetCookie(&http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopFlash returns the pending flash message and clears it.
func PopFlash(c echo.Context) string {
	ck, err := c.Cookie(flashCookie)
	if err != nil || ck.Value == "" {
		return ""
	}
	c.SetCookie(&http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})
	msg, err := url.QueryUnescape(ck.Value)
	if err != nil {
		return ""
	}
	return msg
}
