// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, blob store,
// Echo instance) and wires every plugin together.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/blobstore"
	"github.com/asascience/matos/internal/config"
	"github.com/asascience/matos/internal/metrics"
	"github.com/asascience/matos/internal/middleware"
	"github.com/asascience/matos/internal/policy"
	"github.com/asascience/matos/internal/templates/layouts"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis backs sessions and rate limiting.
	Redis *redis.Client

	// Blobs stores uploaded submission datafiles.
	Blobs blobstore.Store

	Enforcer *policy.Enforcer
	Metrics  *metrics.Metrics

	Echo *echo.Echo
}

// New creates the App and configures Echo with global middleware and
// error handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client, blobs blobstore.Store, enforcer *policy.Enforcer) *App {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// c.RealIP() must see the client behind the reverse proxy for rate limits.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fd00::/8",
	})

	app := &App{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Blobs:    blobs,
		Enforcer: enforcer,
		Metrics:  metrics.New(),
		Echo:     e,
	}

	app.setupMiddleware()
	e.HTTPErrorHandler = app.errorHandler
	e.Static("/static", "static")

	return app
}

// setupMiddleware registers global middleware. Recovery is outermost and
// CSRF innermost.
func (a *App) setupMiddleware() {
	a.Echo.Use(middleware.Recovery())
	a.Echo.Use(middleware.RequestLogger())
	a.Echo.Use(a.Metrics.Middleware())
	a.Echo.Use(middleware.SecurityHeaders())
	a.Echo.Use(middleware.CSRF())
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// errorHandler maps AppErrors to responses: JSON for API clients, an
// error page for browsers, and a redirect to /login for a browser 401.
func (a *App) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := defaultErrorMessage(code)
	var fields map[string]string

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code, message, fields = appErr.Code, appErr.Message, appErr.Fields
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	case errors.As(err, &echoErr):
		code = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		} else {
			message = defaultErrorMessage(code)
		}
	default:
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
		)
	}

	if middleware.WantsJSON(c) {
		_ = c.JSON(code, errorResponse{Error: http.StatusText(code), Message: message, Fields: fields})
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if code == http.StatusUnauthorized {
		_ = c.Redirect(http.StatusSeeOther, "/login")
		return
	}
	_ = middleware.Render(c, code, layouts.ErrorPage(code, message))
}

func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to sign in to access this page."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist or has been moved."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusRequestEntityTooLarge:
		return "The upload is larger than the server accepts."
	case http.StatusUnprocessableEntity:
		return "The submitted data could not be processed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	default:
		return "Something went wrong on our end. Please try again."
	}
}

// healthCheck pings MariaDB and Redis concurrently.
func (a *App) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"database": "ok", "redis": "ok"}
	var dbErr, redisErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dbErr = a.DB.PingContext(gctx)
		return dbErr
	})
	g.Go(func() error {
		redisErr = a.Redis.Ping(gctx).Err()
		return redisErr
	})
	if err := g.Wait(); err != nil {
		if dbErr != nil {
			status["database"] = dbErr.Error()
		}
		if redisErr != nil {
			status["redis"] = redisErr.Error()
		}
		slog.Warn("health check failed", slog.Any("error", err))
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// Start listens on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting MATOS server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
		slog.String("blob_driver", string(a.Blobs.Driver())),
	)
	return a.Echo.Start(addr)
}
