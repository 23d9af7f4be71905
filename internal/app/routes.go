package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/ingest"
	"github.com/asascience/matos/internal/middleware"
	"github.com/asascience/matos/internal/plugins/audit"
	"github.com/asascience/matos/internal/plugins/auth"
	"github.com/asascience/matos/internal/plugins/reports"
	"github.com/asascience/matos/internal/plugins/smtp"
	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/plugins/submissions"
	"github.com/asascience/matos/internal/plugins/tags"
	"github.com/asascience/matos/internal/templates/layouts"
)

// RegisterRoutes builds every plugin and mounts its routes. This is the
// single place where plugins are wired together.
func (a *App) RegisterRoutes() {
	e := a.Echo
	cfg := a.Config

	// --- Shared services ---
	auditSvc := audit.NewAuditService(audit.NewAuditRepository(a.DB))
	mailSvc := smtp.NewSMTPService(cfg.SMTP)

	userRepo := auth.NewUserRepository(a.DB)
	authSvc := auth.NewAuthService(userRepo, a.Redis, cfg.Auth.SessionTTL)

	studySvc := studies.NewStudyService(studies.NewStudyRepository(a.DB), studies.NewUserFinderAdapter(userRepo), a.Enforcer)
	tagSvc := tags.NewTagService(tags.NewTagRepository(a.DB))

	admins := cfg.Notify.AdminEmails
	if len(admins) == 0 {
		admins = a.lookupAdmins(authSvc)
	}
	notifier := reports.NewNotifier(mailSvc, studySvc, admins, cfg.BaseURL)
	reportSvc := reports.NewReportService(reports.NewReportRepository(a.DB), tagSvc, notifier, a.Metrics)

	parser := ingest.NewCSVParser(ingest.NewStore(a.DB), tagSvc)
	submissionSvc := submissions.NewSubmissionService(submissions.NewSubmissionRepository(a.DB), a.Blobs, parser, a.Metrics,
		submissions.Options{MaxSize: cfg.Upload.MaxSize, Timeout: cfg.Ingest.Timeout})

	middleware.LayoutInjector = layoutInjector

	// Every page sees the visitor's session; RequireAuth reuses it.
	e.Use(auth.OptionalAuth(authSvc))

	// --- Public routes ---
	e.GET("/", func(c echo.Context) error {
		return middleware.Render(c, http.StatusOK, homePage())
	})
	e.GET("/healthz", a.healthCheck)
	e.GET("/metrics", a.Metrics.Handler())

	// --- Authenticated and admin groups ---
	authed := e.Group("", auth.RequireAuth(authSvc))
	admin := e.Group("/admin", auth.RequireAuth(authSvc), auth.RequireAdmin())

	auth.RegisterRoutes(e, admin, auth.NewHandler(authSvc, auditSvc), authSvc, a.Redis)
	audit.RegisterRoutes(admin, audit.NewHandler(auditSvc))
	smtp.RegisterRoutes(admin, smtp.NewHandler(mailSvc))

	studies.RegisterRoutes(authed, studies.NewHandler(studySvc, a.Enforcer, auditSvc), studySvc, a.Enforcer)
	tags.RegisterRoutes(authed, tags.NewHandler(tagSvc, a.Enforcer, auditSvc), tagSvc, studySvc, a.Enforcer)
	reports.RegisterRoutes(e, authed, reports.NewHandler(reportSvc, studySvc, a.Enforcer, auditSvc), studySvc, a.Enforcer, a.Redis)
	submissions.RegisterRoutes(authed, submissions.NewHandler(submissionSvc, a.Enforcer, auditSvc), submissionSvc, studySvc, a.Enforcer)
}

// lookupAdmins falls back to the approved admin accounts when no
// notification addresses are configured.
func (a *App) lookupAdmins(authSvc auth.AuthService) []string {
	emails, err := authSvc.AdminEmails(context.Background())
	if err != nil {
		slog.Warn("could not load admin addresses for report notices", slog.Any("error", err))
		return nil
	}
	return emails
}

// layoutInjector copies the session, CSRF token, flash, study and path
// into the context read by layouts.
func layoutInjector(c echo.Context, ctx context.Context) context.Context {
	if s := auth.GetSession(c); s != nil {
		ctx = layouts.WithUser(ctx, layouts.User{
			ID:    s.UserID,
			Name:  s.Name,
			Email: s.Email,
			Role:  string(s.Role),
			Admin: s.IsAdmin(),
		})
	}
	if sc := studies.GetStudyContext(c); sc != nil {
		ctx = layouts.WithStudy(ctx, sc.Study.ID, sc.Study.Name)
	}
	if msg := middleware.PopFlash(c); msg != "" {
		ctx = layouts.WithFlash(ctx, msg)
	}
	ctx = layouts.WithCSRFToken(ctx, middleware.GetCSRFToken(c))
	return layouts.WithActivePath(ctx, c.Request().URL.Path)
}

func homePage() templ.Component {
	return layouts.Base("Welcome", layouts.Markup(func(ctx context.Context, b *strings.Builder) {
		b.WriteString(`<h1>Marine Acoustic Telemetry Observation System</h1>`)
		b.WriteString(`<p>Caught a fish carrying a tag? Tell us where and when, and we will pass it to the researchers who released it.</p>`)
		b.WriteString(`<p><a class="button" href="/reports/new">Report a tag</a></p>`)
		if _, ok := layouts.CurrentUser(ctx); ok {
			b.WriteString(`<p><a href="/studies">Your studies</a></p>`)
		}
	}))
}
