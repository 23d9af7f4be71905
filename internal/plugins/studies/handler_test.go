package studies

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/plugins/auth"
)

func newTestEcho(t *testing.T, repo *mockStudyRepo, users *mockUserFinder, session *auth.Session) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		_ = c.NoContent(apperror.SafeCode(err))
	}
	svc := newTestService(t, repo, users)
	enf := newTestEnforcer(t)
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if session != nil {
				auth.SetSession(c, session)
			}
			return next(c)
		}
	})
	RegisterRoutes(g, NewHandler(svc, enf, nil), svc, enf)
	return e
}

func studyRepoWithCollaborators() *mockStudyRepo {
	return &mockStudyRepo{
		findByIDFn: func(_ context.Context, id string) (*Study, error) {
			if id != "s1" {
				return nil, apperror.NewNotFound("study not found")
			}
			return existingStudy(), nil
		},
		listCollaboratorsFn: func(context.Context, string) ([]Collaborator, error) {
			return []Collaborator{{StudyID: "s1", UserID: "u-r", Role: CollaboratorRead}}, nil
		},
	}
}

func TestShow_ReaderAllowed(t *testing.T) {
	e := newTestEcho(t, studyRepoWithCollaborators(), nil, &auth.Session{UserID: "u-r", Role: auth.RoleResearcher})

	req := httptest.NewRequest(http.MethodGet, "/studies/s1", nil)
	req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Lake Erie Walleye") {
		t.Errorf("body missing study name: %s", rec.Body.String())
	}
}

func TestShow_OutsiderForbidden(t *testing.T) {
	e := newTestEcho(t, studyRepoWithCollaborators(), nil, &auth.Session{UserID: "u-x", Role: auth.RoleResearcher})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/studies/s1", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestShow_UnknownStudy(t *testing.T) {
	e := newTestEcho(t, studyRepoWithCollaborators(), nil, &auth.Session{UserID: "u-admin", Role: auth.RoleAdmin})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/studies/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAddCollaborator_ReaderForbidden(t *testing.T) {
	e := newTestEcho(t, studyRepoWithCollaborators(), nil, &auth.Session{UserID: "u-r", Role: auth.RoleResearcher})

	req := httptest.NewRequest(http.MethodPost, "/studies/s1/collaborators", strings.NewReader("email=bob%40example.org"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAddCollaborator_OwnerAllowed(t *testing.T) {
	users := &mockUserFinder{findByEmailFn: func(_ context.Context, email string) (*MemberUser, error) {
		return &MemberUser{ID: "u-bob", Email: email, Name: "Bob"}, nil
	}}
	e := newTestEcho(t, studyRepoWithCollaborators(), users, &auth.Session{UserID: "u-owner", Role: auth.RoleResearcher})

	req := httptest.NewRequest(http.MethodPost, "/studies/s1/collaborators", strings.NewReader("email=bob%40example.org&role=manage"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", rec.Code)
	}
}
