package layouts

import (
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"
)

func render(t *testing.T, ctx context.Context, c templ.Component) string {
	t.Helper()
	var b strings.Builder
	if err := c.Render(ctx, &b); err != nil {
		t.Fatalf("render: %v", err)
	}
	return b.String()
}

func TestCurrentUser(t *testing.T) {
	if _, ok := CurrentUser(context.Background()); ok {
		t.Fatal("expected no user on empty context")
	}
	ctx := WithUser(context.Background(), User{ID: "u1", Name: "Ann", Role: "admin", Admin: true})
	u, ok := CurrentUser(ctx)
	if !ok || u.Name != "Ann" || !u.Admin {
		t.Errorf("unexpected user %+v", u)
	}
}

func TestBase_AnonymousNav(t *testing.T) {
	out := render(t, context.Background(), Base("Home", templ.Raw("<p>hi</p>")))
	if !strings.Contains(out, `href="/login"`) {
		t.Error("anonymous page should link to sign in")
	}
	if strings.Contains(out, `href="/admin/users"`) {
		t.Error("anonymous page must not link to admin")
	}
	if !strings.Contains(out, "<p>hi</p>") {
		t.Error("body missing")
	}
}

func TestBase_AdminNavAndEscaping(t *testing.T) {
	ctx := WithUser(context.Background(), User{ID: "u1", Name: "<b>Ann</b>", Admin: true})
	ctx = WithFlash(ctx, "Saved & done")
	out := render(t, ctx, Base("Reports", templ.Raw("")))
	if !strings.Contains(out, `href="/admin/users"`) {
		t.Error("admin should see user admin link")
	}
	if strings.Contains(out, "<b>Ann</b>") {
		t.Error("user name must be escaped")
	}
	if !strings.Contains(out, "Saved &amp; done") {
		t.Error("flash missing or unescaped")
	}
}

func TestErrorPage(t *testing.T) {
	out := render(t, context.Background(), ErrorPage(404, "no such report"))
	if !strings.Contains(out, "404 Not Found") || !strings.Contains(out, "no such report") {
		t.Errorf("unexpected error page: %s", out)
	}
}
