package layouts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"
)

type navLink struct {
	Href  string
	Label string
}

func navLinks(ctx context.Context) []navLink {
	links := []navLink{{"/reports/new", "Report a tag"}}
	u, ok := CurrentUser(ctx)
	if !ok {
		return append(links, navLink{"/login", "Sign in"}, navLink{"/register", "Register"})
	}
	links = append(links, navLink{"/studies", "Studies"})
	if u.Admin {
		links = append(links, navLink{"/reports", "Reports"}, navLink{"/admin/users", "Users"})
	}
	return links
}

// Base wraps body in the site chrome.
func Base(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<meta name="csrf-token" content="%s">`+
			`<title>%s | MATOS</title><link rel="stylesheet" href="/static/css/app.css"></head><body>`,
			templ.EscapeString(CSRFToken(ctx)), templ.EscapeString(title))

		b.WriteString(`<header class="site-header"><a class="brand" href="/">MATOS</a><nav>`)
		active := ActivePath(ctx)
		for _, l := range navLinks(ctx) {
			class := ""
			if strings.HasPrefix(active, l.Href) {
				class = ` class="active"`
			}
			fmt.Fprintf(&b, `<a href="%s"%s>%s</a>`, l.Href, class, templ.EscapeString(l.Label))
		}
		if u, ok := CurrentUser(ctx); ok {
			fmt.Fprintf(&b, `<form method="post" action="/logout" class="inline">`+
				`<input type="hidden" name="csrf_token" value="%s">`+
				`<button type="submit">Sign out %s</button></form>`,
				templ.EscapeString(CSRFToken(ctx)), templ.EscapeString(u.Name))
		}
		b.WriteString(`</nav></header>`)

		if id, name := Study(ctx); id != "" {
			fmt.Fprintf(&b, `<div class="study-bar"><a href="/studies/%s">%s</a></div>`,
				templ.EscapeString(id), templ.EscapeString(name))
		}
		if msg := Flash(ctx); msg != "" {
			fmt.Fprintf(&b, `<div class="flash">%s</div>`, templ.EscapeString(msg))
		}
		b.WriteString(`<main>`)

		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main><script src="/static/js/app.js"></script></body></html>`)
		return err
	})
}

// ErrorPage renders a full page for an HTTP error.
func ErrorPage(code int, message string) templ.Component {
	title := http.StatusText(code)
	return Base(title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<section class="error"><h1>%d %s</h1><p>%s</p><a href="/">Back to start</a></section>`,
			code, templ.EscapeString(title), templ.EscapeString(message))
		return err
	}))
}
