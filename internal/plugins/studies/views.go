package studies

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/asascience/matos/internal/templates/layouts"
)

func indexPage(csrf string, list []Study, canCreate bool, req *CreateStudyRequest, errs map[string]string) templ.Component {
	return layouts.Base("Studies", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		b.WriteString(`<h1>Studies</h1>`)
		if len(list) == 0 {
			b.WriteString(`<p class="empty">You are not part of any study yet.</p>`)
		} else {
			b.WriteString(`<table class="table"><thead><tr><th>Name</th><th>Owner</th><th>Created</th></tr></thead><tbody>`)
			for _, s := range list {
				fmt.Fprintf(b, `<tr><td><a href="/studies/%s">%s</a></td><td>%s</td><td>%s</td></tr>`,
					templ.EscapeString(s.ID), templ.EscapeString(s.Name), templ.EscapeString(s.OwnerName),
					humanize.Time(s.CreatedAt))
			}
			b.WriteString(`</tbody></table>`)
		}
		if !canCreate {
			return
		}
		b.WriteString(`<h2>New study</h2><form method="post" action="/studies">`)
		b.WriteString(layouts.CSRFField(csrf))
		b.WriteString(layouts.Input("Name", "name", "text", req.Name, errs["name"]))
		b.WriteString(layouts.TextArea("Description", "description", req.Description, errs["description"]))
		b.WriteString(`<button type="submit">Create</button></form>`)
	}))
}

func showPage(csrf string, sc *StudyContext, canManage bool, errs map[string]string) templ.Component {
	s := sc.Study
	return layouts.Base(s.Name, layouts.Markup(func(ctx context.Context, b *strings.Builder) {
		fmt.Fprintf(b, `<h1>%s</h1><p class="meta">Owned by %s</p>`, templ.EscapeString(s.Name), templ.EscapeString(s.OwnerName))
		// Description is sanitized HTML.
		fmt.Fprintf(b, `<div class="description">%s</div>`, s.Description)

		base := "/studies/" + templ.EscapeString(s.ID)
		fmt.Fprintf(b, `<nav class="study-links"><a href="%s/deployments">Deployments</a> <a href="%s/submissions">Submissions</a>`, base, base)
		if u, _ := layouts.CurrentUser(ctx); u.Admin {
			fmt.Fprintf(b, ` <a href="%s/reports">Reports</a>`, base)
		}
		b.WriteString(`</nav>`)

		b.WriteString(`<h2>Collaborators</h2>`)
		if len(sc.Collaborators) == 0 {
			b.WriteString(`<p class="empty">None.</p>`)
		} else {
			b.WriteString(`<ul class="collaborators">`)
			for _, c := range sc.Collaborators {
				fmt.Fprintf(b, `<li>%s &lt;%s&gt; <span class="role">%s</span></li>`,
					templ.EscapeString(c.Name), templ.EscapeString(c.Email), c.Role)
			}
			b.WriteString(`</ul>`)
		}

		if !canManage {
			return
		}
		fmt.Fprintf(b, `<form method="post" action="%s/collaborators">`, base)
		b.WriteString(layouts.CSRFField(csrf))
		b.WriteString(layouts.Input("Email", "email", "email", "", errs["email"]))
		b.WriteString(layouts.Select("Access", "role", []string{string(CollaboratorRead), string(CollaboratorManage)}, string(CollaboratorRead), errs["role"]))
		b.WriteString(`<button type="submit">Add collaborator</button></form>`)
	}))
}
