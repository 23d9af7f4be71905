package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/asascience/matos/internal/templates/layouts"
)

// gridColumns are sent to the server as sColumns, in display order.
var gridColumns = []string{"found", "input_tag", "input_external_code", "fishtype", "method", "name", "email", "city", "state", "reported"}

func newPage(csrf string, req *ReportRequest, errs map[string]string) templ.Component {
	return layouts.Base("Report a tag", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		b.WriteString(`<h1>Report a tagged fish</h1>`)
		b.WriteString(`<p>Enter the internal tag ID, the external code printed on the tag, or both.</p>`)

		var msgs []string
		for _, m := range errs {
			msgs = append(msgs, m)
		}
		sort.Strings(msgs)
		b.WriteString(layouts.ErrorSummary(msgs))

		b.WriteString(`<form method="post" action="/reports">`)
		b.WriteString(layouts.CSRFField(csrf))
		b.WriteString(`<fieldset><legend>Tag</legend>`)
		b.WriteString(layouts.Input("Internal tag ID", "input_tag", "text", req.InputTag, errs["input_tag"]))
		b.WriteString(layouts.Input("External code", "input_external_code", "text", req.InputExternalCode, errs["input_external_code"]))
		b.WriteString(`</fieldset><fieldset><legend>Catch</legend>`)
		b.WriteString(layouts.Input("Date found (mm/dd/yyyy)", "found", "text", req.Found, errs["found"]))
		b.WriteString(layouts.Select("Method", "method", Methods, req.Method, errs["method"]))
		b.WriteString(layouts.Input("Species", "fishtype", "text", req.Fishtype, errs["fishtype"]))
		b.WriteString(layouts.Input("Length", "length", "text", req.Length, errs["length"]))
		b.WriteString(layouts.Input("Weight", "weight", "text", req.Weight, errs["weight"]))
		b.WriteString(layouts.Input("Latitude", "latitude", "text", req.Latitude, errs["latitude"]))
		b.WriteString(layouts.Input("Longitude", "longitude", "text", req.Longitude, ""))
		b.WriteString(layouts.TextArea("Description", "description", req.Description, errs["description"]))
		b.WriteString(`</fieldset><fieldset><legend>Contact</legend>`)
		b.WriteString(layouts.Input("Name", "name", "text", req.Name, errs["name"]))
		b.WriteString(layouts.Input("Email", "email", "email", req.Email, errs["email"]))
		b.WriteString(layouts.Input("Phone", "phone", "tel", req.Phone, errs["phone"]))
		b.WriteString(layouts.Input("City", "city", "text", req.City, errs["city"]))
		b.WriteString(layouts.Input("State", "state", "text", req.State, errs["state"]))
		b.WriteString(`</fieldset><button type="submit">Submit report</button></form>`)
	}))
}

func infoPage() templ.Component {
	return layouts.Base("Tag reports", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		b.WriteString(`<h1>Tag reports</h1>`)
		b.WriteString(`<p>Tags carry an internal ID and often an external code printed on the outside of the fish. `)
		b.WriteString(`Your report is forwarded to the researchers who released the fish, who may contact you for details.</p>`)
		b.WriteString(`<p><a href="/reports/new">Report another tag</a></p>`)
	}))
}

func gridPage(title, dataURL string) templ.Component {
	return layouts.Base(title, layouts.Markup(func(_ context.Context, b *strings.Builder) {
		fmt.Fprintf(b, `<h1>%s</h1>`, templ.EscapeString(title))
		fmt.Fprintf(b, `<table class="table datatable" data-source="%s" data-columns="%s"><thead><tr>`,
			templ.EscapeString(dataURL), strings.Join(gridColumns, ","))
		for _, col := range gridColumns {
			fmt.Fprintf(b, `<th>%s</th>`, strings.ReplaceAll(col, "_", " "))
		}
		b.WriteString(`<th>tag</th><th>study</th></tr></thead><tbody></tbody></table>`)
	}))
}

func searchPage(q string, list []Report) templ.Component {
	return layouts.Base("Search reports", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		b.WriteString(`<h1>Search reports</h1><form method="get" action="/reports/search">`)
		fmt.Fprintf(b, `<input type="search" name="q" value="%s"><button type="submit">Search</button></form>`, templ.EscapeString(q))
		if q == "" {
			return
		}
		if len(list) == 0 {
			b.WriteString(`<p class="empty">No reports found.</p>`)
			return
		}
		b.WriteString(`<table class="table"><thead><tr><th>Reported</th><th>Tag</th><th>Species</th><th>Reporter</th><th>Study</th></tr></thead><tbody>`)
		for _, r := range list {
			tag := r.InputTag
			if tag == "" {
				tag = r.InputExternalCode
			}
			fmt.Fprintf(b, `<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
				humanize.Time(r.Reported), templ.EscapeString(tag), templ.EscapeString(r.Fishtype),
				templ.EscapeString(r.Name), templ.EscapeString(r.StudyName))
		}
		b.WriteString(`</tbody></table>`)
	}))
}
