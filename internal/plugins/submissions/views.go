package submissions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/templates/layouts"
)

type indexData struct {
	CSRF      string
	Study     *studies.Study
	List      []Submission
	CanUpload bool
	Datatype  string
	Errors    map[string]string
}

func indexPage(data indexData) templ.Component {
	return layouts.Base("Submissions", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		base := "/studies/" + templ.EscapeString(data.Study.ID) + "/submissions"
		fmt.Fprintf(b, `<h1>Submissions <small>%s</small></h1>`, templ.EscapeString(data.Study.Name))

		if len(data.List) == 0 {
			b.WriteString(`<p class="empty">No datafiles uploaded yet.</p>`)
		} else {
			b.WriteString(`<table class="table"><thead><tr><th>File</th><th>Datatype</th><th>Status</th>` +
				`<th>Rows</th><th>Size</th><th>Uploaded</th><th>By</th></tr></thead><tbody>`)
			for i := range data.List {
				s := &data.List[i]
				fmt.Fprintf(b, `<tr id="%s"><td><a href="/submissions/%s">%s</a></td><td>%s</td><td class="status-%s">%s</td>`+
					`<td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
					templ.EscapeString(s.DTRowID()), templ.EscapeString(s.ID), templ.EscapeString(s.FileName),
					templ.EscapeString(s.Datatype), templ.EscapeString(s.Status), templ.EscapeString(s.Status),
					humanize.Comma(int64(s.RowCount)), s.HumanSize(), humanize.Time(s.CreatedAt),
					templ.EscapeString(s.UserName))
			}
			b.WriteString(`</tbody></table>`)
		}

		if !data.CanUpload {
			return
		}
		var msgs []string
		for _, m := range data.Errors {
			msgs = append(msgs, m)
		}
		sort.Strings(msgs)

		b.WriteString(`<h2>Upload a datafile</h2>`)
		b.WriteString(layouts.ErrorSummary(msgs))
		fmt.Fprintf(b, `<form method="post" action="%s" enctype="multipart/form-data">`, base)
		b.WriteString(layouts.CSRFField(data.CSRF))
		b.WriteString(layouts.Select("Datatype", "datatype", Datatypes, data.Datatype, data.Errors["datatype"]))
		b.WriteString(layouts.Input("Datafile (CSV)", "datafile", "file", "", data.Errors["datafile"]))
		b.WriteString(`<label><input type="checkbox" name="cleardata" value="true"> Replace existing data for this study</label>`)
		b.WriteString(`<button type="submit">Upload</button></form>`)
	}))
}

func showPage(csrf string, study *studies.Study, s *Submission, canProcess, canDestroy bool) templ.Component {
	return layouts.Base(s.FileName, layouts.Markup(func(_ context.Context, b *strings.Builder) {
		fmt.Fprintf(b, `<h1>%s</h1><p><a href="/studies/%s/submissions">%s submissions</a></p><dl class="details">`,
			templ.EscapeString(s.FileName), templ.EscapeString(study.ID), templ.EscapeString(study.Name))
		row := func(label, value string) {
			fmt.Fprintf(b, `<dt>%s</dt><dd>%s</dd>`, label, templ.EscapeString(value))
		}
		row("Datatype", s.Datatype)
		row("Status", s.Status)
		if s.Message != "" {
			row("Message", s.Message)
		}
		row("Rows", humanize.Comma(int64(s.RowCount)))
		row("Size", s.HumanSize())
		row("Replaces existing data", fmt.Sprint(s.ClearData))
		row("Uploaded", humanize.Time(s.CreatedAt))
		b.WriteString(`</dl>`)

		if canProcess && s.Status != StatusProcessing {
			fmt.Fprintf(b, `<form method="post" action="/submissions/%s/process">`, templ.EscapeString(s.ID))
			b.WriteString(layouts.CSRFField(csrf))
			b.WriteString(`<button type="submit">Process</button></form>`)
		}
		if canDestroy {
			fmt.Fprintf(b, `<button class="danger" data-method="delete" data-url="/submissions/%s" data-csrf="%s">Delete</button>`,
				templ.EscapeString(s.ID), templ.EscapeString(csrf))
		}
	}))
}
