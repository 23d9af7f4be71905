package audit

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/asascience/matos/internal/templates/layouts"
)

func activityPage(entries []Entry, total, page int) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<h1>Activity</h1><p>%s entries</p><table class="table"><thead><tr>`+
			`<th>When</th><th>Who</th><th>Action</th><th>Resource</th></tr></thead><tbody>`,
			humanize.Comma(int64(total)))
		for _, e := range entries {
			who := e.ActorName
			if who == "" {
				who = "public"
			}
			fmt.Fprintf(&b, `<tr><td title="%s">%s</td><td>%s</td><td>%s</td><td>%s %s</td></tr>`,
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				templ.EscapeString(humanize.Time(e.CreatedAt)),
				templ.EscapeString(who),
				templ.EscapeString(e.Action),
				templ.EscapeString(e.ResourceType),
				templ.EscapeString(e.ResourceID))
		}
		b.WriteString(`</tbody></table>`)
		if page > 1 {
			fmt.Fprintf(&b, `<a href="?page=%d">Newer</a> `, page-1)
		}
		if page*perPage < total {
			fmt.Fprintf(&b, `<a href="?page=%d">Older</a>`, page+1)
		}
		_, err := io.WriteString(w, b.String())
		return err
	})
	return layouts.Base("Activity", body)
}
