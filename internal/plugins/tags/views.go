package tags

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"

	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/templates/layouts"
)

type indexData struct {
	CSRF      string
	Study     *studies.Study
	List      []Deployment
	Total     int
	Page      int
	CanCreate bool
	Form      *CreateDeploymentRequest
	Errors    map[string]string
}

func writeDeploymentTable(b *strings.Builder, list []Deployment) {
	if len(list) == 0 {
		b.WriteString(`<p class="empty">No deployments.</p>`)
		return
	}
	b.WriteString(`<table class="table"><thead><tr><th>Deployment</th><th>Species</th><th>Release location</th>` +
		`<th>External codes</th></tr></thead><tbody>`)
	for i := range list {
		d := &list[i]
		fmt.Fprintf(b, `<tr id="%s"><td><a href="/deployments/%s">%s</a></td><td>%s <em>%s</em></td><td>%s</td><td>%s</td></tr>`,
			templ.EscapeString(d.DTRowID()), templ.EscapeString(d.ID), templ.EscapeString(d.DisplayName()),
			templ.EscapeString(d.CommonName), templ.EscapeString(d.ScientificName),
			templ.EscapeString(d.ReleaseLocation), templ.EscapeString(strings.Join(d.ExternalCodes, ", ")))
	}
	b.WriteString(`</tbody></table>`)
}

func indexPage(data indexData) templ.Component {
	return layouts.Base("Deployments", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		base := "/studies/" + templ.EscapeString(data.Study.ID) + "/deployments"
		fmt.Fprintf(b, `<h1>Deployments <small>%s</small></h1>`, templ.EscapeString(data.Study.Name))
		fmt.Fprintf(b, `<form method="get" action="%s/search" class="search"><input name="q" type="search" placeholder="Search deployments"><button type="submit">Search</button></form>`, base)
		fmt.Fprintf(b, `<p>%d deployments</p>`, data.Total)
		writeDeploymentTable(b, data.List)
		if data.Page > 1 {
			fmt.Fprintf(b, `<a href="?page=%d">Previous</a> `, data.Page-1)
		}
		if data.Page*deploymentsPerPage < data.Total {
			fmt.Fprintf(b, `<a href="?page=%d">Next</a>`, data.Page+1)
		}

		if !data.CanCreate {
			return
		}
		f, errs := data.Form, data.Errors
		fmt.Fprintf(b, `<h2>New deployment</h2><form method="post" action="%s">`, base)
		b.WriteString(layouts.CSRFField(data.CSRF))
		b.WriteString(`<fieldset><legend>Tag</legend>`)
		b.WriteString(layouts.Input("Tag code", "tag_code", "text", f.TagCode, errs["tag_code"]))
		b.WriteString(layouts.Input("Model", "tag_model", "text", f.TagModel, ""))
		b.WriteString(layouts.Input("Serial", "tag_serial", "text", f.TagSerial, ""))
		b.WriteString(layouts.Input("External codes", "external_codes", "text", f.ExternalCodes, errs["external_codes"]))
		b.WriteString(layouts.Input("Sensor codes", "sensor_codes", "text", f.SensorCodes, errs["sensor_codes"]))
		b.WriteString(`</fieldset><fieldset><legend>Animal</legend>`)
		b.WriteString(layouts.Input("Tagger", "tagger", "text", f.Tagger, ""))
		b.WriteString(layouts.Input("Common name", "common_name", "text", f.CommonName, ""))
		b.WriteString(layouts.Input("Scientific name", "scientific_name", "text", f.ScientificName, ""))
		b.WriteString(layouts.Input("Length (mm)", "length", "text", f.Length, errs["length"]))
		b.WriteString(layouts.Input("Weight (kg)", "weight", "text", f.Weight, errs["weight"]))
		b.WriteString(layouts.Input("Sex", "sex", "text", f.Sex, ""))
		b.WriteString(layouts.Input("Implant type", "implant_type", "text", f.ImplantType, ""))
		b.WriteString(`</fieldset><fieldset><legend>Capture</legend>`)
		b.WriteString(layouts.Input("Location", "capture_location", "text", f.CaptureLocation, ""))
		b.WriteString(layouts.Input("Latitude", "capture_lat", "text", f.CaptureLat, errs["capture_geo"]))
		b.WriteString(layouts.Input("Longitude", "capture_lon", "text", f.CaptureLon, ""))
		b.WriteString(layouts.Input("Date", "capture_date", "date", f.CaptureDate, errs["capture_date"]))
		b.WriteString(`</fieldset><fieldset><legend>Release</legend>`)
		b.WriteString(layouts.Input("Group", "release_group", "text", f.ReleaseGroup, ""))
		b.WriteString(layouts.Input("Location", "release_location", "text", f.ReleaseLocation, ""))
		b.WriteString(layouts.Input("Latitude", "release_lat", "text", f.ReleaseLat, errs["release_geo"]))
		b.WriteString(layouts.Input("Longitude", "release_lon", "text", f.ReleaseLon, ""))
		b.WriteString(layouts.Input("Date", "release_date", "date", f.ReleaseDate, errs["release_date"]))
		b.WriteString(layouts.Input("Reward", "reward", "text", f.Reward, ""))
		b.WriteString(`</fieldset>`)
		b.WriteString(layouts.TextArea("Description", "description", f.Description, ""))
		b.WriteString(`<button type="submit">Create deployment</button></form>`)
	}))
}

func searchPage(study *studies.Study, q string, list []Deployment) templ.Component {
	return layouts.Base("Search deployments", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		fmt.Fprintf(b, `<h1>Deployments matching &ldquo;%s&rdquo;</h1><p><a href="/studies/%s/deployments">All deployments</a></p>`,
			templ.EscapeString(q), templ.EscapeString(study.ID))
		writeDeploymentTable(b, list)
	}))
}

func showPage(csrf string, d *Deployment, canDestroy bool) templ.Component {
	return layouts.Base(d.DisplayName(), layouts.Markup(func(_ context.Context, b *strings.Builder) {
		fmt.Fprintf(b, `<h1>%s</h1><dl class="details">`, templ.EscapeString(d.DisplayName()))
		row := func(label, value string) {
			if value == "" {
				return
			}
			fmt.Fprintf(b, `<dt>%s</dt><dd>%s</dd>`, label, templ.EscapeString(value))
		}
		row("Study", d.StudyName)
		row("Common name", d.CommonName)
		row("Scientific name", d.ScientificName)
		row("Tagger", d.Tagger)
		row("Implant type", d.ImplantType)
		row("Sex", d.Sex)
		row("Capture location", d.CaptureLocation)
		row("Release group", d.ReleaseGroup)
		row("Release location", d.ReleaseLocation)
		row("Dates", d.DateRange())
		row("External codes", strings.Join(d.ExternalCodes, ", "))
		row("Sensor codes", strings.Join(d.SensorCodes, ", "))
		row("Reward", d.Reward)
		row("Description", d.Description)
		b.WriteString(`</dl>`)

		fmt.Fprintf(b, `<div id="map" class="map" data-geojson="/deployments/%s/geojson"></div>`, templ.EscapeString(d.ID))
		if canDestroy {
			fmt.Fprintf(b, `<button class="danger" data-method="delete" data-url="/deployments/%s" data-csrf="%s">Delete deployment</button>`,
				templ.EscapeString(d.ID), templ.EscapeString(csrf))
		}
	}))
}
