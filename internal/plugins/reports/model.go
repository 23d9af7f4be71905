// Package reports handles tag reports from the public: an angler finds a
// tagged fish and tells us where and when. Each report is matched once, at
// creation, to the deployment it most likely belongs to.
package reports

import (
	"strings"
	"time"

	"github.com/asascience/matos/internal/geo"
)

// Methods are the capture methods offered by the report form.
var Methods = []string{"Commercial Fishing", "Recreational Fishing", "Not fishing affiliated"}

// FoundLayout is the month/day/year format of the "found" field.
const FoundLayout = "01/02/2006"

// MissingTagMessage is the error shown when neither code is given.
const MissingTagMessage = "You must enter an internal or external tag ID (or both)"

// InvalidEmailMessage is the error for a malformed reporter address.
const InvalidEmailMessage = "Invalid Email Address"

// Report is one public tag report.
type Report struct {
	ID                string     `json:"id"`
	InputTag          string     `json:"input_tag"`
	InputExternalCode string     `json:"input_external_code"`
	Description       string     `json:"description"`
	Method            string     `json:"method"`
	Name              string     `json:"name"`
	Phone             string     `json:"phone"`
	Email             string     `json:"email"`
	City              string     `json:"city"`
	State             string     `json:"state"`
	Reported          time.Time  `json:"reported"`
	Found             *time.Time `json:"found"`
	Length            *float64   `json:"length"`
	Weight            *float64   `json:"weight"`
	Fishtype          string     `json:"fishtype"`
	Location          *geo.Point `json:"location"`
	TagDeploymentID   string     `json:"tag_deployment_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// Joined from the matched deployment.
	TagCode   string `json:"-"`
	StudyID   string `json:"-"`
	StudyName string `json:"-"`
}

// Matched reports whether the report resolved to a deployment.
func (r *Report) Matched() bool { return r.TagDeploymentID != "" }

// DTRowID is the DataTables row identifier.
func (r *Report) DTRowID() string { return r.ID }

// ParseFound reads a month/day/year date. Anything else yields false and
// the field is left unset.
func ParseFound(s string) (time.Time, bool) {
	t, err := time.Parse(FoundLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatFound renders t in FoundLayout, or "" for nil.
func FormatFound(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(FoundLayout)
}

// ReportRequest is bound from the public report form.
type ReportRequest struct {
	InputTag          string `json:"input_tag" form:"input_tag"`
	InputExternalCode string `json:"input_external_code" form:"input_external_code"`
	Description       string `json:"description" form:"description"`
	Method            string `json:"method" form:"method"`
	Name              string `json:"name" form:"name"`
	Phone             string `json:"phone" form:"phone"`
	Email             string `json:"email" form:"email"`
	City              string `json:"city" form:"city"`
	State             string `json:"state" form:"state"`
	Found             string `json:"found" form:"found"`
	Length            string `json:"length" form:"length"`
	Weight            string `json:"weight" form:"weight"`
	Fishtype          string `json:"fishtype" form:"fishtype"`
	Latitude          string `json:"latitude" form:"latitude"`
	Longitude         string `json:"longitude" form:"longitude"`
}

// editable is the merge-patch document for updates. Matching and the
// reported timestamp are not part of it.
type editable struct {
	InputTag          string   `json:"input_tag"`
	InputExternalCode string   `json:"input_external_code"`
	Description       string   `json:"description"`
	Method            string   `json:"method"`
	Name              string   `json:"name"`
	Phone             string   `json:"phone"`
	Email             string   `json:"email"`
	City              string   `json:"city"`
	State             string   `json:"state"`
	Found             string   `json:"found"`
	Length            *float64 `json:"length"`
	Weight            *float64 `json:"weight"`
	Fishtype          string   `json:"fishtype"`
}

// GridParams are the DataTables 1.9 server-side parameters.
type GridParams struct {
	Columns []string
	SortCol int
	SortDir string
	Start   int
	Length  int
	Echo    string
	StudyID string
}

// GridResponse is the DataTables 1.9 reply.
type GridResponse struct {
	Echo                string    `json:"sEcho"`
	TotalRecords        int       `json:"iTotalRecords"`
	TotalDisplayRecords int       `json:"iTotalDisplayRecords"`
	Data                []GridRow `json:"aaData"`
}

// GridRow is a report with its deployment summary.
type GridRow struct {
	*Report
	DTRowID       string          `json:"DT_RowId"`
	TagDeployment *GridDeployment `json:"tag_deployment"`
}

// GridDeployment nests the matched tag and study the way the grid expects.
type GridDeployment struct {
	Tag GridTag `json:"tag"`
}

type GridTag struct {
	Code  string    `json:"code"`
	Study GridStudy `json:"study"`
}

type GridStudy struct {
	Name string `json:"name"`
}

// NewGridRow builds the grid form of r.
func NewGridRow(r *Report) GridRow {
	row := GridRow{Report: r, DTRowID: r.DTRowID()}
	if r.Matched() {
		row.TagDeployment = &GridDeployment{Tag: GridTag{Code: r.TagCode, Study: GridStudy{Name: r.StudyName}}}
	}
	return row
}
