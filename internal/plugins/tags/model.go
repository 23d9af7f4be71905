// Package tags is the tag and deployment registry. A tag is a physical
// transmitter identified by its registry code; each time it is put on an
// animal a deployment is recorded. The tag's active deployment is always
// the one with the latest release date.
package tags

import (
	"strings"
	"time"

	"github.com/asascience/matos/internal/geo"
)

// DateLayout is how deployment dates are shown and entered.
const DateLayout = "2006-01-02"

// NoDateInformation is shown when a deployment has no release date.
const NoDateInformation = "No date information available"

// Tag is a registered transmitter.
type Tag struct {
	ID                 string    `json:"id"`
	Code               string    `json:"code"`
	StudyID            string    `json:"study_id"`
	Model              string    `json:"model"`
	Serial             string    `json:"serial"`
	ActiveDeploymentID string    `json:"active_deployment_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// CodeSet is an ordered set of transmitter codes. It is joined with commas
// only when stored.
type CodeSet []string

// ParseCodeSet splits a comma-separated list, trimming blanks and dropping
// duplicates while keeping first-seen order.
func ParseCodeSet(s string) CodeSet {
	var out CodeSet
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		code := strings.TrimSpace(part)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

// String joins the set for storage.
func (cs CodeSet) String() string { return strings.Join(cs, ",") }

// Contains reports whether code is in the set.
func (cs CodeSet) Contains(code string) bool {
	for _, c := range cs {
		if c == code {
			return true
		}
	}
	return false
}

// Intersects reports whether any candidate is in the set.
func (cs CodeSet) Intersects(candidates []string) bool {
	for _, c := range candidates {
		if cs.Contains(c) {
			return true
		}
	}
	return false
}

// Deployment is one release of a tagged animal.
type Deployment struct {
	ID           string `json:"id"`
	TagID        string `json:"tag_id"`
	StudyID      string `json:"study_id"`
	SubmissionID string `json:"submission_id,omitempty"`

	Tagger         string `json:"tagger"`
	CommonName     string `json:"common_name"`
	ScientificName string `json:"scientific_name"`

	CaptureLocation string     `json:"capture_location"`
	CaptureGeo      *geo.Point `json:"capture_geo,omitempty"`
	CaptureDate     *time.Time `json:"capture_date,omitempty"`
	CaptureDepth    *float64   `json:"capture_depth,omitempty"`

	WildOrHatchery string   `json:"wild_or_hatchery"`
	Stock          string   `json:"stock"`
	Length         *float64 `json:"length,omitempty"`
	LengthType     string   `json:"length_type"`
	Weight         *float64 `json:"weight,omitempty"`
	Age            string   `json:"age"`
	Sex            string   `json:"sex"`
	DNASampleTaken bool     `json:"dna_sample_taken"`

	SurgeryLocation string     `json:"surgery_location"`
	SurgeryGeo      *geo.Point `json:"surgery_geo,omitempty"`
	SurgeryDate     *time.Time `json:"surgery_date,omitempty"`
	ImplantType     string     `json:"implant_type"`
	Description     string     `json:"description"`

	ReleaseGroup    string     `json:"release_group"`
	ReleaseLocation string     `json:"release_location"`
	ReleaseGeo      *geo.Point `json:"release_geo,omitempty"`
	ReleaseDate     time.Time  `json:"release_date"`

	ExternalCodes CodeSet `json:"external_codes"`
	SensorCodes   CodeSet `json:"sensor_codes"`
	Reward        string  `json:"reward"`

	CreatedAt time.Time `json:"created_at"`

	// Joined columns.
	TagCode   string     `json:"tag_code"`
	StudyName string     `json:"study_name,omitempty"`
	Ending    *time.Time `json:"ending,omitempty"`
}

// DTRowID is the DataTables row identifier.
func (d *Deployment) DTRowID() string { return d.ID }

// Starting is the release date.
func (d *Deployment) Starting() time.Time { return d.ReleaseDate }

// DateRange renders "start[/end]", where end is the date the animal was
// reported found.
func (d *Deployment) DateRange() string {
	if d.ReleaseDate.IsZero() {
		return NoDateInformation
	}
	s := d.ReleaseDate.Format(DateLayout)
	if d.Ending != nil {
		s += "/" + d.Ending.Format(DateLayout)
	}
	return s
}

// DisplayName is "<tag code> - <date range>".
func (d *Deployment) DisplayName() string {
	return d.TagCode + " - " + d.DateRange()
}

// Codes returns every external and sensor code.
func (d *Deployment) Codes() []string {
	out := make([]string, 0, len(d.ExternalCodes)+len(d.SensorCodes))
	out = append(out, d.ExternalCodes...)
	return append(out, d.SensorCodes...)
}

// DeploymentInput is a validated-at-the-edge request to release a tag. The
// HTTP form and the bulk tag parser both build one.
type DeploymentInput struct {
	TagCode      string
	TagModel     string
	TagSerial    string
	SubmissionID string

	Tagger         string
	CommonName     string
	ScientificName string

	CaptureLocation string
	CaptureGeo      *geo.Point
	CaptureDate     *time.Time
	CaptureDepth    *float64

	WildOrHatchery string
	Stock          string
	Length         *float64
	LengthType     string
	Weight         *float64
	Age            string
	Sex            string
	DNASampleTaken bool

	SurgeryLocation string
	SurgeryGeo      *geo.Point
	SurgeryDate     *time.Time
	ImplantType     string
	Description     string

	ReleaseGroup    string
	ReleaseLocation string
	ReleaseGeo      *geo.Point
	ReleaseDate     *time.Time

	ExternalCodes CodeSet
	SensorCodes   CodeSet
	Reward        string
}

// CreateDeploymentRequest is bound from the deployment form. Dates use
// DateLayout; coordinates are decimal degrees.
type CreateDeploymentRequest struct {
	TagCode         string `json:"tag_code" form:"tag_code"`
	TagModel        string `json:"tag_model" form:"tag_model"`
	TagSerial       string `json:"tag_serial" form:"tag_serial"`
	Tagger          string `json:"tagger" form:"tagger"`
	CommonName      string `json:"common_name" form:"common_name"`
	ScientificName  string `json:"scientific_name" form:"scientific_name"`
	CaptureLocation string `json:"capture_location" form:"capture_location"`
	CaptureLat      string `json:"capture_lat" form:"capture_lat"`
	CaptureLon      string `json:"capture_lon" form:"capture_lon"`
	CaptureDate     string `json:"capture_date" form:"capture_date"`
	Length          string `json:"length" form:"length"`
	Weight          string `json:"weight" form:"weight"`
	Sex             string `json:"sex" form:"sex"`
	ImplantType     string `json:"implant_type" form:"implant_type"`
	Description     string `json:"description" form:"description"`
	ReleaseGroup    string `json:"release_group" form:"release_group"`
	ReleaseLocation string `json:"release_location" form:"release_location"`
	ReleaseLat      string `json:"release_lat" form:"release_lat"`
	ReleaseLon      string `json:"release_lon" form:"release_lon"`
	ReleaseDate     string `json:"release_date" form:"release_date"`
	ExternalCodes   string `json:"external_codes" form:"external_codes"`
	SensorCodes     string `json:"sensor_codes" form:"sensor_codes"`
	Reward          string `json:"reward" form:"reward"`
}

// HitFeature is a detection of a deployment, with the receiver that heard
// it when known.
type HitFeature struct {
	ID             int64
	Time           time.Time
	Point          geo.Point
	Depth          *float64
	Station        string
	ReceiverModel  string
	ReceiverSerial string
}
