// Package submissions accepts bulk datafiles from investigators and hands
// them to the ingest parser for their datatype.
//
// Lifecycle: uploaded -> processing -> processed | failed. A failed
// submission can be processed again.
package submissions

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/asascience/matos/internal/plugins/studies"
	"github.com/asascience/matos/internal/policy"
)

// Datatypes accepted for upload.
const (
	DatatypeReceivers  = "receivers"
	DatatypeTags       = "tags"
	DatatypeReceptions = "receptions"

	// legacyReceivers is the spelling older clients still send.
	legacyReceivers = "recievers"
)

// Datatypes lists the accepted datatypes in form order.
var Datatypes = []string{DatatypeReceivers, DatatypeTags, DatatypeReceptions}

// Statuses. Stored lowercase.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// NormalizeDatatype lowercases s and maps the legacy spelling of
// receivers. ok is false for anything else.
func NormalizeDatatype(s string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(s))
	if d == legacyReceivers {
		slog.Warn("legacy datatype spelling accepted", slog.String("datatype", s))
		return DatatypeReceivers, true
	}
	for _, known := range Datatypes {
		if d == known {
			return d, true
		}
	}
	return "", false
}

// Submission is one uploaded datafile.
type Submission struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	StudyID     string    `json:"study_id"`
	Datatype    string    `json:"datatype"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	ClearData   bool      `json:"cleardata"`
	FileKey     string    `json:"-"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	FileSize    int64     `json:"file_size"`
	RowCount    int       `json:"row_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// UserName is joined from users.
	UserName string `json:"user_name,omitempty"`
}

// DTRowID is the DataTables row identifier.
func (s *Submission) DTRowID() string { return s.ID }

// HumanSize renders the datafile size, e.g. "1.2 MB".
func (s *Submission) HumanSize() string { return humanize.Bytes(uint64(s.FileSize)) }

// Resource is the study's resource with the submitter attached.
func (s *Submission) Resource(sc *studies.StudyContext) policy.Resource {
	res := sc.Resource()
	res.SubmitterID = s.UserID
	return res
}

// UploadInput is a datafile received for a study.
type UploadInput struct {
	StudyID     string
	UserID      string
	Datatype    string
	ClearData   bool
	FileName    string
	ContentType string
	Size        int64
	Data        io.Reader
}
