// Package ingest turns uploaded submission datafiles into rows: receiver
// station deployments, tag deployments and detections. Each file is a CSV
// with a header row; column names are matched case-insensitively.
//
// A file is validated completely before anything is written, so a
// malformed row fails the whole parse and leaves the study untouched.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/asascience/matos/internal/geo"
	"github.com/asascience/matos/internal/plugins/tags"
)

// Job is one parse request.
type Job struct {
	StudyID      string
	SubmissionID string
	Data         io.Reader
	// ClearData removes the study's existing rows of the same kind first.
	ClearData bool
}

// Result summarizes a successful parse.
type Result struct {
	Rows int
}

// Parser is the contract the submissions plugin dispatches to.
type Parser interface {
	Receivers(ctx context.Context, job Job) (Result, error)
	Tags(ctx context.Context, job Job) (Result, error)
	Hits(ctx context.Context, job Job) (Result, error)
	// Purge removes every row extracted from a submission.
	Purge(ctx context.Context, submissionID string) error
}

// Receiver is a receiver station deployment.
type Receiver struct {
	StudyID      string
	SubmissionID string
	Station      string
	Location     *geo.Point
	DeployedAt   time.Time
	RecoveredAt  *time.Time
	Model        string
	Serial       string
}

// Hit is one detection of a tag code. TagDeploymentID is empty when the
// code is not registered.
type Hit struct {
	StudyID         string
	SubmissionID    string
	TagCode         string
	TagDeploymentID string
	Station         string
	Time            time.Time
	Location        *geo.Point
	Depth           *float64
}

// Store persists receivers and hits.
type Store interface {
	// ReplaceReceivers inserts rows in one transaction, first deleting the
	// study's receivers when clear is set.
	ReplaceReceivers(ctx context.Context, studyID string, clear bool, rows []Receiver) error
	// ReplaceHits is ReplaceReceivers for detections. Each hit is linked
	// to the receiver deployed at its station at the time of detection.
	ReplaceHits(ctx context.Context, studyID string, clear bool, rows []Hit) error
	PurgeSubmission(ctx context.Context, submissionID string) (int64, error)
}

// TagRegistry is the part of the tag service the tags parser writes
// through, so active deployments stay current.
type TagRegistry interface {
	CreateDeployment(ctx context.Context, studyID string, in tags.DeploymentInput) (*tags.Deployment, error)
	TagDeployments(ctx context.Context, code string) ([]tags.Deployment, error)
	PurgeSubmission(ctx context.Context, submissionID string) (int64, error)
	PurgeStudy(ctx context.Context, studyID, keepSubmissionID string) (int64, error)
}

// HeaderError reports a missing required column or an empty file.
type HeaderError struct {
	Column string
}

func (e *HeaderError) Error() string {
	if e.Column == "" {
		return "datafile is empty"
	}
	return fmt.Sprintf("missing required column %q", e.Column)
}

// RowError reports a malformed row. Row counts lines from 1, header
// included.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// IsParseError reports whether err describes bad input rather than a
// storage failure.
func IsParseError(err error) bool {
	var he *HeaderError
	var re *RowError
	return errors.As(err, &he) || errors.As(err, &re)
}
