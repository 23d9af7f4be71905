package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/geo"
	"github.com/asascience/matos/internal/plugins/tags"
)

// tagColumnAliases maps CSV headers onto deployment form fields.
var tagColumnAliases = map[string]string{
	"latitude":  "release_lat",
	"longitude": "release_lon",
}

// CSVParser implements Parser over CSV datafiles.
type CSVParser struct {
	store Store
	tags  TagRegistry
}

// NewCSVParser creates a parser writing receivers and hits to store and
// deployments through registry.
func NewCSVParser(store Store, registry TagRegistry) *CSVParser {
	return &CSVParser{store: store, tags: registry}
}

func (p *CSVParser) Receivers(ctx context.Context, job Job) (Result, error) {
	rows, err := parseReceivers(job)
	if err != nil {
		return Result{}, err
	}
	if err := p.store.ReplaceReceivers(ctx, job.StudyID, job.ClearData, rows); err != nil {
		return Result{}, fmt.Errorf("storing receivers: %w", err)
	}
	logParsed("receivers", job, len(rows))
	return Result{Rows: len(rows)}, nil
}

func (p *CSVParser) Hits(ctx context.Context, job Job) (Result, error) {
	rows, err := parseHits(job)
	if err != nil {
		return Result{}, err
	}

	// Each detection belongs to the release that was in the water at the
	// time, which for historical files need not be the active one.
	history := map[string][]tags.Deployment{}
	for i := range rows {
		code := rows[i].TagCode
		list, seen := history[code]
		if !seen {
			list, err = p.tags.TagDeployments(ctx, code)
			if err != nil {
				return Result{}, fmt.Errorf("resolving tag %s: %w", code, err)
			}
			history[code] = list
		}
		if d := tags.DeployedAt(list, rows[i].Time); d != nil {
			rows[i].TagDeploymentID = d.ID
		}
	}

	if err := p.store.ReplaceHits(ctx, job.StudyID, job.ClearData, rows); err != nil {
		return Result{}, fmt.Errorf("storing hits: %w", err)
	}
	logParsed("receptions", job, len(rows))
	return Result{Rows: len(rows)}, nil
}

type tagRow struct {
	row int
	in  tags.DeploymentInput
}

func (p *CSVParser) Tags(ctx context.Context, job Job) (Result, error) {
	rows, err := parseTags(job)
	if err != nil {
		return Result{}, err
	}

	if job.ClearData && job.SubmissionID == "" {
		return Result{}, errors.New("cleardata needs a submission id")
	}

	// Deployments are written one tag lock at a time; a failure part way
	// removes what this submission already wrote.
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			p.rollback(job.SubmissionID)
			return Result{}, err
		}
		if _, err := p.tags.CreateDeployment(ctx, job.StudyID, r.in); err != nil {
			p.rollback(job.SubmissionID)
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Code < http.StatusInternalServerError {
				return Result{}, &RowError{Row: r.row, Err: errors.New(describe(appErr))}
			}
			return Result{}, fmt.Errorf("creating deployment for %s: %w", r.in.TagCode, err)
		}
	}

	// The study's older deployments go only once the whole file is in.
	if job.ClearData {
		if _, err := p.tags.PurgeStudy(ctx, job.StudyID, job.SubmissionID); err != nil {
			p.rollback(job.SubmissionID)
			return Result{}, fmt.Errorf("clearing deployments: %w", err)
		}
	}
	logParsed("tags", job, len(rows))
	return Result{Rows: len(rows)}, nil
}

func (p *CSVParser) rollback(submissionID string) {
	if submissionID == "" {
		return
	}
	if _, err := p.tags.PurgeSubmission(context.Background(), submissionID); err != nil {
		slog.Error("failed to remove partial tag import",
			slog.String("submission_id", submissionID),
			slog.Any("error", err),
		)
	}
}

func (p *CSVParser) Purge(ctx context.Context, submissionID string) error {
	extracted, err := p.store.PurgeSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("purging receivers and hits: %w", err)
	}
	deployments, err := p.tags.PurgeSubmission(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("purging deployments: %w", err)
	}
	slog.Info("submission rows purged",
		slog.String("submission_id", submissionID),
		slog.Int64("receivers_and_hits", extracted),
		slog.Int64("deployments", deployments),
	)
	return nil
}

func logParsed(datatype string, job Job, rows int) {
	slog.Info("datafile ingested",
		slog.String("datatype", datatype),
		slog.String("study_id", job.StudyID),
		slog.String("submission_id", job.SubmissionID),
		slog.Int("rows", rows),
		slog.Bool("cleardata", job.ClearData),
	)
}

func describe(appErr *apperror.AppError) string {
	if len(appErr.Fields) == 0 {
		return appErr.Message
	}
	return joinFields(appErr.Fields)
}

func joinFields(fields map[string]string) string {
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, k+": "+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func parseReceivers(job Job) ([]Receiver, error) {
	t, err := readTable(job.Data, "station", "deployed_at")
	if err != nil {
		return nil, err
	}
	var out []Receiver
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		station, err := rec.required("station")
		if err != nil {
			return nil, err
		}
		deployed, err := rec.timestamp("deployed_at")
		if err != nil {
			return nil, err
		}
		if deployed == nil {
			return nil, rec.fail("deployed_at is required")
		}
		recovered, err := rec.timestamp("recovered_at")
		if err != nil {
			return nil, err
		}
		if recovered != nil && recovered.Before(*deployed) {
			return nil, rec.fail("recovered_at is before deployed_at")
		}
		loc, err := geo.ParsePoint(rec.get("latitude"), rec.get("longitude"))
		if err != nil {
			return nil, rec.fail("%v", err)
		}

		out = append(out, Receiver{
			StudyID:      job.StudyID,
			SubmissionID: job.SubmissionID,
			Station:      station,
			Location:     loc,
			DeployedAt:   *deployed,
			RecoveredAt:  recovered,
			Model:        rec.get("receiver_model"),
			Serial:       rec.get("receiver_serial"),
		})
	}
}

func parseHits(job Job) ([]Hit, error) {
	t, err := readTable(job.Data, "tag_code", "time")
	if err != nil {
		return nil, err
	}
	var out []Hit
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		code, err := rec.required("tag_code")
		if err != nil {
			return nil, err
		}
		at, err := rec.timestamp("time")
		if err != nil {
			return nil, err
		}
		if at == nil {
			return nil, rec.fail("time is required")
		}
		loc, err := geo.ParsePoint(rec.get("latitude"), rec.get("longitude"))
		if err != nil {
			return nil, rec.fail("%v", err)
		}
		depth, err := rec.float("depth")
		if err != nil {
			return nil, err
		}

		out = append(out, Hit{
			StudyID:      job.StudyID,
			SubmissionID: job.SubmissionID,
			TagCode:      code,
			Station:      rec.get("station"),
			Time:         *at,
			Location:     loc,
			Depth:        depth,
		})
	}
}

func parseTags(job Job) ([]tagRow, error) {
	t, err := readTable(job.Data, "tag_code", "release_date")
	if err != nil {
		return nil, err
	}
	cols := t.columns()

	var out []tagRow
	for {
		rec, err := t.next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if _, err := rec.required("tag_code"); err != nil {
			return nil, err
		}
		if _, err := rec.required("release_date"); err != nil {
			return nil, err
		}

		req, err := deploymentRequest(rec, cols)
		if err != nil {
			return nil, err
		}
		in, fieldErrs := tags.ParseDeploymentRequest(req)
		if len(fieldErrs) > 0 {
			return nil, rec.fail("%s", joinFields(fieldErrs))
		}
		in.SubmissionID = job.SubmissionID
		out = append(out, tagRow{row: rec.row, in: in})
	}
}

// deploymentRequest maps a row onto the deployment form by header name.
func deploymentRequest(rec *record, cols []string) (tags.CreateDeploymentRequest, error) {
	values := make(map[string]string, len(cols))
	for _, col := range cols {
		key := col
		if alias, ok := tagColumnAliases[col]; ok {
			key = alias
		}
		values[key] = rec.get(col)
	}
	var req tags.CreateDeploymentRequest
	raw, err := json.Marshal(values)
	if err != nil {
		return req, rec.fail("%v", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, rec.fail("%v", err)
	}
	return req, nil
}
