package submissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/blobstore"
	"github.com/asascience/matos/internal/ingest"
	"github.com/asascience/matos/internal/metrics"
)

// SubmissionService manages uploads and their processing.
type SubmissionService interface {
	Upload(ctx context.Context, in UploadInput) (*Submission, error)
	Get(ctx context.Context, id string) (*Submission, error)
	List(ctx context.Context, studyID string) ([]Submission, error)
	// Process runs the ingest parser for the datafile's datatype. Parse
	// failures mark the submission failed and return a 422.
	Process(ctx context.Context, id string) (*Submission, error)
	// Destroy removes extracted rows, then the datafile, then the record.
	Destroy(ctx context.Context, id string) error
}

// Options bound uploads and processing.
type Options struct {
	MaxSize int64
	Timeout time.Duration
}

type submissionService struct {
	repo    SubmissionRepository
	blobs   blobstore.Store
	parser  ingest.Parser
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

// NewSubmissionService creates the service. m may be nil.
func NewSubmissionService(repo SubmissionRepository, blobs blobstore.Store, parser ingest.Parser, m *metrics.Metrics, opts Options) SubmissionService {
	return &submissionService{repo: repo, blobs: blobs, parser: parser, metrics: m, opts: opts, now: time.Now}
}

func (s *submissionService) Upload(ctx context.Context, in UploadInput) (*Submission, error) {
	errs := map[string]string{}
	datatype, ok := NormalizeDatatype(in.Datatype)
	if !ok {
		errs["datatype"] = "must be one of " + strings.Join(Datatypes, ", ")
	}
	switch {
	case in.Data == nil || strings.TrimSpace(in.FileName) == "":
		errs["datafile"] = "can't be blank"
	case s.opts.MaxSize > 0 && in.Size > s.opts.MaxSize:
		errs["datafile"] = "is too large (maximum " + humanize.Bytes(uint64(s.opts.MaxSize)) + ")"
	}
	if len(errs) > 0 {
		return nil, apperror.NewFieldValidation(errs)
	}

	now := s.now().UTC()
	sub := &Submission{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		StudyID:     in.StudyID,
		Datatype:    datatype,
		Status:      StatusUploaded,
		ClearData:   in.ClearData,
		FileName:    in.FileName,
		ContentType: in.ContentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sub.FileKey = blobstore.SubmissionKey(sub.StudyID, sub.ID, sub.FileName)

	info, err := s.blobs.Put(ctx, sub.FileKey, in.Data, blobstore.PutOptions{
		ContentType: in.ContentType,
		Metadata:    map[string]string{"datatype": datatype, "study_id": in.StudyID},
	})
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("storing datafile: %w", err))
	}
	sub.FileSize = info.Size

	if err := s.repo.Create(ctx, sub); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), sub.FileKey); derr != nil {
			slog.Error("failed to remove orphaned datafile", slog.String("key", sub.FileKey), slog.Any("error", derr))
		}
		return nil, apperror.NewInternal(fmt.Errorf("creating submission: %w", err))
	}

	slog.Info("submission uploaded",
		slog.String("submission_id", sub.ID),
		slog.String("study_id", sub.StudyID),
		slog.String("datatype", datatype),
		slog.String("size", humanize.Bytes(uint64(sub.FileSize))),
	)
	return sub, nil
}

func (s *submissionService) Get(ctx context.Context, id string) (*Submission, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *submissionService) List(ctx context.Context, studyID string) ([]Submission, error) {
	list, err := s.repo.ListByStudy(ctx, studyID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing submissions: %w", err))
	}
	return list, nil
}

func (s *submissionService) Process(ctx context.Context, id string) (*Submission, error) {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case StatusProcessing:
		return nil, apperror.NewConflict("submission is already being processed")
	case StatusProcessed:
		return nil, apperror.NewConflict("submission was already processed; upload the datafile again to reload it")
	}

	// Status writes outlive a cancelled request.
	bg := context.WithoutCancel(ctx)
	at := s.now().UTC()
	claimed, err := s.repo.BeginProcessing(bg, sub.ID, at)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("recording status %s: %w", StatusProcessing, err))
	}
	if !claimed {
		return nil, apperror.NewConflict("submission is already being processed")
	}
	sub.Status, sub.Message, sub.RowCount, sub.UpdatedAt = StatusProcessing, "", 0, at

	start := time.Now()
	res, perr := s.dispatch(ctx, sub)
	elapsed := time.Since(start)

	if perr == nil {
		s.metrics.ObserveSubmission(sub.Datatype, StatusProcessed, res.Rows, elapsed)
		slog.Info("submission processed",
			slog.String("submission_id", sub.ID),
			slog.String("datatype", sub.Datatype),
			slog.String("rows", humanize.Comma(int64(res.Rows))),
			slog.Duration("elapsed", elapsed),
		)
		if err := s.setStatus(bg, sub, StatusProcessed, "", res.Rows); err != nil {
			return nil, err
		}
		return sub, nil
	}

	s.metrics.ObserveSubmission(sub.Datatype, StatusFailed, 0, elapsed)
	message, appErr := s.failure(perr)
	slog.Warn("submission processing failed",
		slog.String("submission_id", sub.ID),
		slog.String("datatype", sub.Datatype),
		slog.Any("error", perr),
	)
	if err := s.setStatus(bg, sub, StatusFailed, message, 0); err != nil {
		return nil, err
	}
	return sub, appErr
}

func (s *submissionService) dispatch(ctx context.Context, sub *Submission) (ingest.Result, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	_, rc, err := s.blobs.Get(ctx, sub.FileKey)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("opening datafile: %w", err)
	}
	defer rc.Close()

	job := ingest.Job{StudyID: sub.StudyID, SubmissionID: sub.ID, Data: rc, ClearData: sub.ClearData}
	switch sub.Datatype {
	case DatatypeReceivers:
		return s.parser.Receivers(ctx, job)
	case DatatypeTags:
		return s.parser.Tags(ctx, job)
	case DatatypeReceptions:
		return s.parser.Hits(ctx, job)
	default:
		return ingest.Result{}, fmt.Errorf("no parser for datatype %q", sub.Datatype)
	}
}

// failure maps a processing error to the stored message and the error
// returned to the caller.
func (s *submissionService) failure(err error) (string, error) {
	switch {
	case ingest.IsParseError(err):
		return err.Error(), apperror.NewValidation(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		msg := fmt.Sprintf("processing timed out after %s", s.opts.Timeout)
		return msg, apperror.NewInternal(err)
	default:
		return "processing failed; see the server log", apperror.NewInternal(err)
	}
}

func (s *submissionService) setStatus(ctx context.Context, sub *Submission, status, message string, rows int) error {
	at := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, sub.ID, status, message, rows, at); err != nil {
		return apperror.NewInternal(fmt.Errorf("recording status %s: %w", status, err))
	}
	sub.Status, sub.Message, sub.RowCount, sub.UpdatedAt = status, message, rows, at
	return nil
}

func (s *submissionService) Destroy(ctx context.Context, id string) error {
	sub, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.parser.Purge(ctx, sub.ID); err != nil {
		return apperror.NewInternal(fmt.Errorf("purging submission rows: %w", err))
	}
	if err := s.blobs.Delete(ctx, sub.FileKey); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return apperror.NewInternal(fmt.Errorf("deleting datafile: %w", err))
	}
	if err := s.repo.Delete(ctx, sub.ID); err != nil {
		if apperror.IsNotFound(err) {
			return err
		}
		return apperror.NewInternal(fmt.Errorf("deleting submission: %w", err))
	}
	slog.Info("submission destroyed", slog.String("submission_id", sub.ID), slog.String("study_id", sub.StudyID))
	return nil
}
