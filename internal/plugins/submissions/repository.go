package submissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asascience/matos/internal/apperror"
)

// SubmissionRepository is the data access contract for submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, s *Submission) error
	FindByID(ctx context.Context, id string) (*Submission, error)
	ListByStudy(ctx context.Context, studyID string) ([]Submission, error)
	// BeginProcessing moves an uploaded or failed submission to processing
	// and reports false when another run holds it or it already finished.
	BeginProcessing(ctx context.Context, id string, at time.Time) (bool, error)
	// UpdateStatus records a lifecycle transition with its message and
	// row count.
	UpdateStatus(ctx context.Context, id, status, message string, rows int, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type submissionRepository struct {
	db *sql.DB
}

// NewSubmissionRepository creates a MariaDB-backed repository.
func NewSubmissionRepository(db *sql.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

const submissionColumns = `s.id, s.user_id, s.study_id, s.datatype, s.status, s.message, s.cleardata,
	s.file_key, s.file_name, s.content_type, s.file_size, s.row_count, s.created_at, s.updated_at,
	COALESCE(u.name, '')`

const submissionFrom = ` FROM submissions s LEFT JOIN users u ON u.id = s.user_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*Submission, error) {
	s := &Submission{}
	var message sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.StudyID, &s.Datatype, &s.Status, &message, &s.ClearData,
		&s.FileKey, &s.FileName, &s.ContentType, &s.FileSize, &s.RowCount, &s.CreatedAt, &s.UpdatedAt,
		&s.UserName)
	if err != nil {
		return nil, err
	}
	s.Message = message.String
	return s, nil
}

func (r *submissionRepository) Create(ctx context.Context, s *Submission) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO submissions (id, user_id, study_id, datatype, status, cleardata, file_key, file_name,
		                          content_type, file_size, row_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		s.ID, s.UserID, s.StudyID, s.Datatype, strings.ToLower(s.Status), s.ClearData, s.FileKey, s.FileName,
		s.ContentType, s.FileSize, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (r *submissionRepository) FindByID(ctx context.Context, id string) (*Submission, error) {
	s, err := scanSubmission(r.db.QueryRowContext(ctx, `SELECT `+submissionColumns+submissionFrom+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("submission not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	return s, nil
}

func (r *submissionRepository) ListByStudy(ctx context.Context, studyID string) ([]Submission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+submissionColumns+submissionFrom+` WHERE s.study_id = ? ORDER BY s.created_at DESC, s.id`, studyID)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	var list []Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (r *submissionRepository) BeginProcessing(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, message = '', row_count = 0, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		StatusProcessing, at, id, StatusUploaded, StatusFailed)
	if err != nil {
		return false, fmt.Errorf("claiming submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming submission: %w", err)
	}
	return n == 1, nil
}

func (r *submissionRepository) UpdateStatus(ctx context.Context, id, status, message string, rows int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET status = ?, message = ?, row_count = ?, updated_at = ? WHERE id = ?`,
		strings.ToLower(status), message, rows, at, id)
	if err != nil {
		return fmt.Errorf("updating submission status: %w", err)
	}
	return nil
}

func (r *submissionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM submissions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("submission not found")
	}
	return nil
}
