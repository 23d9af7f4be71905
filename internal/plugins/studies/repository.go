package studies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/database"
)

// StudyRepository is the data access contract for studies.
type StudyRepository interface {
	Create(ctx context.Context, s *Study) error
	FindByID(ctx context.Context, id string) (*Study, error)
	// ListVisible returns studies userID owns or collaborates on, or every
	// study when all is true.
	ListVisible(ctx context.Context, userID string, all bool) ([]Study, error)
	ListCollaborators(ctx context.Context, studyID string) ([]Collaborator, error)
	UpsertCollaborator(ctx context.Context, c *Collaborator) error
	RemoveCollaborator(ctx context.Context, studyID, userID string) error
	OwnerEmail(ctx context.Context, studyID string) (string, error)
}

type studyRepository struct {
	db *sql.DB
}

// NewStudyRepository creates a MariaDB-backed repository.
func NewStudyRepository(db *sql.DB) StudyRepository {
	return &studyRepository{db: db}
}

func (r *studyRepository) Create(ctx context.Context, s *Study) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO studies (id, name, description, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Description, s.OwnerID, s.CreatedAt)
	if database.IsDuplicateKey(err) {
		return apperror.NewFieldValidation(map[string]string{"name": "has already been taken"})
	}
	if err != nil {
		return fmt.Errorf("inserting study: %w", err)
	}
	return nil
}

func (r *studyRepository) FindByID(ctx context.Context, id string) (*Study, error) {
	s := &Study{}
	var desc sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.name, s.description, s.owner_id, COALESCE(u.name, ''), s.created_at
		 FROM studies s LEFT JOIN users u ON u.id = s.owner_id
		 WHERE s.id = ?`, id,
	).Scan(&s.ID, &s.Name, &desc, &s.OwnerID, &s.OwnerName, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("study not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying study: %w", err)
	}
	s.Description = desc.String
	return s, nil
}

func (r *studyRepository) ListVisible(ctx context.Context, userID string, all bool) ([]Study, error) {
	query := `SELECT s.id, s.name, s.description, s.owner_id, COALESCE(u.name, ''), s.created_at
	          FROM studies s LEFT JOIN users u ON u.id = s.owner_id`
	var args []any
	if !all {
		query += ` WHERE s.owner_id = ?
		           OR EXISTS (SELECT 1 FROM study_collaborators c WHERE c.study_id = s.id AND c.user_id = ?)`
		args = append(args, userID, userID)
	}
	query += ` ORDER BY s.name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing studies: %w", err)
	}
	defer rows.Close()

	var out []Study
	for rows.Next() {
		var s Study
		var desc sql.NullString
		if err := rows.Scan(&s.ID, &s.Name, &desc, &s.OwnerID, &s.OwnerName, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning study: %w", err)
		}
		s.Description = desc.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *studyRepository) ListCollaborators(ctx context.Context, studyID string) ([]Collaborator, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.study_id, c.user_id, u.name, u.email, c.role, c.created_at
		 FROM study_collaborators c JOIN users u ON u.id = c.user_id
		 WHERE c.study_id = ? ORDER BY u.name`, studyID)
	if err != nil {
		return nil, fmt.Errorf("listing collaborators: %w", err)
	}
	defer rows.Close()

	var out []Collaborator
	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(&c.StudyID, &c.UserID, &c.Name, &c.Email, &c.Role, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning collaborator: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *studyRepository) UpsertCollaborator(ctx context.Context, c *Collaborator) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO study_collaborators (study_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE role = VALUES(role)`,
		c.StudyID, c.UserID, c.Role, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting collaborator: %w", err)
	}
	return nil
}

func (r *studyRepository) RemoveCollaborator(ctx context.Context, studyID, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM study_collaborators WHERE study_id = ? AND user_id = ?`, studyID, userID)
	if err != nil {
		return fmt.Errorf("removing collaborator: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("collaborator not found")
	}
	return nil
}

func (r *studyRepository) OwnerEmail(ctx context.Context, studyID string) (string, error) {
	var email string
	err := r.db.QueryRowContext(ctx,
		`SELECT u.email FROM studies s JOIN users u ON u.id = s.owner_id WHERE s.id = ?`, studyID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperror.NewNotFound("study not found")
	}
	if err != nil {
		return "", fmt.Errorf("querying study owner: %w", err)
	}
	return email, nil
}
