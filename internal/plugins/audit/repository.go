package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditRepository persists audit entries.
type AuditRepository interface {
	Log(ctx context.Context, entry *Entry) error
	List(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error)
}

type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a repository backed by db.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Log inserts entry and sets its ID. Nil details are stored as NULL.
func (r *auditRepository) Log(ctx context.Context, entry *Entry) error {
	var details []byte
	if entry.Details != nil {
		var err error
		if details, err = json.Marshal(entry.Details); err != nil {
			return fmt.Errorf("marshaling audit details: %w", err)
		}
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (study_id, actor_id, action, resource_type, resource_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullable(entry.StudyID), nullable(entry.ActorID), entry.Action,
		entry.ResourceType, entry.ResourceID, details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("reading audit entry id: %w", err)
	}
	return nil
}

// List returns entries newest first along with the unpaged total.
func (r *auditRepository) List(ctx context.Context, f Filter, limit, offset int) ([]Entry, int, error) {
	var where []string
	var args []any
	if f.StudyID != "" {
		where = append(where, "a.study_id = ?")
		args = append(args, f.StudyID)
	}
	if f.Action != "" {
		where = append(where, "a.action = ?")
		args = append(args, f.Action)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log a`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT a.id, a.study_id, a.actor_id, a.action, a.resource_type, a.resource_id,
	                 a.details, a.created_at, COALESCE(u.name, '')
	          FROM audit_log a
	          LEFT JOIN users u ON u.id = a.actor_id` + clause + `
	          ORDER BY a.created_at DESC, a.id DESC
	          LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var studyID, actorID, details sql.NullString
		if err := rows.Scan(&e.ID, &studyID, &actorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&details, &e.CreatedAt, &e.ActorName); err != nil {
			return nil, 0, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.StudyID, e.ActorID = studyID.String, actorID.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, total, nil
}
