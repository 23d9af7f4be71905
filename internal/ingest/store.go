package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/asascience/matos/internal/database"
	"github.com/asascience/matos/internal/geo"
)

type sqlStore struct {
	db *sql.DB
}

// NewStore creates a MariaDB-backed Store.
func NewStore(db *sql.DB) Store {
	return &sqlStore{db: db}
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *sqlStore) ReplaceReceivers(ctx context.Context, studyID string, clear bool, rows []Receiver) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if clear {
			if _, err := tx.ExecContext(ctx, `DELETE FROM receiver_deployments WHERE study_id = ?`, studyID); err != nil {
				return fmt.Errorf("clearing receivers: %w", err)
			}
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO receiver_deployments (study_id, submission_id, station, location, deployed_at,
			                                   recovered_at, receiver_model, receiver_serial, created_at)
			 VALUES (?, ?, ?, ST_GeomFromWKB(?, 4326), ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing receiver insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, studyID, nullString(r.SubmissionID), r.Station, geo.Value(r.Location),
				r.DeployedAt, nullable(r.RecoveredAt), r.Model, r.Serial, now); err != nil {
				return fmt.Errorf("inserting receiver %s: %w", r.Station, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) ReplaceHits(ctx context.Context, studyID string, clear bool, rows []Hit) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if clear {
			if _, err := tx.ExecContext(ctx, `DELETE FROM hits WHERE study_id = ?`, studyID); err != nil {
				return fmt.Errorf("clearing hits: %w", err)
			}
		}
		// The receiver is the one at the station when the tag was heard.
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO hits (study_id, submission_id, tag_code, tag_deployment_id, receiver_deployment_id,
			                   time, location, depth, created_at)
			 VALUES (?, ?, ?, ?,
			         (SELECT rd.id FROM receiver_deployments rd
			           WHERE rd.study_id = ? AND rd.station = ? AND rd.deployed_at <= ?
			             AND (rd.recovered_at IS NULL OR rd.recovered_at >= ?)
			           ORDER BY rd.deployed_at DESC, rd.id DESC LIMIT 1),
			         ?, ST_GeomFromWKB(?, 4326), ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing hit insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, h := range rows {
			if _, err := stmt.ExecContext(ctx, studyID, nullString(h.SubmissionID), h.TagCode, nullString(h.TagDeploymentID),
				studyID, h.Station, h.Time, h.Time,
				h.Time, geo.Value(h.Location), nullable(h.Depth), now); err != nil {
				return fmt.Errorf("inserting hit for %s: %w", h.TagCode, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) PurgeSubmission(ctx context.Context, submissionID string) (int64, error) {
	var total int64
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, table := range []string{"hits", "receiver_deployments"} {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE submission_id = ?`, submissionID)
			if err != nil {
				return fmt.Errorf("purging %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	return total, err
}
