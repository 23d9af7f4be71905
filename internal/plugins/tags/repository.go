package tags

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/database"
	"github.com/asascience/matos/internal/geo"
)

// TagRepository is the data access contract for tags and deployments.
type TagRepository interface {
	CodeScanner

	// CreateDeployment registers tag if its code is new, inserts d and
	// repoints the tag's active deployment while holding the tag row lock.
	CreateDeployment(ctx context.Context, tag *Tag, d *Deployment) error
	// DeleteDeployment removes one deployment and repoints its tag.
	DeleteDeployment(ctx context.Context, id string) error
	// DeleteDeploymentsBySubmission removes bulk-loaded deployments and
	// repoints every affected tag.
	DeleteDeploymentsBySubmission(ctx context.Context, submissionID string) (int64, error)
	// DeleteDeploymentsByStudy removes the study's deployments except the
	// ones loaded by keepSubmissionID.
	DeleteDeploymentsByStudy(ctx context.Context, studyID, keepSubmissionID string) (int64, error)

	FindDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context, studyID string, offset, limit int) ([]Deployment, int, error)
	SearchDeployments(ctx context.Context, studyID, query string, limit int) ([]Deployment, error)

	// TagsByCode returns tags whose code equals any of codes, ignoring
	// case, oldest registration first.
	TagsByCode(ctx context.Context, codes []string) ([]Tag, error)
	FindTagByCode(ctx context.Context, code string) (*Tag, error)
	// DeploymentsByTag lists every release of one tag by release date.
	DeploymentsByTag(ctx context.Context, tagID string) ([]Deployment, error)

	Hits(ctx context.Context, deploymentID string) ([]HitFeature, error)
}

type tagRepository struct {
	db *sql.DB
}

// NewTagRepository creates a MariaDB-backed repository.
func NewTagRepository(db *sql.DB) TagRepository {
	return &tagRepository{db: db}
}

const deploymentColumns = `d.id, d.tag_id, d.study_id, d.submission_id, d.tagger, d.common_name, d.scientific_name,
	d.capture_location, ST_AsBinary(d.capture_geo), d.capture_date, d.capture_depth,
	d.wild_or_hatchery, d.stock, d.length, d.length_type, d.weight, d.age, d.sex, d.dna_sample_taken,
	d.surgery_location, ST_AsBinary(d.surgery_geo), d.surgery_date, d.implant_type, d.description,
	d.release_group, d.release_location, ST_AsBinary(d.release_geo), d.release_date,
	d.external_codes, d.sensor_codes, d.reward, d.created_at,
	t.code, COALESCE(s.name, ''),
	(SELECT MAX(r.found) FROM reports r WHERE r.tag_deployment_id = d.id)`

const deploymentFrom = ` FROM tag_deployments d
	JOIN tags t ON t.id = d.tag_id
	LEFT JOIN studies s ON s.id = d.study_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*Deployment, error) {
	d := &Deployment{}
	var (
		submissionID, description          sql.NullString
		captureGeo, surgeryGeo, releaseGeo geo.NullPoint
		captureDate, surgeryDate, ending   sql.NullTime
		captureDepth, length, weight       sql.NullFloat64
		externalCodes, sensorCodes         string
	)
	err := row.Scan(&d.ID, &d.TagID, &d.StudyID, &submissionID, &d.Tagger, &d.CommonName, &d.ScientificName,
		&d.CaptureLocation, &captureGeo, &captureDate, &captureDepth,
		&d.WildOrHatchery, &d.Stock, &length, &d.LengthType, &weight, &d.Age, &d.Sex, &d.DNASampleTaken,
		&d.SurgeryLocation, &surgeryGeo, &surgeryDate, &d.ImplantType, &description,
		&d.ReleaseGroup, &d.ReleaseLocation, &releaseGeo, &d.ReleaseDate,
		&externalCodes, &sensorCodes, &d.Reward, &d.CreatedAt,
		&d.TagCode, &d.StudyName, &ending)
	if err != nil {
		return nil, err
	}
	d.SubmissionID = submissionID.String
	d.Description = description.String
	d.CaptureGeo, d.SurgeryGeo, d.ReleaseGeo = captureGeo.Ptr(), surgeryGeo.Ptr(), releaseGeo.Ptr()
	d.CaptureDate, d.SurgeryDate, d.Ending = timePtr(captureDate), timePtr(surgeryDate), timePtr(ending)
	d.CaptureDepth, d.Length, d.Weight = floatPtr(captureDepth), floatPtr(length), floatPtr(weight)
	d.ExternalCodes = ParseCodeSet(externalCodes)
	d.SensorCodes = ParseCodeSet(sensorCodes)
	return d, nil
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *tagRepository) ScanCodes(ctx context.Context, fn func(CodeRecord) bool) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, external_codes, sensor_codes FROM tag_deployments ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("scanning deployment codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, external, sensor string
		if err := rows.Scan(&id, &external, &sensor); err != nil {
			return fmt.Errorf("scanning deployment codes: %w", err)
		}
		if !fn(CodeRecord{ID: id, External: ParseCodeSet(external), Sensor: ParseCodeSet(sensor)}) {
			return nil
		}
	}
	return rows.Err()
}

func (r *tagRepository) CreateDeployment(ctx context.Context, tag *Tag, d *Deployment) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		existing := &Tag{}
		var active sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT id, code, study_id, model, serial, active_deployment_id, created_at
			 FROM tags WHERE code = ? FOR UPDATE`, tag.Code,
		).Scan(&existing.ID, &existing.Code, &existing.StudyID, &existing.Model, &existing.Serial, &active, &existing.CreatedAt)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO tags (id, code, study_id, model, serial, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				tag.ID, tag.Code, tag.StudyID, tag.Model, tag.Serial, tag.CreatedAt)
			if database.IsDuplicateKey(err) {
				return apperror.NewConflict("tag " + tag.Code + " was registered concurrently, retry")
			}
			if err != nil {
				return fmt.Errorf("inserting tag: %w", err)
			}
		case err != nil:
			return fmt.Errorf("locking tag: %w", err)
		default:
			if existing.StudyID != tag.StudyID {
				return apperror.NewFieldValidation(map[string]string{"tag_code": "is registered to another study"})
			}
			existing.ActiveDeploymentID = active.String
			*tag = *existing
		}

		d.TagID = tag.ID
		d.TagCode = tag.Code
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tag_deployments (id, tag_id, study_id, submission_id, tagger, common_name, scientific_name,
			    capture_location, capture_geo, capture_date, capture_depth,
			    wild_or_hatchery, stock, length, length_type, weight, age, sex, dna_sample_taken,
			    surgery_location, surgery_geo, surgery_date, implant_type, description,
			    release_group, release_location, release_geo, release_date,
			    external_codes, sensor_codes, reward, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?,
			    ?, ST_GeomFromWKB(?, 4326), ?, ?,
			    ?, ?, ?, ?, ?, ?, ?, ?,
			    ?, ST_GeomFromWKB(?, 4326), ?, ?, ?,
			    ?, ?, ST_GeomFromWKB(?, 4326), ?,
			    ?, ?, ?, ?)`,
			d.ID, d.TagID, d.StudyID, nullString(d.SubmissionID), d.Tagger, d.CommonName, d.ScientificName,
			d.CaptureLocation, geo.Value(d.CaptureGeo), nullTime(d.CaptureDate), nullFloat(d.CaptureDepth),
			d.WildOrHatchery, d.Stock, nullFloat(d.Length), d.LengthType, nullFloat(d.Weight), d.Age, d.Sex, d.DNASampleTaken,
			d.SurgeryLocation, geo.Value(d.SurgeryGeo), nullTime(d.SurgeryDate), d.ImplantType, nullString(d.Description),
			d.ReleaseGroup, d.ReleaseLocation, geo.Value(d.ReleaseGeo), d.ReleaseDate,
			d.ExternalCodes.String(), d.SensorCodes.String(), d.Reward, d.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting deployment: %w", err)
		}

		activeID, err := recomputeActive(ctx, tx, tag.ID)
		if err != nil {
			return err
		}
		tag.ActiveDeploymentID = activeID
		return nil
	})
}

// recomputeActive points the tag at its latest-released deployment. The
// caller holds the tag row lock.
func recomputeActive(ctx context.Context, tx *sql.Tx, tagID string) (string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, release_date, created_at FROM tag_deployments WHERE tag_id = ?`, tagID)
	if err != nil {
		return "", fmt.Errorf("selecting active deployment: %w", err)
	}
	var cands []activeCandidate
	for rows.Next() {
		var c activeCandidate
		if err := rows.Scan(&c.ID, &c.ReleaseDate, &c.CreatedAt); err != nil {
			rows.Close()
			return "", fmt.Errorf("scanning deployment dates: %w", err)
		}
		cands = append(cands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("selecting active deployment: %w", err)
	}

	id := latestDeployment(cands)
	if _, err := tx.ExecContext(ctx, `UPDATE tags SET active_deployment_id = ? WHERE id = ?`, nullString(id), tagID); err != nil {
		return "", fmt.Errorf("updating active deployment: %w", err)
	}
	return id, nil
}

func (r *tagRepository) DeleteDeployment(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var tagID string
		err := tx.QueryRowContext(ctx, `SELECT tag_id FROM tag_deployments WHERE id = ?`, id).Scan(&tagID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NewNotFound("deployment not found")
		}
		if err != nil {
			return fmt.Errorf("querying deployment: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT id FROM tags WHERE id = ? FOR UPDATE`, tagID).Scan(&tagID); err != nil {
			return fmt.Errorf("locking tag: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tag_deployments WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting deployment: %w", err)
		}
		_, err = recomputeActive(ctx, tx, tagID)
		return err
	})
}

func (r *tagRepository) DeleteDeploymentsBySubmission(ctx context.Context, submissionID string) (int64, error) {
	return r.deleteWhere(ctx, `submission_id = ?`, submissionID)
}

func (r *tagRepository) DeleteDeploymentsByStudy(ctx context.Context, studyID, keepSubmissionID string) (int64, error) {
	return r.deleteWhere(ctx, `study_id = ? AND (submission_id IS NULL OR submission_id <> ?)`, studyID, keepSubmissionID)
}

func (r *tagRepository) deleteWhere(ctx context.Context, where string, args ...any) (int64, error) {
	var deleted int64
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM tags WHERE id IN (SELECT tag_id FROM tag_deployments WHERE `+where+`) ORDER BY id FOR UPDATE`, args...)
		if err != nil {
			return fmt.Errorf("locking tags: %w", err)
		}
		var tagIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning tag id: %w", err)
			}
			tagIDs = append(tagIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("locking tags: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM tag_deployments WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("deleting deployments: %w", err)
		}
		deleted, _ = res.RowsAffected()

		for _, id := range tagIDs {
			if _, err := recomputeActive(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	return deleted, err
}

func (r *tagRepository) FindDeployment(ctx context.Context, id string) (*Deployment, error) {
	d, err := scanDeployment(r.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+deploymentFrom+` WHERE d.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("deployment not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying deployment: %w", err)
	}
	return d, nil
}

func (r *tagRepository) ListDeployments(ctx context.Context, studyID string, offset, limit int) ([]Deployment, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tag_deployments WHERE study_id = ?`, studyID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting deployments: %w", err)
	}
	list, err := r.queryDeployments(ctx,
		`SELECT `+deploymentColumns+deploymentFrom+` WHERE d.study_id = ? ORDER BY d.release_date DESC, d.id LIMIT ? OFFSET ?`,
		studyID, limit, offset)
	return list, total, err
}

func (r *tagRepository) SearchDeployments(ctx context.Context, studyID, query string, limit int) ([]Deployment, error) {
	return r.queryDeployments(ctx,
		`SELECT `+deploymentColumns+deploymentFrom+`
		 WHERE d.study_id = ?
		   AND (MATCH (d.common_name, d.scientific_name, d.capture_location, d.external_codes,
		               d.description, d.release_group, d.release_location) AGAINST (? IN BOOLEAN MODE)
		        OR t.code = ?)
		 ORDER BY d.release_date DESC, d.id LIMIT ?`,
		studyID, database.BooleanPrefixQuery(query), strings.TrimSpace(query), limit)
}

func (r *tagRepository) queryDeployments(ctx context.Context, query string, args ...any) ([]Deployment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *tagRepository) TagsByCode(ctx context.Context, codes []string) ([]Tag, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("LOWER(?),", len(codes)), ",")
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, code, study_id, model, serial, active_deployment_id, created_at
		 FROM tags WHERE LOWER(code) IN (`+placeholders+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var out []Tag
	for rows.Next() {
		var t Tag
		var active sql.NullString
		if err := rows.Scan(&t.ID, &t.Code, &t.StudyID, &t.Model, &t.Serial, &active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		t.ActiveDeploymentID = active.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *tagRepository) FindTagByCode(ctx context.Context, code string) (*Tag, error) {
	list, err := r.TagsByCode(ctx, []string{code})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperror.NewNotFound("tag not found")
	}
	return &list[0], nil
}

func (r *tagRepository) DeploymentsByTag(ctx context.Context, tagID string) ([]Deployment, error) {
	return r.queryDeployments(ctx,
		`SELECT `+deploymentColumns+deploymentFrom+` WHERE d.tag_id = ? ORDER BY d.release_date, d.created_at, d.id`, tagID)
}

func (r *tagRepository) Hits(ctx context.Context, deploymentID string) ([]HitFeature, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT h.id, h.time, ST_AsBinary(COALESCE(h.location, rd.location)), h.depth,
		        COALESCE(rd.station, ''), COALESCE(rd.receiver_model, ''), COALESCE(rd.receiver_serial, '')
		 FROM hits h LEFT JOIN receiver_deployments rd ON rd.id = h.receiver_deployment_id
		 WHERE h.tag_deployment_id = ? ORDER BY h.time, h.id`, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("listing hits: %w", err)
	}
	defer rows.Close()

	var out []HitFeature
	for rows.Next() {
		var h HitFeature
		var pt geo.NullPoint
		var depth sql.NullFloat64
		if err := rows.Scan(&h.ID, &h.Time, &pt, &depth, &h.Station, &h.ReceiverModel, &h.ReceiverSerial); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		if !pt.Valid {
			continue
		}
		h.Point = pt.Point
		h.Depth = floatPtr(depth)
		out = append(out, h)
	}
	return out, rows.Err()
}
