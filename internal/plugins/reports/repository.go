package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/database"
	"github.com/asascience/matos/internal/geo"
)

// GridQuery is a validated page request for the report grid.
type GridQuery struct {
	StudyID string
	OrderBy string
	Dir     string
	Offset  int
	Limit   int
}

// ReportRepository is the data access contract for reports.
type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	FindByID(ctx context.Context, id string) (*Report, error)
	Update(ctx context.Context, r *Report) error
	Delete(ctx context.Context, id string) error

	// Grid returns one page and the number of rows in scope.
	Grid(ctx context.Context, q GridQuery) ([]Report, int, error)
	Search(ctx context.Context, query string, limit int) ([]Report, error)
}

type reportRepository struct {
	db *sql.DB
}

// NewReportRepository creates a MariaDB-backed repository.
func NewReportRepository(db *sql.DB) ReportRepository {
	return &reportRepository{db: db}
}

// sortColumns whitelists the grid columns that may be ordered on.
var sortColumns = map[string]string{
	"id":                  "r.id",
	"input_tag":           "r.input_tag",
	"input_external_code": "r.input_external_code",
	"description":         "r.description",
	"method":              "r.method",
	"name":                "r.name",
	"phone":               "r.phone",
	"email":               "r.email",
	"city":                "r.city",
	"state":               "r.state",
	"reported":            "r.reported",
	"found":               "r.found",
	"length":              "r.length",
	"weight":              "r.weight",
	"fishtype":            "r.fishtype",
	"created_at":          "r.created_at",
	"updated_at":          "r.updated_at",
}

const reportColumns = `r.id, r.input_tag, r.input_external_code, r.description, r.method, r.name, r.phone,
	r.email, r.city, r.state, r.reported, r.found, r.length, r.weight, r.fishtype, ST_AsBinary(r.location),
	r.tag_deployment_id, r.created_at, r.updated_at,
	COALESCE(t.code, ''), COALESCE(s.id, ''), COALESCE(s.name, '')`

const reportFrom = ` FROM reports r
	LEFT JOIN tag_deployments d ON d.id = r.tag_deployment_id
	LEFT JOIN tags t ON t.id = d.tag_id
	LEFT JOIN studies s ON s.id = t.study_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	r := &Report{}
	var (
		description, deploymentID sql.NullString
		found                     sql.NullTime
		length, weight            sql.NullFloat64
		location                  geo.NullPoint
	)
	err := row.Scan(&r.ID, &r.InputTag, &r.InputExternalCode, &description, &r.Method, &r.Name, &r.Phone,
		&r.Email, &r.City, &r.State, &r.Reported, &found, &length, &weight, &r.Fishtype, &location,
		&deploymentID, &r.CreatedAt, &r.UpdatedAt,
		&r.TagCode, &r.StudyID, &r.StudyName)
	if err != nil {
		return nil, err
	}
	r.Description = description.String
	r.TagDeploymentID = deploymentID.String
	r.Location = location.Ptr()
	if found.Valid {
		t := found.Time
		r.Found = &t
	}
	if length.Valid {
		f := length.Float64
		r.Length = &f
	}
	if weight.Valid {
		f := weight.Float64
		r.Weight = &f
	}
	return r, nil
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

func (r *reportRepository) Create(ctx context.Context, rep *Report) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reports (id, input_tag, input_external_code, description, method, name, phone, email,
		                      city, state, reported, found, length, weight, fishtype, location,
		                      tag_deployment_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ST_GeomFromWKB(?, 4326), ?, ?, ?)`,
		rep.ID, rep.InputTag, rep.InputExternalCode, rep.Description, rep.Method, rep.Name, rep.Phone, rep.Email,
		rep.City, rep.State, rep.Reported, nullable(rep.Found), nullable(rep.Length), nullable(rep.Weight),
		rep.Fishtype, geo.Value(rep.Location), nullString(rep.TagDeploymentID), rep.CreatedAt, rep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	return nil
}

func (r *reportRepository) FindByID(ctx context.Context, id string) (*Report, error) {
	rep, err := scanReport(r.db.QueryRowContext(ctx, `SELECT `+reportColumns+reportFrom+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("report not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying report: %w", err)
	}
	return rep, nil
}

// Update writes the editable fields. The match and reported time are
// fixed at creation.
func (r *reportRepository) Update(ctx context.Context, rep *Report) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE reports SET input_tag = ?, input_external_code = ?, description = ?, method = ?, name = ?,
		        phone = ?, email = ?, city = ?, state = ?, found = ?, length = ?, weight = ?, fishtype = ?,
		        updated_at = ?
		 WHERE id = ?`,
		rep.InputTag, rep.InputExternalCode, rep.Description, rep.Method, rep.Name,
		rep.Phone, rep.Email, rep.City, rep.State, nullable(rep.Found), nullable(rep.Length), nullable(rep.Weight),
		rep.Fishtype, rep.UpdatedAt, rep.ID)
	if err != nil {
		return fmt.Errorf("updating report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MariaDB reports 0 for unchanged rows too; confirm it exists.
		if _, err := r.FindByID(ctx, rep.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *reportRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("report not found")
	}
	return nil
}

func (r *reportRepository) Grid(ctx context.Context, q GridQuery) ([]Report, int, error) {
	where := ""
	var args []any
	if q.StudyID != "" {
		where = ` WHERE r.tag_deployment_id IS NULL OR t.study_id = ?`
		args = append(args, q.StudyID)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*)`+reportFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting reports: %w", err)
	}

	orderBy, ok := sortColumns[q.OrderBy]
	if !ok {
		orderBy = "r.created_at"
	}
	dir := "ASC"
	if strings.EqualFold(q.Dir, "desc") {
		dir = "DESC"
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+reportFrom+where+` ORDER BY `+orderBy+` `+dir+`, r.id LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	list, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *reportRepository) Search(ctx context.Context, query string, limit int) ([]Report, error) {
	q := database.BooleanPrefixQuery(query)
	if q == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+reportColumns+reportFrom+`
		 WHERE MATCH (r.input_tag, r.description, r.method, r.name, r.email, r.phone, r.city, r.state,
		              r.fishtype, r.input_external_code) AGAINST (? IN BOOLEAN MODE)
		    OR MATCH (d.common_name, d.scientific_name, d.capture_location, d.external_codes,
		              d.description, d.release_group, d.release_location) AGAINST (? IN BOOLEAN MODE)
		 ORDER BY r.reported DESC, r.id LIMIT ?`,
		q, q, limit)
	if err != nil {
		return nil, fmt.Errorf("searching reports: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]Report, error) {
	var list []Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		list = append(list, *rep)
	}
	return list, rows.Err()
}
