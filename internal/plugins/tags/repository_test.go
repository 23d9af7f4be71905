package tags

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- In-memory driver ---
//
// memDB answers the statements tagRepository issues for deployment writes,
// keeping tags, deployments and active pointers in maps.

type memTag struct {
	id, code, studyID string
	createdAt         time.Time
}

type memDeployment struct {
	id, tagID, studyID, submissionID string
	releaseDate, createdAt           time.Time
}

type memDB struct {
	mu          sync.Mutex
	tags        map[string]*memTag
	deployments map[string]*memDeployment
	active      map[string]string
	queries     []string
}

func newMemDB() *memDB {
	return &memDB{tags: map[string]*memTag{}, deployments: map[string]*memDeployment{}, active: map[string]string{}}
}

func (m *memDB) open(t *testing.T) *sql.DB {
	t.Helper()
	db := sql.OpenDB(memConnector{m})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type memConnector struct{ db *memDB }

func (c memConnector) Connect(context.Context) (driver.Conn, error) { return &memConn{db: c.db}, nil }
func (c memConnector) Driver() driver.Driver                        { return memDriver{} }

type memDriver struct{}

func (memDriver) Open(string) (driver.Conn, error) { return nil, fmt.Errorf("use the connector") }

type memConn struct{ db *memDB }

func (c *memConn) Prepare(query string) (driver.Stmt, error) {
	return &memStmt{db: c.db, query: strings.Join(strings.Fields(query), " ")}, nil
}
func (c *memConn) Close() error              { return nil }
func (c *memConn) Begin() (driver.Tx, error) { return memTx{}, nil }

type memTx struct{}

func (memTx) Commit() error   { return nil }
func (memTx) Rollback() error { return nil }

type memStmt struct {
	db    *memDB
	query string
}

func (s *memStmt) Close() error  { return nil }
func (s *memStmt) NumInput() int { return -1 }

func str(v driver.Value) string {
	if v == nil {
		return ""
	}
	return v.(string)
}

func (s *memStmt) Exec(args []driver.Value) (driver.Result, error) {
	m := s.db
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, s.query)

	switch {
	case strings.HasPrefix(s.query, "INSERT INTO tags "):
		t := &memTag{id: str(args[0]), code: str(args[1]), studyID: str(args[2]), createdAt: args[5].(time.Time)}
		m.tags[t.code] = t
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(s.query, "INSERT INTO tag_deployments "):
		if len(args) != 32 {
			return nil, fmt.Errorf("deployment insert has %d args", len(args))
		}
		d := &memDeployment{
			id:           str(args[0]),
			tagID:        str(args[1]),
			studyID:      str(args[2]),
			submissionID: str(args[3]),
			releaseDate:  args[27].(time.Time),
			createdAt:    args[31].(time.Time),
		}
		m.deployments[d.id] = d
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(s.query, "UPDATE tags SET active_deployment_id = ? WHERE id = ?"):
		m.active[str(args[1])] = str(args[0])
		return driver.RowsAffected(1), nil

	case strings.HasPrefix(s.query, "DELETE FROM tag_deployments WHERE "):
		var n int64
		for id, d := range m.deployments {
			if s.selects(d, args) {
				delete(m.deployments, id)
				n++
			}
		}
		return driver.RowsAffected(n), nil
	}
	return nil, fmt.Errorf("unexpected exec: %s", s.query)
}

// selects evaluates the WHERE clauses deployment deletes use.
func (s *memStmt) selects(d *memDeployment, args []driver.Value) bool {
	switch {
	case strings.Contains(s.query, "WHERE study_id = ? AND (submission_id IS NULL OR submission_id <> ?)"):
		return d.studyID == str(args[0]) && (d.submissionID == "" || d.submissionID != str(args[1]))
	case strings.Contains(s.query, "WHERE submission_id = ?"):
		return d.submissionID == str(args[0])
	case strings.Contains(s.query, "WHERE id = ?"):
		return d.id == str(args[0])
	}
	return false
}

func (s *memStmt) Query(args []driver.Value) (driver.Rows, error) {
	m := s.db
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, s.query)

	switch {
	case strings.HasPrefix(s.query, "SELECT id, code, study_id, model, serial, active_deployment_id, created_at FROM tags WHERE code = ?"):
		rows := &memRows{cols: []string{"id", "code", "study_id", "model", "serial", "active_deployment_id", "created_at"}}
		if t, ok := m.tags[str(args[0])]; ok {
			var active driver.Value
			if id := m.active[t.id]; id != "" {
				active = id
			}
			rows.vals = append(rows.vals, []driver.Value{t.id, t.code, t.studyID, "", "", active, t.createdAt})
		}
		return rows, nil

	case strings.HasPrefix(s.query, "SELECT id, release_date, created_at FROM tag_deployments WHERE tag_id = ?"):
		rows := &memRows{cols: []string{"id", "release_date", "created_at"}}
		for _, d := range m.deployments {
			if d.tagID == str(args[0]) {
				rows.vals = append(rows.vals, []driver.Value{d.id, d.releaseDate, d.createdAt})
			}
		}
		return rows, nil

	case strings.HasPrefix(s.query, "SELECT tag_id FROM tag_deployments WHERE id = ?"):
		rows := &memRows{cols: []string{"tag_id"}}
		if d, ok := m.deployments[str(args[0])]; ok {
			rows.vals = append(rows.vals, []driver.Value{d.tagID})
		}
		return rows, nil

	case strings.HasPrefix(s.query, "SELECT id FROM tags WHERE id IN (SELECT tag_id FROM tag_deployments WHERE "):
		seen := map[string]bool{}
		for _, d := range m.deployments {
			if s.selects(d, args) {
				seen[d.tagID] = true
			}
		}
		ids := make([]string, 0, len(seen))
		for id := range seen {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		rows := &memRows{cols: []string{"id"}}
		for _, id := range ids {
			rows.vals = append(rows.vals, []driver.Value{id})
		}
		return rows, nil

	case strings.HasPrefix(s.query, "SELECT id FROM tags WHERE id = ? FOR UPDATE"):
		return &memRows{cols: []string{"id"}, vals: [][]driver.Value{{str(args[0])}}}, nil

	case strings.HasPrefix(s.query, "SELECT id, code, study_id, model, serial, active_deployment_id, created_at FROM tags WHERE LOWER(code) IN"):
		return &memRows{cols: []string{"id", "code", "study_id", "model", "serial", "active_deployment_id", "created_at"}}, nil
	}
	return nil, fmt.Errorf("unexpected query: %s", s.query)
}

type memRows struct {
	cols []string
	vals [][]driver.Value
	i    int
}

func (r *memRows) Columns() []string { return r.cols }
func (r *memRows) Close() error      { return nil }

func (r *memRows) Next(dest []driver.Value) error {
	if r.i >= len(r.vals) {
		return io.EOF
	}
	copy(dest, r.vals[r.i])
	r.i++
	return nil
}

// --- Helpers ---

func (m *memDB) activeFor(code string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tags[code]
	if !ok {
		return ""
	}
	return m.active[t.id]
}

func release(t *testing.T, repo TagRepository, studyID, code, id, submissionID string, released, created time.Time) *Tag {
	t.Helper()
	tag := &Tag{ID: "tag-" + id, Code: code, StudyID: studyID, CreatedAt: created}
	d := &Deployment{ID: id, StudyID: studyID, SubmissionID: submissionID, ReleaseDate: released, CreatedAt: created}
	if err := repo.CreateDeployment(context.Background(), tag, d); err != nil {
		t.Fatalf("creating deployment %s: %v", id, err)
	}
	return tag
}

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

// --- Tests ---

func TestRepository_ActiveSettlesOnCreateAndDelete(t *testing.T) {
	mem := newMemDB()
	repo := NewTagRepository(mem.open(t))
	ctx := context.Background()

	tag := release(t, repo, "s1", "A69-1", "d2020", "", date(2020, 5, 1), date(2020, 5, 2))
	if tag.ActiveDeploymentID != "d2020" || mem.activeFor("A69-1") != "d2020" {
		t.Fatalf("active = %q / %q, want d2020", tag.ActiveDeploymentID, mem.activeFor("A69-1"))
	}

	tag = release(t, repo, "s1", "A69-1", "d2021", "", date(2021, 5, 1), date(2021, 5, 2))
	if tag.ID != "tag-d2020" {
		t.Errorf("second release registered a new tag %q", tag.ID)
	}
	if got := mem.activeFor("A69-1"); got != "d2021" {
		t.Errorf("after later release active = %q, want d2021", got)
	}

	// Entered last but released first: the pointer stays put.
	release(t, repo, "s1", "A69-1", "d2019", "", date(2019, 5, 1), date(2022, 1, 1))
	if got := mem.activeFor("A69-1"); got != "d2021" {
		t.Errorf("after back-dated release active = %q, want d2021", got)
	}

	steps := []struct {
		delete string
		want   string
	}{
		{"d2021", "d2020"},
		{"d2020", "d2019"},
		{"d2019", ""},
	}
	for _, step := range steps {
		if err := repo.DeleteDeployment(ctx, step.delete); err != nil {
			t.Fatalf("deleting %s: %v", step.delete, err)
		}
		if got := mem.activeFor("A69-1"); got != step.want {
			t.Errorf("after deleting %s active = %q, want %q", step.delete, got, step.want)
		}
	}

	assertAppError(t, repo.DeleteDeployment(ctx, "d2019"), http.StatusNotFound)
}

func TestRepository_CreateRejectsTagOfAnotherStudy(t *testing.T) {
	mem := newMemDB()
	repo := NewTagRepository(mem.open(t))
	release(t, repo, "s1", "A69-1", "d1", "", date(2020, 5, 1), date(2020, 5, 1))

	tag := &Tag{ID: "tag-x", Code: "A69-1", StudyID: "s2"}
	d := &Deployment{ID: "d2", StudyID: "s2", ReleaseDate: date(2021, 1, 1)}
	assertAppError(t, repo.CreateDeployment(context.Background(), tag, d), http.StatusUnprocessableEntity)

	if _, ok := mem.deployments["d2"]; ok {
		t.Error("deployment inserted for a tag owned by another study")
	}
	if got := mem.activeFor("A69-1"); got != "d1" {
		t.Errorf("active = %q, want d1", got)
	}
}

func TestRepository_DeleteByStudyKeepsSubmission(t *testing.T) {
	mem := newMemDB()
	repo := NewTagRepository(mem.open(t))
	release(t, repo, "s1", "A69-1", "by-hand", "", date(2021, 5, 1), date(2021, 5, 1))
	release(t, repo, "s1", "A69-1", "old-import", "sub0", date(2022, 5, 1), date(2022, 5, 1))
	release(t, repo, "s1", "A69-1", "new-import", "sub1", date(2020, 5, 1), date(2023, 1, 1))
	release(t, repo, "s2", "B7-1", "other-study", "", date(2022, 5, 1), date(2022, 5, 1))

	n, err := repo.DeleteDeploymentsByStudy(context.Background(), "s1", "sub1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if _, ok := mem.deployments["new-import"]; !ok {
		t.Error("the kept submission's deployment was removed")
	}
	if _, ok := mem.deployments["other-study"]; !ok {
		t.Error("another study's deployment was removed")
	}
	if got := mem.activeFor("A69-1"); got != "new-import" {
		t.Errorf("active = %q, want new-import", got)
	}
}

func TestRepository_TagsByCodeOrdersByRegistration(t *testing.T) {
	mem := newMemDB()
	repo := NewTagRepository(mem.open(t))

	if _, err := repo.TagsByCode(context.Background(), []string{"A69-1", "A69-2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mem.queries) != 1 || !strings.HasSuffix(mem.queries[0], "ORDER BY created_at, id") {
		t.Errorf("query = %v", mem.queries)
	}
}
