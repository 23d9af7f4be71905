package submissions

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/blobstore"
	"github.com/asascience/matos/internal/ingest"
	"github.com/asascience/matos/internal/metrics"
)

// --- Mocks ---

type mockSubmissionRepo struct {
	subs map[string]*Submission

	createFn func(ctx context.Context, s *Submission) error
	// beforeClaim runs between the status read and the claim.
	beforeClaim func()
	statuses    []string
	deleted     []string
}

func newMockRepo(subs ...*Submission) *mockSubmissionRepo {
	m := &mockSubmissionRepo{subs: map[string]*Submission{}}
	for _, s := range subs {
		m.subs[s.ID] = s
	}
	return m
}

func (m *mockSubmissionRepo) Create(ctx context.Context, s *Submission) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, s); err != nil {
			return err
		}
	}
	cp := *s
	m.subs[s.ID] = &cp
	return nil
}

func (m *mockSubmissionRepo) FindByID(_ context.Context, id string) (*Submission, error) {
	s, ok := m.subs[id]
	if !ok {
		return nil, apperror.NewNotFound("submission not found")
	}
	cp := *s
	return &cp, nil
}

func (m *mockSubmissionRepo) ListByStudy(_ context.Context, studyID string) ([]Submission, error) {
	var out []Submission
	for _, s := range m.subs {
		if s.StudyID == studyID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *mockSubmissionRepo) BeginProcessing(_ context.Context, id string, at time.Time) (bool, error) {
	if m.beforeClaim != nil {
		m.beforeClaim()
	}
	s, ok := m.subs[id]
	if !ok || (s.Status != StatusUploaded && s.Status != StatusFailed) {
		return false, nil
	}
	m.statuses = append(m.statuses, StatusProcessing)
	s.Status, s.Message, s.RowCount, s.UpdatedAt = StatusProcessing, "", 0, at
	return true, nil
}

func (m *mockSubmissionRepo) UpdateStatus(_ context.Context, id, status, message string, rows int, at time.Time) error {
	m.statuses = append(m.statuses, status)
	if s, ok := m.subs[id]; ok {
		s.Status, s.Message, s.RowCount, s.UpdatedAt = status, message, rows, at
	}
	return nil
}

func (m *mockSubmissionRepo) Delete(_ context.Context, id string) error {
	if _, ok := m.subs[id]; !ok {
		return apperror.NewNotFound("submission not found")
	}
	delete(m.subs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockParser struct {
	calls  []string
	body   string
	job    ingest.Job
	purged []string
	result ingest.Result
	err    error
}

func (m *mockParser) run(name string, job ingest.Job) (ingest.Result, error) {
	m.calls = append(m.calls, name)
	m.job = job
	b, _ := io.ReadAll(job.Data)
	m.body = string(b)
	return m.result, m.err
}

func (m *mockParser) Receivers(_ context.Context, job ingest.Job) (ingest.Result, error) {
	return m.run(DatatypeReceivers, job)
}

func (m *mockParser) Tags(_ context.Context, job ingest.Job) (ingest.Result, error) {
	return m.run(DatatypeTags, job)
}

func (m *mockParser) Hits(_ context.Context, job ingest.Job) (ingest.Result, error) {
	return m.run(DatatypeReceptions, job)
}

func (m *mockParser) Purge(_ context.Context, submissionID string) error {
	m.purged = append(m.purged, submissionID)
	return nil
}

// --- Helpers ---

func assertAppError(t *testing.T, err error, code int) *apperror.AppError {
	t.Helper()
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != code {
		t.Errorf("expected status %d, got %d (%s)", code, appErr.Code, appErr.Message)
	}
	return appErr
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo SubmissionRepository, parser ingest.Parser, m *metrics.Metrics) (*submissionService, blobstore.Store) {
	t.Helper()
	blobs, err := blobstore.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("creating blob store: %v", err)
	}
	svc := NewSubmissionService(repo, blobs, parser, m, Options{MaxSize: 1024, Timeout: time.Minute}).(*submissionService)
	svc.now = func() time.Time { return fixedNow }
	return svc, blobs
}

const tagsCSV = "tag_code,release_date\nA69-1601-1234,2024-04-01\n"

func upload(datatype, body string) UploadInput {
	return UploadInput{
		StudyID:     "s1",
		UserID:      "u-inv",
		Datatype:    datatype,
		FileName:    "tags.csv",
		ContentType: "text/csv",
		Size:        int64(len(body)),
		Data:        strings.NewReader(body),
	}
}

// --- Tests ---

func TestUpload_StoresDatafile(t *testing.T) {
	repo := newMockRepo()
	svc, blobs := newTestService(t, repo, &mockParser{}, nil)

	sub, err := svc.Upload(context.Background(), upload("Tags", tagsCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Datatype != DatatypeTags || sub.Status != StatusUploaded {
		t.Errorf("got datatype %q status %q", sub.Datatype, sub.Status)
	}
	if sub.FileSize != int64(len(tagsCSV)) {
		t.Errorf("expected size %d, got %d", len(tagsCSV), sub.FileSize)
	}
	if !sub.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected created_at %v, got %v", fixedNow, sub.CreatedAt)
	}
	if _, ok := repo.subs[sub.ID]; !ok {
		t.Fatal("submission not persisted")
	}

	info, rc, err := blobs.Get(context.Background(), sub.FileKey)
	if err != nil {
		t.Fatalf("datafile not stored: %v", err)
	}
	defer rc.Close()
	if info.Metadata["datatype"] != DatatypeTags {
		t.Errorf("expected datatype metadata, got %v", info.Metadata)
	}
}

func TestUpload_LegacyReceiversSpelling(t *testing.T) {
	svc, _ := newTestService(t, newMockRepo(), &mockParser{}, nil)
	sub, err := svc.Upload(context.Background(), upload("recievers", "station,deployed_at\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Datatype != DatatypeReceivers {
		t.Errorf("expected %q, got %q", DatatypeReceivers, sub.Datatype)
	}
}

func TestUpload_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    UploadInput
		field string
	}{
		{"unknown datatype", upload("detections", tagsCSV), "datatype"},
		{"missing file", UploadInput{StudyID: "s1", Datatype: "tags"}, "datafile"},
		{"too large", func() UploadInput {
			in := upload("tags", tagsCSV)
			in.Size = 4096
			return in
		}(), "datafile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			svc, _ := newTestService(t, repo, &mockParser{}, nil)
			_, err := svc.Upload(context.Background(), tt.in)
			appErr := assertAppError(t, err, http.StatusUnprocessableEntity)
			if _, ok := appErr.Fields[tt.field]; !ok {
				t.Errorf("expected error on %q, got %v", tt.field, appErr.Fields)
			}
			if len(repo.subs) != 0 {
				t.Error("nothing should be persisted")
			}
		})
	}
}

func TestUpload_RemovesBlobWhenCreateFails(t *testing.T) {
	repo := newMockRepo()
	var key string
	repo.createFn = func(_ context.Context, s *Submission) error {
		key = s.FileKey
		return errors.New("db down")
	}
	svc, blobs := newTestService(t, repo, &mockParser{}, nil)

	_, err := svc.Upload(context.Background(), upload("tags", tagsCSV))
	assertAppError(t, err, http.StatusInternalServerError)

	if _, _, err := blobs.Get(context.Background(), key); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("expected orphan datafile removed, got %v", err)
	}
}

func uploaded(t *testing.T, svc *submissionService, repo *mockSubmissionRepo, datatype string) *Submission {
	t.Helper()
	in := upload(datatype, tagsCSV)
	in.ClearData = true
	sub, err := svc.Upload(context.Background(), in)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return sub
}

func TestProcess_DispatchesByDatatype(t *testing.T) {
	for _, dt := range Datatypes {
		t.Run(dt, func(t *testing.T) {
			repo := newMockRepo()
			parser := &mockParser{result: ingest.Result{Rows: 7}}
			m := metrics.New()
			svc, _ := newTestService(t, repo, parser, m)
			sub := uploaded(t, svc, repo, dt)

			got, err := svc.Process(context.Background(), sub.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(parser.calls) != 1 || parser.calls[0] != dt {
				t.Fatalf("expected %s parser, got %v", dt, parser.calls)
			}
			if parser.body != tagsCSV {
				t.Errorf("parser saw %q", parser.body)
			}
			if !parser.job.ClearData || parser.job.StudyID != "s1" || parser.job.SubmissionID != sub.ID {
				t.Errorf("unexpected job %+v", parser.job)
			}
			if got.Status != StatusProcessed || got.RowCount != 7 {
				t.Errorf("got status %q rows %d", got.Status, got.RowCount)
			}
			if strings.Join(repo.statuses, ",") != "processing,processed" {
				t.Errorf("unexpected status sequence %v", repo.statuses)
			}
			if v := testutil.ToFloat64(m.SubmissionsProcessed.WithLabelValues(dt, StatusProcessed)); v != 1 {
				t.Errorf("expected processed metric 1, got %v", v)
			}
		})
	}
}

func TestProcess_ParseErrorMarksFailed(t *testing.T) {
	repo := newMockRepo()
	parser := &mockParser{err: &ingest.RowError{Row: 3, Err: errors.New("tag_code can't be blank")}}
	svc, _ := newTestService(t, repo, parser, nil)
	sub := uploaded(t, svc, repo, DatatypeTags)

	got, err := svc.Process(context.Background(), sub.ID)
	appErr := assertAppError(t, err, http.StatusUnprocessableEntity)
	if !strings.Contains(appErr.Message, "row 3") {
		t.Errorf("expected row number in message, got %q", appErr.Message)
	}
	if got == nil || got.Status != StatusFailed {
		t.Fatalf("expected failed submission, got %+v", got)
	}
	if repo.subs[sub.ID].Message != "row 3: tag_code can't be blank" {
		t.Errorf("stored message %q", repo.subs[sub.ID].Message)
	}
}

func TestProcess_InternalErrorHidesDetail(t *testing.T) {
	repo := newMockRepo()
	parser := &mockParser{err: errors.New("deadlock on hits")}
	svc, _ := newTestService(t, repo, parser, nil)
	sub := uploaded(t, svc, repo, DatatypeReceptions)

	got, err := svc.Process(context.Background(), sub.ID)
	assertAppError(t, err, http.StatusInternalServerError)
	if strings.Contains(got.Message, "deadlock") {
		t.Errorf("internal detail leaked: %q", got.Message)
	}
}

func TestProcess_RejectsWhileProcessing(t *testing.T) {
	repo := newMockRepo(&Submission{ID: "x", StudyID: "s1", Datatype: DatatypeTags, Status: StatusProcessing})
	parser := &mockParser{}
	svc, _ := newTestService(t, repo, parser, nil)

	_, err := svc.Process(context.Background(), "x")
	assertAppError(t, err, http.StatusConflict)
	if len(parser.calls) != 0 {
		t.Error("parser should not run")
	}
}

func TestProcess_RejectsAlreadyProcessed(t *testing.T) {
	repo := newMockRepo(&Submission{ID: "x", StudyID: "s1", Datatype: DatatypeTags, Status: StatusProcessed})
	parser := &mockParser{}
	svc, _ := newTestService(t, repo, parser, nil)

	_, err := svc.Process(context.Background(), "x")
	assertAppError(t, err, http.StatusConflict)
	if len(parser.calls) != 0 || len(repo.statuses) != 0 {
		t.Errorf("processed submission re-run: calls=%v statuses=%v", parser.calls, repo.statuses)
	}
}

func TestProcess_LosesClaimToConcurrentRun(t *testing.T) {
	repo := newMockRepo(&Submission{ID: "x", StudyID: "s1", Datatype: DatatypeTags, Status: StatusUploaded})
	repo.beforeClaim = func() { repo.subs["x"].Status = StatusProcessing }
	parser := &mockParser{}
	svc, _ := newTestService(t, repo, parser, nil)

	_, err := svc.Process(context.Background(), "x")
	assertAppError(t, err, http.StatusConflict)
	if len(parser.calls) != 0 {
		t.Error("parser should not run for a submission claimed elsewhere")
	}
	if repo.subs["x"].Status != StatusProcessing {
		t.Errorf("status = %q, the other run's claim must stand", repo.subs["x"].Status)
	}
}

func TestProcess_NotFound(t *testing.T) {
	svc, _ := newTestService(t, newMockRepo(), &mockParser{}, nil)
	_, err := svc.Process(context.Background(), "missing")
	assertAppError(t, err, http.StatusNotFound)
}

func TestDestroy_PurgesThenDeletes(t *testing.T) {
	repo := newMockRepo()
	parser := &mockParser{}
	svc, blobs := newTestService(t, repo, parser, nil)
	sub := uploaded(t, svc, repo, DatatypeTags)

	if err := svc.Destroy(context.Background(), sub.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(parser.purged) != 1 || parser.purged[0] != sub.ID {
		t.Errorf("expected purge of %s, got %v", sub.ID, parser.purged)
	}
	if _, _, err := blobs.Get(context.Background(), sub.FileKey); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("datafile should be gone, got %v", err)
	}
	if len(repo.deleted) != 1 {
		t.Errorf("expected record deleted, got %v", repo.deleted)
	}
}

func TestDestroy_MissingDatafileIsFine(t *testing.T) {
	repo := newMockRepo(&Submission{ID: "x", StudyID: "s1", FileKey: "submissions/s1/x/gone.csv"})
	svc, _ := newTestService(t, repo, &mockParser{}, nil)
	if err := svc.Destroy(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeDatatype(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"receivers", DatatypeReceivers, true},
		{" RECIEVERS ", DatatypeReceivers, true},
		{"Tags", DatatypeTags, true},
		{"receptions", DatatypeReceptions, true},
		{"hits", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeDatatype(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeDatatype(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
