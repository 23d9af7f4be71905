package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/geo"
	"github.com/asascience/matos/internal/metrics"
	"github.com/asascience/matos/internal/plugins/auth"
	"github.com/asascience/matos/internal/plugins/tags"
	"github.com/asascience/matos/internal/sanitize"
)

const (
	defaultGridLength = 10
	maxGridLength     = 1000
	searchLimit       = 100
	blankMessage      = "can't be blank"
	numberMessage     = "is not a number"
)

// DeploymentResolver looks up the deployment a report refers to.
type DeploymentResolver interface {
	// ResolveTag matches internal tag codes against the tag registry.
	ResolveTag(ctx context.Context, input string) (*tags.Deployment, error)
	// MatchCodes matches external codes against deployment code sets.
	MatchCodes(ctx context.Context, input string) (*tags.Deployment, error)
}

// ReportNotifier sends the mail that follows a saved report.
type ReportNotifier interface {
	Notify(ctx context.Context, r *Report, d *tags.Deployment) error
}

// ReportService handles report intake and administration.
type ReportService interface {
	// Submit validates, matches, stores and announces a public report.
	Submit(ctx context.Context, req ReportRequest) (*Report, error)
	Get(ctx context.Context, id string) (*Report, error)
	// Update applies a JSON merge patch to the editable fields.
	Update(ctx context.Context, id string, patch []byte) (*Report, error)
	Delete(ctx context.Context, id string) error
	Grid(ctx context.Context, p GridParams) (*GridResponse, error)
	Search(ctx context.Context, query string) ([]Report, error)
}

type reportService struct {
	repo     ReportRepository
	resolver DeploymentResolver
	notifier ReportNotifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReportService creates the service. m may be nil.
func NewReportService(repo ReportRepository, resolver DeploymentResolver, notifier ReportNotifier, m *metrics.Metrics) ReportService {
	return &reportService{repo: repo, resolver: resolver, notifier: notifier, metrics: m, now: time.Now}
}

func (s *reportService) Submit(ctx context.Context, req ReportRequest) (*Report, error) {
	r, errs := buildReport(req)

	d := s.resolve(ctx, r)
	if d != nil {
		r.TagDeploymentID = d.ID
		r.TagCode = d.TagCode
		r.StudyID = d.StudyID
		r.StudyName = d.StudyName
	}

	for field, msg := range validate(r) {
		if _, ok := errs[field]; !ok {
			errs[field] = msg
		}
	}
	if len(errs) > 0 {
		s.metrics.ObserveReport(metrics.OutcomeInvalid)
		return nil, apperror.NewFieldValidation(errs)
	}

	now := s.now().UTC()
	r.ID = uuid.NewString()
	r.Reported = now
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating report: %w", err))
	}

	outcome := metrics.OutcomeUnmatched
	if r.Matched() {
		outcome = metrics.OutcomeMatched
	}
	s.metrics.ObserveReport(outcome)
	slog.Info("report submitted",
		slog.String("report_id", r.ID),
		slog.String("outcome", outcome),
		slog.String("deployment_id", r.TagDeploymentID),
	)

	if err := s.notifier.Notify(ctx, r, d); err != nil {
		return nil, apperror.NewInternal(err)
	}
	return r, nil
}

// resolve prefers the internal tag code. Lookup failures leave the
// report unmatched.
func (s *reportService) resolve(ctx context.Context, r *Report) *tags.Deployment {
	var (
		d   *tags.Deployment
		err error
	)
	switch {
	case r.InputTag != "":
		d, err = s.resolver.ResolveTag(ctx, r.InputTag)
	case r.InputExternalCode != "":
		d, err = s.resolver.MatchCodes(ctx, r.InputExternalCode)
	default:
		return nil
	}
	if err != nil {
		slog.Warn("report code resolution failed",
			slog.String("input_tag", r.InputTag),
			slog.String("input_external_code", r.InputExternalCode),
			slog.Any("error", err),
		)
		return nil
	}
	return d
}

func (s *reportService) Get(ctx context.Context, id string) (*Report, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *reportService) Update(ctx context.Context, id string, patch []byte) (*Report, error) {
	r, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	original, err := json.Marshal(toEditable(r))
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("encoding report: %w", err))
	}
	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, apperror.NewValidation("invalid merge patch")
	}
	var next editable
	if err := json.Unmarshal(merged, &next); err != nil {
		return nil, apperror.NewValidation("invalid report document")
	}

	next.apply(r)
	if errs := validate(r); len(errs) > 0 {
		return nil, apperror.NewFieldValidation(errs)
	}

	r.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, r); err != nil {
		if apperror.IsNotFound(err) {
			return nil, err
		}
		return nil, apperror.NewInternal(fmt.Errorf("updating report: %w", err))
	}
	return r, nil
}

func (s *reportService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if apperror.IsNotFound(err) {
			return err
		}
		return apperror.NewInternal(fmt.Errorf("deleting report: %w", err))
	}
	return nil
}

func (s *reportService) Grid(ctx context.Context, p GridParams) (*GridResponse, error) {
	length := p.Length
	switch {
	case length < 0 || length > maxGridLength:
		length = maxGridLength
	case length == 0:
		length = defaultGridLength
	}
	start := p.Start
	if start < 0 {
		start = 0
	}
	page := start/length + 1

	var column string
	if p.SortCol >= 0 && p.SortCol < len(p.Columns) {
		column = strings.TrimSpace(p.Columns[p.SortCol])
	}

	list, total, err := s.repo.Grid(ctx, GridQuery{
		StudyID: p.StudyID,
		OrderBy: column,
		Dir:     p.SortDir,
		Offset:  (page - 1) * length,
		Limit:   length,
	})
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("loading report grid: %w", err))
	}

	resp := &GridResponse{
		Echo:                p.Echo,
		TotalRecords:        total,
		TotalDisplayRecords: total,
		Data:                make([]GridRow, 0, len(list)),
	}
	for i := range list {
		resp.Data = append(resp.Data, NewGridRow(&list[i]))
	}
	return resp, nil
}

func (s *reportService) Search(ctx context.Context, query string) ([]Report, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	list, err := s.repo.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("searching reports: %w", err))
	}
	return list, nil
}

// buildReport converts form input. Unparseable found dates are dropped
// silently; malformed numbers and coordinates are field errors.
func buildReport(req ReportRequest) (*Report, map[string]string) {
	errs := map[string]string{}
	r := &Report{
		InputTag:          sanitize.Text(req.InputTag),
		InputExternalCode: sanitize.Text(req.InputExternalCode),
		Description:       sanitize.Text(req.Description),
		Method:            sanitize.Text(req.Method),
		Name:              sanitize.Text(req.Name),
		Phone:             sanitize.Text(req.Phone),
		Email:             strings.TrimSpace(req.Email),
		City:              sanitize.Text(req.City),
		State:             sanitize.Text(req.State),
		Fishtype:          sanitize.Text(req.Fishtype),
	}
	if t, ok := ParseFound(req.Found); ok {
		r.Found = &t
	}

	var err error
	if r.Length, err = parseMeasure(req.Length); err != nil {
		errs["length"] = numberMessage
	}
	if r.Weight, err = parseMeasure(req.Weight); err != nil {
		errs["weight"] = numberMessage
	}
	if r.Location, err = geo.ParsePoint(req.Latitude, req.Longitude); err != nil {
		errs["latitude"] = err.Error()
	}
	return r, errs
}

func parseMeasure(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func validate(r *Report) map[string]string {
	errs := map[string]string{}
	if r.InputTag == "" && r.InputExternalCode == "" {
		errs["input_tag"] = MissingTagMessage
	}
	required := map[string]bool{
		"description": r.Description != "",
		"method":      r.Method != "",
		"name":        r.Name != "",
		"email":       r.Email != "",
		"length":      r.Length != nil,
		"weight":      r.Weight != nil,
		"fishtype":    r.Fishtype != "",
		"found":       r.Found != nil,
	}
	for field, present := range required {
		if !present {
			errs[field] = blankMessage
		}
	}
	if r.Email != "" && !auth.ValidEmail(r.Email) {
		errs["email"] = InvalidEmailMessage
	}
	return errs
}

func toEditable(r *Report) editable {
	return editable{
		InputTag:          r.InputTag,
		InputExternalCode: r.InputExternalCode,
		Description:       r.Description,
		Method:            r.Method,
		Name:              r.Name,
		Phone:             r.Phone,
		Email:             r.Email,
		City:              r.City,
		State:             r.State,
		Found:             FormatFound(r.Found),
		Length:            r.Length,
		Weight:            r.Weight,
		Fishtype:          r.Fishtype,
	}
}

func (e editable) apply(r *Report) {
	r.InputTag = sanitize.Text(e.InputTag)
	r.InputExternalCode = sanitize.Text(e.InputExternalCode)
	r.Description = sanitize.Text(e.Description)
	r.Method = sanitize.Text(e.Method)
	r.Name = sanitize.Text(e.Name)
	r.Phone = sanitize.Text(e.Phone)
	r.Email = strings.TrimSpace(e.Email)
	r.City = sanitize.Text(e.City)
	r.State = sanitize.Text(e.State)
	r.Fishtype = sanitize.Text(e.Fishtype)
	r.Length = e.Length
	r.Weight = e.Weight
	r.Found = nil
	if t, ok := ParseFound(e.Found); ok {
		r.Found = &t
	}
}
