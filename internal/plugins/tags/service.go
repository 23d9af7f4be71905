package tags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gnames/gnparser"
	"github.com/google/uuid"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/geo"
	"github.com/asascience/matos/internal/sanitize"
)

const (
	deploymentsPerPage = 50
	searchLimit        = 100
)

// TagService is the registry contract used by handlers, report intake and
// the bulk tag parser.
type TagService interface {
	CreateDeployment(ctx context.Context, studyID string, in DeploymentInput) (*Deployment, error)
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	DeleteDeployment(ctx context.Context, id string) error
	ListDeployments(ctx context.Context, studyID string, page int) ([]Deployment, int, error)
	SearchDeployments(ctx context.Context, studyID, query string) ([]Deployment, error)

	// MatchCodes resolves comma-separated external or sensor codes to the
	// first matching deployment, or nil.
	MatchCodes(ctx context.Context, input string) (*Deployment, error)
	// ResolveTag resolves registry tag codes to the first matching tag's
	// active deployment, or nil.
	ResolveTag(ctx context.Context, input string) (*Deployment, error)

	// HitsGeoJSON renders a deployment's detections as a FeatureCollection.
	HitsGeoJSON(ctx context.Context, deploymentID string) ([]byte, error)

	// TagDeployments lists every release of the tag with the given code,
	// or nil when the code is not registered.
	TagDeployments(ctx context.Context, code string) ([]Deployment, error)

	PurgeSubmission(ctx context.Context, submissionID string) (int64, error)
	// PurgeStudy removes the study's deployments other than the ones just
	// loaded by keepSubmissionID.
	PurgeStudy(ctx context.Context, studyID, keepSubmissionID string) (int64, error)
}

type tagService struct {
	repo TagRepository

	// gnparser instances are not safe for concurrent use.
	parserMu sync.Mutex
	parser   gnparser.GNparser
}

// NewTagService wires the service.
func NewTagService(repo TagRepository) TagService {
	return &tagService{
		repo:   repo,
		parser: gnparser.New(gnparser.NewConfig()),
	}
}

// ParseDeploymentRequest converts form strings into a DeploymentInput,
// collecting every field error.
func ParseDeploymentRequest(req CreateDeploymentRequest) (DeploymentInput, map[string]string) {
	errs := make(map[string]string)
	in := DeploymentInput{
		TagCode:         strings.TrimSpace(req.TagCode),
		TagModel:        strings.TrimSpace(req.TagModel),
		TagSerial:       strings.TrimSpace(req.TagSerial),
		Tagger:          req.Tagger,
		CommonName:      req.CommonName,
		ScientificName:  req.ScientificName,
		CaptureLocation: req.CaptureLocation,
		Sex:             req.Sex,
		ImplantType:     req.ImplantType,
		Description:     req.Description,
		ReleaseGroup:    req.ReleaseGroup,
		ReleaseLocation: req.ReleaseLocation,
		ExternalCodes:   ParseCodeSet(req.ExternalCodes),
		SensorCodes:     ParseCodeSet(req.SensorCodes),
		Reward:          req.Reward,
	}

	var err error
	if in.CaptureGeo, err = geo.ParsePoint(req.CaptureLat, req.CaptureLon); err != nil {
		errs["capture_geo"] = err.Error()
	}
	if in.ReleaseGeo, err = geo.ParsePoint(req.ReleaseLat, req.ReleaseLon); err != nil {
		errs["release_geo"] = err.Error()
	}
	if in.CaptureDate, err = parseOptionalDate(req.CaptureDate); err != nil {
		errs["capture_date"] = err.Error()
	}
	if in.ReleaseDate, err = parseOptionalDate(req.ReleaseDate); err != nil {
		errs["release_date"] = err.Error()
	}
	if in.Length, err = parseOptionalFloat(req.Length); err != nil {
		errs["length"] = err.Error()
	}
	if in.Weight, err = parseOptionalFloat(req.Weight); err != nil {
		errs["weight"] = err.Error()
	}
	return in, errs
}

func parseOptionalDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("must be a date (YYYY-MM-DD)")
	}
	return &t, nil
}

func parseOptionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("must be a number")
	}
	return &f, nil
}

func (s *tagService) CreateDeployment(ctx context.Context, studyID string, in DeploymentInput) (*Deployment, error) {
	errs := make(map[string]string)
	if in.TagCode == "" {
		errs["tag_code"] = "can't be blank"
	}
	if in.ReleaseDate == nil {
		errs["release_date"] = "can't be blank"
	}
	if len(errs) > 0 {
		return nil, apperror.NewFieldValidation(errs)
	}

	now := time.Now().UTC()
	tag := &Tag{
		ID:        uuid.NewString(),
		Code:      in.TagCode,
		StudyID:   studyID,
		Model:     in.TagModel,
		Serial:    in.TagSerial,
		CreatedAt: now,
	}
	d := &Deployment{
		ID:              uuid.NewString(),
		StudyID:         studyID,
		SubmissionID:    in.SubmissionID,
		Tagger:          sanitize.Text(in.Tagger),
		CommonName:      strings.ToLower(sanitize.Text(in.CommonName)),
		ScientificName:  s.canonicalName(in.ScientificName),
		CaptureLocation: sanitize.Text(in.CaptureLocation),
		CaptureGeo:      in.CaptureGeo,
		CaptureDate:     in.CaptureDate,
		CaptureDepth:    in.CaptureDepth,
		WildOrHatchery:  sanitize.Text(in.WildOrHatchery),
		Stock:           sanitize.Text(in.Stock),
		Length:          in.Length,
		LengthType:      sanitize.Text(in.LengthType),
		Weight:          in.Weight,
		Age:             sanitize.Text(in.Age),
		Sex:             sanitize.Text(in.Sex),
		DNASampleTaken:  in.DNASampleTaken,
		SurgeryLocation: sanitize.Text(in.SurgeryLocation),
		SurgeryGeo:      in.SurgeryGeo,
		SurgeryDate:     in.SurgeryDate,
		ImplantType:     strings.ToLower(sanitize.Text(in.ImplantType)),
		Description:     sanitize.Text(in.Description),
		ReleaseGroup:    sanitize.Text(in.ReleaseGroup),
		ReleaseLocation: sanitize.Text(in.ReleaseLocation),
		ReleaseGeo:      in.ReleaseGeo,
		ReleaseDate:     in.ReleaseDate.UTC(),
		ExternalCodes:   in.ExternalCodes,
		SensorCodes:     in.SensorCodes,
		Reward:          sanitize.Text(in.Reward),
		CreatedAt:       now,
	}

	if err := s.repo.CreateDeployment(ctx, tag, d); err != nil {
		return nil, err
	}
	slog.Info("deployment created",
		slog.String("deployment_id", d.ID),
		slog.String("tag", tag.Code),
		slog.Bool("active", tag.ActiveDeploymentID == d.ID),
	)
	return d, nil
}

// canonicalName reduces a scientific name to its simple canonical form,
// lowercased. Unparseable names are kept as typed, lowercased.
func (s *tagService) canonicalName(name string) string {
	name = sanitize.Text(name)
	if name == "" {
		return ""
	}
	s.parserMu.Lock()
	p := s.parser.ParseName(name)
	s.parserMu.Unlock()
	if p.Parsed && p.Canonical != nil && p.Canonical.Simple != "" {
		return strings.ToLower(p.Canonical.Simple)
	}
	return strings.ToLower(name)
}

func (s *tagService) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	return s.repo.FindDeployment(ctx, id)
}

func (s *tagService) DeleteDeployment(ctx context.Context, id string) error {
	return s.repo.DeleteDeployment(ctx, id)
}

func (s *tagService) ListDeployments(ctx context.Context, studyID string, page int) ([]Deployment, int, error) {
	if page < 1 {
		page = 1
	}
	return s.repo.ListDeployments(ctx, studyID, (page-1)*deploymentsPerPage, deploymentsPerPage)
}

func (s *tagService) SearchDeployments(ctx context.Context, studyID, query string) ([]Deployment, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return s.repo.SearchDeployments(ctx, studyID, query, searchLimit)
}

func (s *tagService) MatchCodes(ctx context.Context, input string) (*Deployment, error) {
	id, err := FirstMatch(ctx, s.repo, SplitCandidates(input))
	if err != nil || id == "" {
		return nil, err
	}
	return s.repo.FindDeployment(ctx, id)
}

func (s *tagService) ResolveTag(ctx context.Context, input string) (*Deployment, error) {
	found, err := s.repo.TagsByCode(ctx, SplitCandidates(input))
	if err != nil || len(found) == 0 {
		return nil, err
	}
	if found[0].ActiveDeploymentID == "" {
		return nil, nil
	}
	return s.repo.FindDeployment(ctx, found[0].ActiveDeploymentID)
}

func (s *tagService) TagDeployments(ctx context.Context, code string) ([]Deployment, error) {
	found, err := s.repo.TagsByCode(ctx, []string{strings.TrimSpace(code)})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return s.repo.DeploymentsByTag(ctx, found[0].ID)
}

func (s *tagService) HitsGeoJSON(ctx context.Context, deploymentID string) ([]byte, error) {
	hits, err := s.repo.Hits(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	features := make([]geo.Feature, 0, len(hits))
	for _, h := range hits {
		props := map[string]any{
			"time":            h.Time.UTC().Format(time.RFC3339),
			"station":         h.Station,
			"receiver_model":  h.ReceiverModel,
			"receiver_serial": h.ReceiverSerial,
		}
		if h.Depth != nil {
			props["depth"] = *h.Depth
		}
		features = append(features, geo.Feature{ID: h.ID, Point: h.Point, Properties: props})
	}
	return geo.EncodeFeatureCollection(features)
}

func (s *tagService) PurgeSubmission(ctx context.Context, submissionID string) (int64, error) {
	return s.repo.DeleteDeploymentsBySubmission(ctx, submissionID)
}

func (s *tagService) PurgeStudy(ctx context.Context, studyID, keepSubmissionID string) (int64, error) {
	if keepSubmissionID == "" {
		return 0, errors.New("purging a study needs the submission to keep")
	}
	return s.repo.DeleteDeploymentsByStudy(ctx, studyID, keepSubmissionID)
}
