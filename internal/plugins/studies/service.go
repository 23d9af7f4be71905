package studies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/policy"
	"github.com/asascience/matos/internal/sanitize"
)

const maxStudyNameLen = 200

// StudyService is the contract used by handlers, middleware and the
// tag and submission plugins.
type StudyService interface {
	Create(ctx context.Context, actor policy.Actor, req CreateStudyRequest) (*Study, error)
	GetByID(ctx context.Context, id string) (*Study, error)
	// Load returns the study with its collaborators for a policy check.
	Load(ctx context.Context, id string) (*StudyContext, error)
	List(ctx context.Context, actor policy.Actor) ([]Study, error)

	AddCollaborator(ctx context.Context, studyID string, req AddCollaboratorRequest) (*Collaborator, error)
	RemoveCollaborator(ctx context.Context, studyID, userID string) error

	// OwnerEmail is the address notified about a study's tag reports.
	OwnerEmail(ctx context.Context, studyID string) (string, error)
}

type studyService struct {
	repo     StudyRepository
	users    UserFinder
	enforcer *policy.Enforcer
}

// NewStudyService wires the service.
func NewStudyService(repo StudyRepository, users UserFinder, enforcer *policy.Enforcer) StudyService {
	return &studyService{repo: repo, users: users, enforcer: enforcer}
}

func (s *studyService) Create(ctx context.Context, actor policy.Actor, req CreateStudyRequest) (*Study, error) {
	if err := s.enforcer.Authorize(policy.Create, policy.Study, actor, policy.Global); err != nil {
		return nil, err
	}

	name := sanitize.Text(req.Name)
	switch {
	case name == "":
		return nil, apperror.NewFieldValidation(map[string]string{"name": "can't be blank"})
	case len(name) > maxStudyNameLen:
		return nil, apperror.NewFieldValidation(map[string]string{"name": fmt.Sprintf("is too long (max %d)", maxStudyNameLen)})
	}

	study := &Study{
		ID:          uuid.NewString(),
		Name:        name,
		Description: sanitize.HTML(strings.TrimSpace(req.Description)),
		OwnerID:     actor.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, study); err != nil {
		return nil, err
	}
	return study, nil
}

func (s *studyService) GetByID(ctx context.Context, id string) (*Study, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *studyService) Load(ctx context.Context, id string) (*StudyContext, error) {
	study, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	collabs, err := s.repo.ListCollaborators(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StudyContext{Study: study, Collaborators: collabs}, nil
}

func (s *studyService) List(ctx context.Context, actor policy.Actor) ([]Study, error) {
	if actor.ID == "" {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	return s.repo.ListVisible(ctx, actor.ID, actor.IsAdmin())
}

func (s *studyService) AddCollaborator(ctx context.Context, studyID string, req AddCollaboratorRequest) (*Collaborator, error) {
	role := CollaboratorRole(strings.ToLower(strings.TrimSpace(req.Role)))
	if role == "" {
		role = CollaboratorRead
	}
	if !role.Valid() {
		return nil, apperror.NewFieldValidation(map[string]string{"role": "must be read or manage"})
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, apperror.NewFieldValidation(map[string]string{"email": "can't be blank"})
	}

	study, err := s.repo.FindByID(ctx, studyID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil && !apperror.IsNotFound(err) {
		return nil, err
	}
	if user == nil {
		return nil, apperror.NewFieldValidation(map[string]string{"email": "no approved account with that email"})
	}
	if user.ID == study.OwnerID {
		return nil, apperror.NewFieldValidation(map[string]string{"email": "is the study owner"})
	}

	c := &Collaborator{
		StudyID:   studyID,
		UserID:    user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.UpsertCollaborator(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *studyService) RemoveCollaborator(ctx context.Context, studyID, userID string) error {
	return s.repo.RemoveCollaborator(ctx, studyID, userID)
}

func (s *studyService) OwnerEmail(ctx context.Context, studyID string) (string, error) {
	return s.repo.OwnerEmail(ctx, studyID)
}
