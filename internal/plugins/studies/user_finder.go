package studies

import (
	"context"

	"github.com/asascience/matos/internal/plugins/auth"
)

// UserFinder resolves accounts when adding collaborators.
type UserFinder interface {
	FindUserByEmail(ctx context.Context, email string) (*MemberUser, error)
}

// UserFinderAdapter satisfies UserFinder with the auth repository so the
// rest of this package stays free of auth types.
type UserFinderAdapter struct {
	repo auth.UserRepository
}

// NewUserFinderAdapter wraps repo.
func NewUserFinderAdapter(repo auth.UserRepository) UserFinder {
	return &UserFinderAdapter{repo: repo}
}

// FindUserByEmail returns only approved accounts; pending ones are
// reported as not found.
func (a *UserFinderAdapter) FindUserByEmail(ctx context.Context, email string) (*MemberUser, error) {
	u, err := a.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if !u.Approved {
		return nil, nil
	}
	return &MemberUser{ID: u.ID, Email: u.Email, Name: u.Name}, nil
}
