package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/asascience/matos/internal/apperror"
)

const perPage = 50

// AuditService validates and stores audit entries.
type AuditService interface {
	// Log persists entry and returns any failure.
	Log(ctx context.Context, entry *Entry) error

	// Record is Log for callers that must not fail because auditing did;
	// errors are logged and dropped.
	Record(ctx context.Context, entry Entry)

	// List returns one page (1-indexed) of entries and the total count.
	List(ctx context.Context, f Filter, page int) ([]Entry, int, error)
}

type auditService struct {
	repo AuditRepository
}

// NewAuditService creates the service.
func NewAuditService(repo AuditRepository) AuditService {
	return &auditService{repo: repo}
}

func (s *auditService) Log(ctx context.Context, entry *Entry) error {
	if entry.Action == "" {
		return apperror.NewBadRequest("action is required for audit entry")
	}
	if err := s.repo.Log(ctx, entry); err != nil {
		return apperror.NewInternal(fmt.Errorf("writing audit entry: %w", err))
	}
	return nil
}

func (s *auditService) Record(ctx context.Context, entry Entry) {
	if err := s.Log(ctx, &entry); err != nil {
		slog.Error("failed to write audit entry",
			slog.String("action", entry.Action),
			slog.String("resource_id", entry.ResourceID),
			slog.Any("error", err),
		)
	}
}

func (s *auditService) List(ctx context.Context, f Filter, page int) ([]Entry, int, error) {
	if page < 1 {
		page = 1
	}
	entries, total, err := s.repo.List(ctx, f, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, apperror.NewInternal(fmt.Errorf("listing audit entries: %w", err))
	}
	return entries, total, nil
}
