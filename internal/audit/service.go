package audit

import (
	"context"
	"errors"
	"time"

	"tenant-auth/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records auth events. Callers treat it as best-effort: Record never
// returns an error, it logs instead.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends e and logs any failure. A nil Service is a no-op.
func (s *Service) Record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", e.Type, "err", err)
	}
}
