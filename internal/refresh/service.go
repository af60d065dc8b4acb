package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"tenant-auth/internal/apperr"
	"tenant-auth/internal/audit"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/metrics"
	"tenant-auth/pkg/logger"
)

var (
	ErrInvalidToken = apperr.New(apperr.KindUnauthorized, "Invalid refresh token")
	ErrExpired      = apperr.New(apperr.KindUnauthorized, "Expired token")
	ErrStore        = apperr.New(apperr.KindInternal, "refresh token store failed")
)

// Owners resolves the identity behind a refresh token and records the
// tokens last issued to it.
type Owners interface {
	Resolve(ctx context.Context, o Owner) (auth.Identity, error)
	RecordIssued(ctx context.Context, o Owner, accessToken, refreshID string) error
}

// AccessIssuer mints access tokens.
type AccessIssuer interface {
	Issue(id auth.Identity) (string, auth.Claims, error)
}

type Options struct {
	TTL time.Duration
	// RevokeTimeout bounds a background revoke.
	RevokeTimeout time.Duration
	Now           func() time.Time
}

type Deps struct {
	Repo     Repository
	Denylist Denylist
	Owners   Owners
	Tokens   AccessIssuer
	Policy   auth.SessionPolicy
	Sessions auth.SessionLookup
	Audit    *audit.Service
}

// Service issues, rotates and revokes refresh tokens.
type Service struct {
	Deps
	ttl           time.Duration
	revokeTimeout time.Duration
	now           func() time.Time

	inflight sync.WaitGroup
}

func NewService(d Deps, opts Options) (*Service, error) {
	if d.Repo == nil || d.Owners == nil || d.Tokens == nil || d.Sessions == nil {
		return nil, errors.New("refresh: repository, owners, tokens and sessions are required")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("refresh: ttl must be > 0")
	}
	if d.Denylist == nil {
		d.Denylist = NopDenylist{}
	}
	if opts.RevokeTimeout <= 0 {
		opts.RevokeTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{Deps: d, ttl: opts.TTL, revokeTimeout: opts.RevokeTimeout, now: opts.Now}, nil
}

// Issued is a stored record plus the raw token handed to the client.
type Issued struct {
	Record Record
	Token  string
}

// Issue gives owner a refresh token bound to sessionID. An existing live
// record is rotated in place rather than duplicated.
func (s *Service) Issue(ctx context.Context, owner Owner, sessionID string) (Issued, error) {
	if err := owner.Validate(); err != nil {
		return Issued{}, err
	}
	raw, err := newTokenValue()
	if err != nil {
		return Issued{}, ErrStore.With(err)
	}
	now := s.now()
	rec, err := s.Repo.Upsert(ctx, Record{
		TokenHash: hashToken(raw),
		Owner:     owner,
		SessionID: sessionID,
		ExpiresAt: now.Add(s.ttl),
	}, now)
	if err != nil {
		return Issued{}, ErrStore.With(err)
	}
	return Issued{Record: rec, Token: raw}, nil
}

// Pair is the result of a successful refresh.
type Pair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}

// Refresh exchanges presented for a new pair bound to the same session.
// Rejections leave every store untouched.
func (s *Service) Refresh(ctx context.Context, presented string) (Pair, error) {
	pair, owner, err := s.refresh(ctx, presented)
	if err != nil {
		reason := refreshRejection(err)
		metrics.Refreshes.WithLabelValues(reason).Inc()
		ev := audit.Event{Type: audit.EventRefreshRejected, Reason: reason}
		if owner != nil {
			ev.Username, ev.TenantID, ev.SessionID = owner.Username, owner.TenantID, owner.SessionID
		}
		s.Audit.Record(ctx, ev)
		if apperr.KindOf(err) == apperr.KindInternal {
			logger.From(ctx).Error("refresh failed", "err", err)
		}
		return Pair{}, err
	}
	metrics.Refreshes.WithLabelValues("ok").Inc()
	s.Audit.Record(ctx, audit.Event{Type: audit.EventRefreshed, Username: owner.Username, TenantID: owner.TenantID, SessionID: owner.SessionID})
	return pair, nil
}

func (s *Service) refresh(ctx context.Context, presented string) (Pair, *auth.Identity, error) {
	if presented == "" {
		return Pair{}, nil, ErrInvalidToken
	}
	hash := hashToken(presented)

	denied, err := s.Denylist.Contains(ctx, hash)
	if err != nil {
		logger.From(ctx).Warn("refresh denylist lookup failed", "err", err)
	} else if denied {
		return Pair{}, nil, ErrExpired
	}

	rec, err := s.Repo.FindByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return Pair{}, nil, ErrInvalidToken
	}
	if err != nil {
		return Pair{}, nil, ErrStore.With(err)
	}
	now := s.now()
	if !rec.Live(now) {
		return Pair{}, nil, ErrExpired
	}
	if err := rec.Owner.Validate(); err != nil {
		return Pair{}, nil, err
	}

	id, err := s.Owners.Resolve(ctx, rec.Owner)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return Pair{}, nil, ErrInvalidToken.With(err)
		}
		return Pair{}, nil, ErrStore.With(err)
	}
	id.SessionID = rec.SessionID

	if err := auth.CheckSession(ctx, s.Policy, s.Sessions, id.TenantID, id.Username, rec.SessionID); err != nil {
		return Pair{}, &id, err
	}

	access, claims, err := s.Tokens.Issue(id)
	if err != nil {
		return Pair{}, &id, err
	}

	raw, err := newTokenValue()
	if err != nil {
		return Pair{}, &id, ErrStore.With(err)
	}
	err = s.Repo.Rotate(ctx, rec.ID, rec.TokenHash, hashToken(raw), now.Add(s.ttl), now)
	if errors.Is(err, ErrConflict) {
		// Lost the race against another refresh or a revoke.
		return Pair{}, &id, ErrInvalidToken.With(err)
	}
	if err != nil {
		return Pair{}, &id, ErrStore.With(err)
	}

	if err := s.Owners.RecordIssued(ctx, rec.Owner, access, rec.ID); err != nil {
		logger.From(ctx).Warn("record issued tokens failed", "owner", rec.Owner.String(), "err", err)
	}
	return Pair{AccessToken: access, RefreshToken: raw, AccessExpiresAt: claims.ExpiresAt.Time}, &id, nil
}

// Revoke marks owner's token revoked and best-effort denylists it for the
// rest of its lifetime. Unknown tokens and tokens held by another owner are
// both ErrInvalidToken and are left untouched.
func (s *Service) Revoke(ctx context.Context, owner Owner, presented string) error {
	hash := hashToken(presented)
	now := s.now()
	rec, err := s.Repo.Revoke(ctx, hash, owner, now)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return ErrStore.With(err)
	}
	if err := s.Denylist.Add(ctx, hash, rec.ExpiresAt.Sub(now)); err != nil {
		logger.From(ctx).Warn("refresh denylist write failed", "err", err)
	}
	return nil
}

// RevokeAsync runs Revoke in the background, detached from ctx cancellation.
func (s *Service) RevokeAsync(ctx context.Context, owner Owner, presented string) {
	if presented == "" {
		return
	}
	bg := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		rctx, cancel := context.WithTimeout(bg, s.revokeTimeout)
		defer cancel()
		if err := s.Revoke(rctx, owner, presented); err != nil && !errors.Is(err, ErrInvalidToken) {
			logger.From(rctx).Error("async refresh revoke failed", "err", err)
		}
	}()
}

// Wait blocks until background revokes finish.
func (s *Service) Wait() { s.inflight.Wait() }

func refreshRejection(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, auth.ErrSessionSuperseded):
		return "session_superseded"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	default:
		return "internal"
	}
}
