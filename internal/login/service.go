package login

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"tenant-auth/internal/account"
	"tenant-auth/internal/apperr"
	"tenant-auth/internal/audit"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/rbac"
	"tenant-auth/internal/refresh"
	"tenant-auth/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrBadCredentials = apperr.New(apperr.KindUnauthorized, "Invalid username or password")
	ErrWrongTenant    = apperr.New(apperr.KindForbidden, "User does not belong to this client")
	ErrMissingFields  = apperr.New(apperr.KindBadRequest, "Username and password are required")
	ErrRoleNotAllowed = apperr.New(apperr.KindForbidden, "Not allowed to assign this role")
)

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) (bool, error)
}

// Sessions is the part of the session registry login writes to.
type Sessions interface {
	SetActive(ctx context.Context, username, sessionID string) error
	ClearIf(ctx context.Context, username, sessionID string) (bool, error)
}

type Deps struct {
	Accounts account.Directory
	Hasher   PasswordHasher
	Sessions Sessions
	Refresh  *refresh.Service
	Tokens   refresh.AccessIssuer
	Audit    *audit.Service
	// Limiter is optional.
	Limiter *Limiter
}

// Service orchestrates login, registration and logout.
type Service struct {
	Deps
	stripes [64]sync.Mutex
}

func NewService(d Deps) (*Service, error) {
	if d.Accounts == nil || d.Hasher == nil || d.Sessions == nil || d.Refresh == nil || d.Tokens == nil {
		return nil, errors.New("login: accounts, hasher, sessions, refresh and tokens are required")
	}
	return &Service{Deps: d}, nil
}

type Credentials struct {
	Kind     refresh.OwnerKind
	Username string
	Password string
	// TenantID, when set on a user login, must match the user's tenant.
	TenantID *int64
	IP       string
}

// Result is what a successful login hands back.
type Result struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	SessionID       string
	Account         account.Account
}

// Login verifies credentials and starts a new session, superseding any
// previous session of the same username.
func (s *Service) Login(ctx context.Context, cr Credentials) (Result, error) {
	cr.Username = strings.TrimSpace(cr.Username)
	if cr.Username == "" || cr.Password == "" {
		return Result{}, ErrMissingFields
	}
	limitKey := string(cr.Kind) + "|" + strings.ToLower(cr.Username) + "|" + cr.IP
	if !s.Limiter.Allow(limitKey) {
		s.failed(ctx, cr, "rate_limited")
		return Result{}, ErrTooManyAttempts
	}

	acct, err := s.Accounts.FindByUsername(ctx, cr.Username)
	if errors.Is(err, account.ErrNotFound) || (err == nil && acct.Kind != cr.Kind) {
		s.failed(ctx, cr, "unknown_account")
		return Result{}, ErrBadCredentials
	}
	if err != nil {
		return Result{}, err
	}
	ok, err := s.Hasher.Verify(acct.PasswordHash, cr.Password)
	if err != nil {
		logger.From(ctx).Warn("password verify failed", "username", cr.Username, "err", err)
	}
	if !ok {
		s.failed(ctx, cr, "bad_password")
		return Result{}, ErrBadCredentials
	}
	if acct.Kind == refresh.OwnerUser && cr.TenantID != nil && (acct.TenantID == nil || *acct.TenantID != *cr.TenantID) {
		s.failed(ctx, cr, "wrong_tenant")
		return Result{}, ErrWrongTenant
	}

	res, err := s.startSession(ctx, acct)
	if err != nil {
		return Result{}, err
	}
	s.Limiter.Reset(limitKey)
	s.Audit.Record(ctx, audit.Event{
		Type:      audit.EventLoginSucceeded,
		Username:  acct.Username,
		TenantID:  acct.Tenant(),
		IPAddress: cr.IP,
		SessionID: res.SessionID,
	})
	return res, nil
}

// startSession allocates a session id, issues the token pair bound to it and
// then makes it active. The active session is switched last so a failed
// issuance leaves the previous device logged in. Logins for one username are
// serialized within the process so the active session and the live refresh
// record agree.
func (s *Service) startSession(ctx context.Context, acct account.Account) (Result, error) {
	mu := s.stripe(acct.Username)
	mu.Lock()
	defer mu.Unlock()

	sid := uuid.NewString()
	access, claims, err := s.Tokens.Issue(acct.Identity(sid))
	if err != nil {
		return Result{}, err
	}
	issued, err := s.Refresh.Issue(ctx, acct.Owner(), sid)
	if err != nil {
		return Result{}, err
	}
	if err := s.Sessions.SetActive(ctx, acct.Username, sid); err != nil {
		return Result{}, err
	}
	if err := s.Accounts.RecordIssued(ctx, acct.Owner(), access, issued.Record.ID); err != nil {
		logger.From(ctx).Warn("record issued tokens failed", "username", acct.Username, "err", err)
	}
	return Result{
		AccessToken:     access,
		RefreshToken:    issued.Token,
		AccessExpiresAt: claims.ExpiresAt.Time,
		SessionID:       sid,
		Account:         acct,
	}, nil
}

func (s *Service) stripe(username string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

func (s *Service) failed(ctx context.Context, cr Credentials, reason string) {
	s.Audit.Record(ctx, audit.Event{
		Type:      audit.EventLoginFailed,
		Username:  cr.Username,
		IPAddress: cr.IP,
		Reason:    reason,
	})
}

type Registration struct {
	Kind     refresh.OwnerKind
	Username string
	Password string
	// TenantID and Role apply to tenant users only.
	TenantID *int64
	Role     string
}

// Register creates an account. Tenant users can only be created by a caller
// of the same tenant or a super-admin, and only tenant owners may mint
// tenant admins.
func (s *Service) Register(ctx context.Context, r Registration) (account.Account, error) {
	r.Username = strings.TrimSpace(r.Username)
	if r.Username == "" || r.Password == "" {
		return account.Account{}, ErrMissingFields
	}
	var actor string
	if r.Kind == refresh.OwnerUser {
		if r.TenantID == nil {
			return account.Account{}, account.ErrInvalid
		}
		if err := rbac.RequireSameTenantOrSuper(ctx, *r.TenantID); err != nil {
			return account.Account{}, err
		}
		if r.Role == auth.RoleAdmin {
			if err := rbac.HasAnyAuthority(ctx, auth.RoleClient); err != nil {
				return account.Account{}, ErrRoleNotAllowed
			}
		}
		p, _ := auth.PrincipalFrom(ctx)
		actor = p.Username
	} else {
		r.TenantID, r.Role = nil, ""
	}

	hash, err := s.Hasher.Hash(r.Password)
	if err != nil {
		return account.Account{}, apperr.Wrap(apperr.KindInternal, "password hashing failed", err)
	}
	acct, err := s.Accounts.Create(ctx, account.Account{
		Kind:         r.Kind,
		Username:     r.Username,
		PasswordHash: hash,
		TenantID:     r.TenantID,
		Role:         r.Role,
	})
	if err != nil {
		return account.Account{}, err
	}
	s.Audit.Record(ctx, audit.Event{
		Type:          audit.EventRegistered,
		Username:      acct.Username,
		TenantID:      acct.Tenant(),
		ActorUsername: actor,
	})
	return acct, nil
}

// Logout ends the caller's session if it is still the active one and revokes
// refreshToken in the background. Only a token the caller owns is revoked.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return rbac.ErrUnauthenticated
	}
	cleared, err := s.Sessions.ClearIf(ctx, p.Username, p.SessionID)
	if err != nil {
		return err
	}
	if owner, ok := account.OwnerOf(p); ok {
		s.Refresh.RevokeAsync(ctx, owner, refreshToken)
	} else if refreshToken != "" {
		logger.From(ctx).Warn("logout: principal has no refresh owner; token not revoked", "username", p.Username)
	}
	ev := audit.Event{Type: audit.EventLogout, Username: p.Username, TenantID: p.TenantID, SessionID: p.SessionID}
	if !cleared {
		ev.Reason = "session_already_replaced"
	}
	s.Audit.Record(ctx, ev)
	return nil
}
