package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"tenant-auth/internal/apperr"
	"tenant-auth/internal/metrics"
	"tenant-auth/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	// PrincipalKey is the gin context key holding the Principal.
	PrincipalKey = "principal"
)

var (
	ErrMissingBearer     = apperr.New(apperr.KindUnauthorized, "Missing or invalid Authorization header")
	ErrMissingTenant     = apperr.New(apperr.KindBadRequest, "Client ID is missing in token")
	ErrSessionSuperseded = apperr.New(apperr.KindUnauthorized, "Session expired or logged in elsewhere")
	ErrSessionLookup     = apperr.New(apperr.KindInternal, "session lookup failed")
)

type Verifier interface {
	Verify(ctx context.Context, tok string) (Claims, error)
}

// SessionPolicy decides whether single-active-session enforcement applies.
type SessionPolicy interface {
	Enforce(tenantID *int64, username string) bool
}

// SessionLookup reads the active session id of a username.
type SessionLookup interface {
	GetActive(ctx context.Context, username string) (sessionID string, ok bool, err error)
}

// CheckSession fails with ErrSessionSuperseded when enforcement applies and
// sid is not the active session of username.
func CheckSession(ctx context.Context, policy SessionPolicy, sessions SessionLookup, tenantID *int64, username, sid string) error {
	if policy == nil || !policy.Enforce(tenantID, username) {
		return nil
	}
	active, ok, err := sessions.GetActive(ctx, username)
	if err != nil {
		return ErrSessionLookup.With(err)
	}
	if !ok || sid == "" || active != sid {
		return ErrSessionSuperseded
	}
	return nil
}

// Authenticator turns a bearer credential into a Principal.
type Authenticator struct {
	tokens   Verifier
	policy   SessionPolicy
	sessions SessionLookup
}

func NewAuthenticator(tokens Verifier, policy SessionPolicy, sessions SessionLookup) *Authenticator {
	return &Authenticator{tokens: tokens, policy: policy, sessions: sessions}
}

// Authenticate validates the Authorization header value, the claims shape and
// the session binding.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (Principal, error) {
	raw := strings.TrimSpace(header)
	if !strings.HasPrefix(raw, bearerPrefix) {
		return Principal{}, ErrMissingBearer
	}
	tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
	if tok == "" {
		return Principal{}, ErrMissingBearer
	}

	claims, err := a.tokens.Verify(ctx, tok)
	if err != nil {
		return Principal{}, err
	}

	roles := NormalizeRoles(claims.Roles)
	if len(roles) == 0 {
		return Principal{}, ErrInvalidToken
	}
	p := Principal{
		Username:   claims.Subject,
		TenantID:   claims.TenantID,
		IdentityID: claims.IdentityID,
		Roles:      roles,
		SessionID:  claims.SessionID,
	}
	if !p.IsSuperAdmin() && p.TenantID == nil {
		return Principal{}, ErrMissingTenant
	}

	if err := CheckSession(ctx, a.policy, a.sessions, p.TenantID, p.Username, p.SessionID); err != nil {
		return Principal{}, err
	}

	p.Authorities = ExpandRoles(p.Roles)
	return p, nil
}

// Middleware authenticates every request except OPTIONS and public paths.
// The principal and tenant scope live only on the request context handed to
// downstream handlers; the original request is restored on the way out.
func (a *Authenticator) Middleware(public *PublicPaths) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || public.Match(c.Request.URL.Path) {
			c.Next()
			return
		}

		orig := c.Request
		defer func() { c.Request = orig }()

		ctx := orig.Context()
		p, err := a.Authenticate(ctx, c.GetHeader(authorizationHeader))
		if err != nil {
			reject(ctx, c, err)
			return
		}
		scope, err := scopeFor(p)
		if err != nil {
			reject(ctx, c, err)
			return
		}

		ctx = WithTenantScope(WithPrincipal(ctx, p), scope)
		c.Request = orig.WithContext(logger.With(ctx, logger.From(ctx).With("username", p.Username)))
		c.Set(PrincipalKey, p)
		logger.SetUser(c, p.Username)

		c.Next()
	}
}

// FromGin returns the principal set by the middleware.
func FromGin(c *gin.Context) (Principal, bool) {
	if v, ok := c.Get(PrincipalKey); ok {
		p, ok := v.(Principal)
		return p, ok
	}
	return PrincipalFrom(c.Request.Context())
}

func reject(ctx context.Context, c *gin.Context, err error) {
	reason := rejectionReason(err)
	metrics.GateRejections.WithLabelValues(reason).Inc()
	l := logger.From(ctx)
	if apperr.KindOf(err) == apperr.KindInternal {
		l.Error("authentication failed", "reason", reason, "err", err)
	} else {
		l.Info("request rejected", "reason", reason, "path", c.Request.URL.Path)
	}
	apperr.Abort(c, err)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingBearer):
		return "missing_bearer"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrMissingTenant):
		return "missing_tenant"
	case errors.Is(err, ErrSessionSuperseded):
		return "session_superseded"
	default:
		return "internal"
	}
}
