package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"tenant-auth/internal/apperr"
	"tenant-auth/internal/metrics"
	"tenant-auth/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidToken covers malformed, forged, expired and unverifiable
	// tokens alike. The distinction only reaches the logs.
	ErrInvalidToken = apperr.New(apperr.KindUnauthorized, "Invalid or expired token")

	ErrInvalidIdentity = apperr.New(apperr.KindInternal, "cannot issue token for malformed identity")
)

const (
	clockSkew     = 30 * time.Second
	claimsMemoTTL = 30 * time.Second
)

// KeySource supplies signing and verification secrets.
type KeySource interface {
	CurrentSecret() []byte
	VerificationKeys() (current []byte, retired [][]byte)
}

// Identity is what an access token is issued for.
type Identity struct {
	Username   string
	TenantID   *int64
	IdentityID *int64
	Roles      []string
	SessionID  string
}

type TokenOptions struct {
	Issuer    string
	AccessTTL time.Duration
	Now       func() time.Time
}

// Tokens issues and verifies HS256 access tokens.
type Tokens struct {
	keys      KeySource
	issuer    string
	accessTTL time.Duration
	now       func() time.Time

	memo  *gocache.Cache
	group singleflight.Group
}

func NewTokens(keys KeySource, opts TokenOptions) (*Tokens, error) {
	if keys == nil {
		return nil, errors.New("auth: key source is required")
	}
	if opts.AccessTTL <= 0 {
		return nil, errors.New("auth: access ttl must be > 0")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tokens{
		keys:      keys,
		issuer:    opts.Issuer,
		accessTTL: opts.AccessTTL,
		now:       opts.Now,
		memo:      gocache.New(claimsMemoTTL, time.Minute),
	}, nil
}

func (t *Tokens) AccessTTL() time.Duration { return t.accessTTL }

/* ===================== ISSUE ===================== */

// Issue signs an access token with the current secret. Claim shape follows
// the role: a super-admin carries no tenant, a client carries no identity id,
// tenant admins and users carry both.
func (t *Tokens) Issue(id Identity) (string, Claims, error) {
	roles := NormalizeRoles(id.Roles)
	if id.Username == "" || len(roles) == 0 {
		return "", Claims{}, ErrInvalidIdentity
	}

	tenantID, identityID := id.TenantID, id.IdentityID
	switch {
	case hasRole(roles, RoleSuperAdmin):
		tenantID = nil
	case hasRole(roles, RoleClient):
		identityID = nil
		if tenantID == nil {
			return "", Claims{}, ErrInvalidIdentity
		}
	default:
		if tenantID == nil || identityID == nil {
			return "", Claims{}, ErrInvalidIdentity
		}
	}

	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
		TenantID:   tenantID,
		IdentityID: identityID,
		Roles:      roles,
		SessionID:  id.SessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.keys.CurrentSecret())
	if err != nil {
		return "", Claims{}, ErrInvalidIdentity.With(err)
	}
	return signed, claims, nil
}

/* ===================== VERIFY ===================== */

// Verify checks tok against the current secret, then each retired secret
// newest first. Every failure is ErrInvalidToken.
func (t *Tokens) Verify(ctx context.Context, tok string) (Claims, error) {
	if tok == "" {
		return Claims{}, ErrInvalidToken
	}
	key := memoKey(tok)

	if v, ok := t.memo.Get(key); ok {
		e := v.(memoEntry)
		if t.stillValid(e) {
			metrics.TokenVerifications.WithLabelValues("cached").Inc()
			return e.claims, nil
		}
		t.memo.Delete(key)
	}

	v, err, _ := t.group.Do(key, func() (any, error) {
		c, secret, cause, err := t.verify(tok)
		metrics.TokenVerifications.WithLabelValues(cause).Inc()
		if err != nil {
			logger.From(ctx).Debug("access token rejected", "cause", cause, "err", err)
			return Claims{}, ErrInvalidToken.With(err)
		}
		ttl := c.ExpiresAt.Time.Sub(t.now())
		if ttl > claimsMemoTTL {
			ttl = claimsMemoTTL
		}
		if ttl > 0 {
			t.memo.Set(key, memoEntry{claims: c, secret: secret}, ttl)
		}
		return c, nil
	})
	if err != nil {
		return Claims{}, err
	}
	return v.(Claims), nil
}

func (t *Tokens) verify(tok string) (Claims, []byte, string, error) {
	current, retired := t.keys.VerificationKeys()

	c, err := t.parse(tok, current)
	if err == nil {
		return c, current, "ok", nil
	}
	if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return Claims{}, nil, cause(err), err
	}
	for _, k := range retired {
		c, rerr := t.parse(tok, k)
		if rerr == nil {
			return c, k, "retired_key", nil
		}
		if !errors.Is(rerr, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, nil, cause(rerr), rerr
		}
	}
	return Claims{}, nil, "no_key", err
}

// memoEntry remembers which secret verified the claims so a memo hit is
// dropped once that secret leaves the keyring.
type memoEntry struct {
	claims Claims
	secret []byte
}

func (t *Tokens) stillValid(e memoEntry) bool {
	if e.claims.ExpiresAt == nil || !t.now().Before(e.claims.ExpiresAt.Add(clockSkew)) {
		return false
	}
	current, retired := t.keys.VerificationKeys()
	if bytes.Equal(current, e.secret) {
		return true
	}
	for _, k := range retired {
		if bytes.Equal(k, e.secret) {
			return true
		}
	}
	return false
}

func (t *Tokens) parse(tok string, secret []byte) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("subject missing")
	}
	return claims, nil
}

func cause(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return "invalid_claims"
	}
}

func memoKey(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}
