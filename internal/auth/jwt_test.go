package auth

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tenant-auth/internal/keys"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type staticKeys struct {
	current []byte
	retired [][]byte
}

func (k staticKeys) CurrentSecret() []byte { return k.current }
func (k staticKeys) VerificationKeys() ([]byte, [][]byte) {
	return k.current, k.retired
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func i64(v int64) *int64 { return &v }

func newTokens(t *testing.T, ks KeySource, clk *testClock, ttl time.Duration) *Tokens {
	t.Helper()
	tk, err := NewTokens(ks, TokenOptions{Issuer: "tenant-auth", AccessTTL: ttl, Now: clk.Now})
	require.NoError(t, err)
	return tk
}

func TestIssueAndVerify_RoundTripsEveryShape(t *testing.T) {
	clk := &testClock{t: time.Unix(1700000000, 0).UTC()}
	tk := newTokens(t, staticKeys{current: []byte("k1")}, clk, 15*time.Minute)

	cases := []struct {
		name         string
		in           Identity
		wantTenant   *int64
		wantIdentity *int64
	}{
		{"super admin", Identity{Username: "root", IdentityID: i64(1), TenantID: i64(9), Roles: []string{RoleSuperAdmin}, SessionID: "s0"}, nil, i64(1)},
		{"client", Identity{Username: "acme", TenantID: i64(7), IdentityID: i64(3), Roles: []string{RoleClient}, SessionID: "s1"}, i64(7), nil},
		{"tenant admin", Identity{Username: "ann", TenantID: i64(7), IdentityID: i64(11), Roles: []string{RoleAdmin}, SessionID: "s2"}, i64(7), i64(11)},
		{"tenant user", Identity{Username: "bob", TenantID: i64(0), IdentityID: i64(12), Roles: []string{RoleUser}, SessionID: "s3"}, i64(0), i64(12)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, issued, err := tk.Issue(tc.in)
			require.NoError(t, err)

			got, err := tk.Verify(context.Background(), tok)
			require.NoError(t, err)
			require.Equal(t, tc.in.Username, got.Subject)
			require.Equal(t, tc.wantTenant, got.TenantID)
			require.Equal(t, tc.wantIdentity, got.IdentityID)
			require.Equal(t, RoleList(tc.in.Roles), got.Roles)
			require.Equal(t, tc.in.SessionID, got.SessionID)
			require.Equal(t, issued.ExpiresAt.Unix(), got.ExpiresAt.Unix())
			require.Equal(t, clk.Now().Add(15*time.Minute).Unix(), got.ExpiresAt.Unix())
		})
	}
}

func TestIssue_RejectsStructurallyInvalidIdentity(t *testing.T) {
	clk := &testClock{t: time.Now()}
	tk := newTokens(t, staticKeys{current: []byte("k1")}, clk, time.Minute)

	_, _, err := tk.Issue(Identity{Username: "u", Roles: []string{RoleUser}, IdentityID: i64(1)})
	require.ErrorIs(t, err, ErrInvalidIdentity)

	_, _, err = tk.Issue(Identity{Username: "c", Roles: []string{RoleClient}})
	require.ErrorIs(t, err, ErrInvalidIdentity)

	_, _, err = tk.Issue(Identity{Username: "x"})
	require.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestVerify_CollapsesFailuresToInvalidToken(t *testing.T) {
	clk := &testClock{t: time.Unix(1700000000, 0).UTC()}
	tk := newTokens(t, staticKeys{current: []byte("k1")}, clk, time.Minute)
	other := newTokens(t, staticKeys{current: []byte("forged")}, clk, time.Minute)

	id := Identity{Username: "bob", TenantID: i64(1), IdentityID: i64(2), Roles: []string{RoleUser}, SessionID: "s"}
	forged, _, err := other.Issue(id)
	require.NoError(t, err)
	good, _, err := tk.Issue(id)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "bob", "exp": clk.Now().Add(time.Hour).Unix()})
	noneTok, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"forged":    forged,
		"malformed": "not-a-jwt",
		"alg none":  noneTok,
		"empty":     "",
	} {
		_, err := tk.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrInvalidToken, name)
	}

	clk.Advance(2 * time.Minute)
	_, err = tk.Verify(context.Background(), good)
	require.ErrorIs(t, err, ErrInvalidToken, "expired beyond leeway")
}

func TestVerify_ToleratesRoleListOnTheWire(t *testing.T) {
	clk := &testClock{t: time.Now()}
	secret := []byte("k1")
	tk := newTokens(t, staticKeys{current: secret}, clk, time.Minute)

	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      "ann",
		"iss":      "tenant-auth",
		"iat":      clk.Now().Unix(),
		"exp":      clk.Now().Add(time.Minute).Unix(),
		"clientId": 4,
		"userId":   5,
		"roles":    []string{" ADMIN ", "", "USER"},
		"sid":      "s",
	})
	tok, err := raw.SignedString(secret)
	require.NoError(t, err)

	c, err := tk.Verify(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, RoleList{"ADMIN", "USER"}, c.Roles)
	require.Equal(t, int64(4), *c.TenantID)
}

func TestVerify_RotationGraceWindow(t *testing.T) {
	clk := &testClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	km, err := keys.NewManager(context.Background(), keys.Options{
		RotationEnabled: true,
		RetiredTTL:      time.Hour,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:             clk.Now,
	}, keys.NewFileStore(filepath.Join(t.TempDir(), "jwt-secret.txt")), nil)
	require.NoError(t, err)

	tk := newTokens(t, km, clk, 3*time.Hour)
	id := Identity{Username: "bob", TenantID: i64(1), IdentityID: i64(2), Roles: []string{RoleUser}, SessionID: "s"}
	tok, _, err := tk.Issue(id)
	require.NoError(t, err)

	require.NoError(t, km.Rotate(context.Background()))
	_, err = tk.Verify(context.Background(), tok)
	require.NoError(t, err, "token signed by the just-retired key is still accepted")

	fresh, _, err := tk.Issue(id)
	require.NoError(t, err)
	_, err = tk.Verify(context.Background(), fresh)
	require.NoError(t, err)

	clk.Advance(61 * time.Minute)
	_, err = tk.Verify(context.Background(), tok)
	require.ErrorIs(t, err, ErrInvalidToken, "retired key evicted, memo must not keep it alive")

	_, err = tk.Verify(context.Background(), fresh)
	require.NoError(t, err)
}

func TestVerify_ConcurrentCallsAgree(t *testing.T) {
	clk := &testClock{t: time.Now()}
	tk := newTokens(t, staticKeys{current: []byte("k1")}, clk, time.Minute)
	tok, _, err := tk.Issue(Identity{Username: "root", IdentityID: i64(1), Roles: []string{RoleSuperAdmin}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tk.Verify(context.Background(), tok)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
