package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type fixedPolicy bool

func (p fixedPolicy) Enforce(*int64, string) bool { return bool(p) }

type mapSessions struct {
	active map[string]string
	err    error
}

func (m mapSessions) GetActive(_ context.Context, username string) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	sid, ok := m.active[username]
	return sid, ok, nil
}

type gateFixture struct {
	tokens   *Tokens
	sessions mapSessions
	router   *gin.Engine

	seen      Principal
	seenScope TenantScope
}

func newGateFixture(t *testing.T, enforce bool) *gateFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := &testClock{t: time.Now()}
	f := &gateFixture{
		tokens:   newTokens(t, staticKeys{current: []byte("gate-secret")}, clk, 15*time.Minute),
		sessions: mapSessions{active: map[string]string{}},
	}
	authn := NewAuthenticator(f.tokens, fixedPolicy(enforce), f.sessions)

	r := gin.New()
	r.Use(authn.Middleware(NewPublicPaths([]string{"/api/user/login", "/swagger-ui/**"})))
	handler := func(c *gin.Context) {
		p, ok := PrincipalFrom(c.Request.Context())
		if ok {
			f.seen = p
			f.seenScope, _ = TenantScopeFrom(c.Request.Context())
		}
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	}
	r.GET("/api/orders", handler)
	r.GET("/api/user/login", handler)
	r.GET("/swagger-ui/index.html", handler)
	r.OPTIONS("/api/orders", handler)
	f.router = r
	return f
}

func (f *gateFixture) issue(t *testing.T, id Identity) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(id)
	require.NoError(t, err)
	return tok
}

func (f *gateFixture) do(method, path, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestGate_PublicAndPreflightBypass(t *testing.T) {
	f := newGateFixture(t, true)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/user/login"},
		{http.MethodGet, "/swagger-ui/index.html"},
		{http.MethodOptions, "/api/orders"},
	} {
		w := f.do(tc.method, tc.path, "")
		require.Equal(t, http.StatusOK, w.Code, tc.path)
		require.Equal(t, false, decodeBody(t, w)["authenticated"])
	}
}

func TestGate_RejectsMissingOrMalformedBearer(t *testing.T) {
	f := newGateFixture(t, false)

	for _, authz := range []string{"", "Basic abc", "Bearer ", "bearer abc"} {
		w := f.do(http.MethodGet, "/api/orders", authz)
		require.Equal(t, http.StatusUnauthorized, w.Code, authz)
		body := decodeBody(t, w)
		require.Equal(t, false, body["success"])
		require.Equal(t, "Missing or invalid Authorization header", body["message"])
	}

	w := f.do(http.MethodGet, "/api/orders", "Bearer garbage")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Invalid or expired token", decodeBody(t, w)["message"])
}

func TestGate_NonSuperWithoutTenantIsBadRequest(t *testing.T) {
	f := newGateFixture(t, false)

	// Signed directly: Issue refuses to build this shape.
	tok := signRaw(t, []byte("gate-secret"), map[string]any{
		"sub": "ghost", "roles": "USER", "userId": 3, "sid": "s",
	})
	w := f.do(http.MethodGet, "/api/orders", "Bearer "+tok)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "Client ID is missing in token", decodeBody(t, w)["message"])
}

func TestGate_SupersededSessionIsRejected(t *testing.T) {
	f := newGateFixture(t, true)
	id := Identity{Username: "bob", TenantID: i64(1), IdentityID: i64(2), Roles: []string{RoleUser}}

	id.SessionID = "s1"
	first := f.issue(t, id)
	f.sessions.active["bob"] = "s1"
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/orders", "Bearer "+first).Code)

	id.SessionID = "s2"
	second := f.issue(t, id)
	f.sessions.active["bob"] = "s2"

	w := f.do(http.MethodGet, "/api/orders", "Bearer "+first)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Session expired or logged in elsewhere", decodeBody(t, w)["message"])
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/orders", "Bearer "+second).Code)

	delete(f.sessions.active, "bob")
	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/orders", "Bearer "+second).Code)
}

func TestGate_PolicyExemptionSkipsSessionCheck(t *testing.T) {
	f := newGateFixture(t, false)
	tok := f.issue(t, Identity{Username: "kiosk", TenantID: i64(5), IdentityID: i64(6), Roles: []string{RoleUser}, SessionID: "old"})
	f.sessions.active["kiosk"] = "newer"

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/orders", "Bearer "+tok).Code)
}

func TestGate_SessionStoreFaultIsInternal(t *testing.T) {
	f := newGateFixture(t, true)
	tok := f.issue(t, Identity{Username: "bob", TenantID: i64(1), IdentityID: i64(2), Roles: []string{RoleUser}, SessionID: "s"})

	authn := NewAuthenticator(f.tokens, fixedPolicy(true), mapSessions{err: errors.New("dial tcp: refused")})
	_, err := authn.Authenticate(context.Background(), "Bearer "+tok)
	require.ErrorIs(t, err, ErrSessionLookup)

	r := gin.New()
	r.Use(authn.Middleware(nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "refused")
}

func TestGate_BuildsPrincipalAndTenantScope(t *testing.T) {
	f := newGateFixture(t, true)

	tok := f.issue(t, Identity{Username: "ann", TenantID: i64(7), IdentityID: i64(11), Roles: []string{RoleAdmin}, SessionID: "s"})
	f.sessions.active["ann"] = "s"
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/orders", "Bearer "+tok).Code)
	require.Equal(t, "ann", f.seen.Username)
	require.Equal(t, []string{RoleAdmin, RoleUser}, f.seen.Authorities)
	require.Equal(t, TenantScope{TenantID: 7}, f.seenScope)

	root := f.issue(t, Identity{Username: "root", IdentityID: i64(1), Roles: []string{RoleSuperAdmin}, SessionID: "r"})
	f.sessions.active["root"] = "r"
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/orders", "Bearer "+root).Code)
	require.True(t, f.seen.IsSuperAdmin())
	require.Nil(t, f.seen.TenantID)
	require.Equal(t, TenantScope{AllTenants: true}, f.seenScope)
	require.True(t, f.seen.HasAuthority(RoleUser))
}

func TestGate_RestoresRequestContextOnExit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	clk := &testClock{t: time.Now()}
	tk := newTokens(t, staticKeys{current: []byte("k")}, clk, time.Minute)
	authn := NewAuthenticator(tk, fixedPolicy(false), mapSessions{})

	var after *http.Request
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		after = c.Request
	})
	r.Use(authn.Middleware(nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	tok, _, err := tk.Issue(Identity{Username: "ann", TenantID: i64(7), IdentityID: i64(11), Roles: []string{RoleAdmin}})
	require.NoError(t, err)

	for _, authz := range []string{"Bearer " + tok, "Bearer nope"} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Authorization", authz)
		r.ServeHTTP(httptest.NewRecorder(), req)

		require.NotNil(t, after)
		_, ok := PrincipalFrom(after.Context())
		require.False(t, ok, "principal must not outlive the gate")
		_, err := TenantScopeFrom(after.Context())
		require.ErrorIs(t, err, ErrNoTenantScope)
	}
}

func signRaw(t *testing.T, secret []byte, claims map[string]any) string {
	t.Helper()
	now := time.Now()
	mc := jwt.MapClaims{"iat": now.Unix(), "exp": now.Add(time.Minute).Unix(), "iss": "tenant-auth"}
	for k, v := range claims {
		mc[k] = v
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(secret)
	require.NoError(t, err)
	return tok
}
