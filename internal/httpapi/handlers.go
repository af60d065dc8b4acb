package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tenant-auth/internal/account"
	"tenant-auth/internal/apperr"
	"tenant-auth/internal/audit"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/keys"
	"tenant-auth/internal/login"
	"tenant-auth/internal/refresh"
	"tenant-auth/pkg/logger"

	"github.com/gin-gonic/gin"
)

// KeyAdmin is the operator surface of the key manager.
type KeyAdmin interface {
	Rotate(ctx context.Context) error
	Health(ctx context.Context) keys.Health
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Login   *login.Service
	Refresh *refresh.Service
	Keys    KeyAdmin
	Audit   *audit.Service
	// Ping reports backing store reachability for /actuator/health. Optional.
	Ping func(ctx context.Context) error
}

var errInvalidJSON = apperr.New(apperr.KindBadRequest, "Invalid request body")

func respond(c *gin.Context, status int, message string, data any) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// --- Auth ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// ClientID pins the tenant a user is logging into.
	ClientID *int64 `json:"clientId,omitempty"`
	// Type selects the account kind on the generic login route.
	Type string `json:"type,omitempty"`
}

type tokenResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Username     string    `json:"username,omitempty"`
	Roles        []string  `json:"roles,omitempty"`
	ClientID     *int64    `json:"clientId,omitempty"`
}

// LoginAs returns the login handler for one account kind. An empty kind reads
// it from the request body and defaults to USER.
func (h Handlers) LoginAs(kind refresh.OwnerKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Abort(c, errInvalidJSON)
			return
		}
		k := kind
		if k == "" {
			k = refresh.OwnerKind(req.Type)
			if k == "" {
				k = refresh.OwnerUser
			}
		}
		res, err := h.Login.Login(c.Request.Context(), login.Credentials{
			Kind:     k,
			Username: req.Username,
			Password: req.Password,
			TenantID: req.ClientID,
			IP:       c.ClientIP(),
		})
		if err != nil {
			apperr.Abort(c, err)
			return
		}
		respond(c, http.StatusOK, "Login successful", tokenResponse{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
			TokenType:    "Bearer",
			ExpiresAt:    res.AccessExpiresAt,
			Username:     res.Account.Username,
			Roles:        res.Account.Roles(),
			ClientID:     res.Account.Tenant(),
		})
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID *int64 `json:"clientId,omitempty"`
	Role     string `json:"role,omitempty"`
}

type accountResponse struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	ClientID  *int64    `json:"clientId,omitempty"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

func toAccountResponse(a account.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Type:      string(a.Kind),
		Username:  a.Username,
		ClientID:  a.Tenant(),
		Roles:     a.Roles(),
		CreatedAt: a.CreatedAt,
	}
}

// RegisterAs returns the registration handler for one account kind. Tenant
// users default to the caller's own tenant.
func (h Handlers) RegisterAs(kind refresh.OwnerKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Abort(c, errInvalidJSON)
			return
		}
		ctx := c.Request.Context()
		if kind == refresh.OwnerUser && req.ClientID == nil {
			if p, ok := auth.PrincipalFrom(ctx); ok {
				req.ClientID = p.TenantID
			}
		}
		a, err := h.Login.Register(ctx, login.Registration{
			Kind:     kind,
			Username: req.Username,
			Password: req.Password,
			TenantID: req.ClientID,
			Role:     req.Role,
		})
		if err != nil {
			apperr.Abort(c, err)
			return
		}
		respond(c, http.StatusCreated, "Registration successful", toAccountResponse(a))
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h Handlers) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		apperr.Abort(c, apperr.New(apperr.KindBadRequest, "Refresh token is required"))
		return
	}
	pair, err := h.Refresh.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		apperr.Abort(c, err)
		return
	}
	respond(c, http.StatusOK, "Token refreshed", tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    pair.AccessExpiresAt,
	})
}

// Logout ends the caller's session. The refresh token in the body is optional.
func (h Handlers) Logout(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Abort(c, errInvalidJSON)
			return
		}
	}
	if err := h.Login.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		apperr.Abort(c, err)
		return
	}
	respond(c, http.StatusOK, "Logged out", nil)
}

// Me echoes the authenticated principal with its expanded authorities.
func (h Handlers) Me(c *gin.Context) {
	p, ok := auth.PrincipalFrom(c.Request.Context())
	if !ok {
		apperr.Abort(c, auth.ErrMissingBearer)
		return
	}
	respond(c, http.StatusOK, "ok", p)
}

// --- Keys ---

// RotateKey rotates the signing secret on operator request.
func (h Handlers) RotateKey(c *gin.Context) {
	ctx := c.Request.Context()
	p, _ := auth.PrincipalFrom(ctx)

	err := h.Keys.Rotate(ctx)
	ev := audit.Event{Type: audit.EventKeyRotated, ActorUsername: p.Username, IPAddress: c.ClientIP()}
	if err != nil {
		ev.Type, ev.Reason = audit.EventKeyRotationFailed, apperr.KindOf(err).String()
	}
	h.Audit.Record(ctx, ev)
	if err != nil {
		if errors.Is(err, keys.ErrStaticSecret) {
			logger.From(ctx).Info("rotation requested with static secret", "actor", p.Username)
		}
		apperr.Abort(c, err)
		return
	}
	respond(c, http.StatusOK, "Signing key rotated", h.Keys.Health(ctx))
}

// --- Health ---

func (h Handlers) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "UP"}
	if h.Ping != nil {
		if err := h.Ping(c.Request.Context()); err != nil {
			logger.From(c.Request.Context()).Warn("health ping failed", "err", err)
			status = http.StatusServiceUnavailable
			body["status"] = "DOWN"
		}
	}
	c.JSON(status, body)
}

func (h Handlers) KeyHealth(c *gin.Context) {
	hl := h.Keys.Health(c.Request.Context())
	status, label := http.StatusOK, "UP"
	if !hl.Healthy {
		status, label = http.StatusServiceUnavailable, "DOWN"
	}
	c.JSON(status, gin.H{"status": label, "details": hl})
}
