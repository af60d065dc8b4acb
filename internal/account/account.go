package account

import (
	"context"
	"slices"
	"strings"
	"time"

	"tenant-auth/internal/apperr"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/refresh"
)

var (
	ErrNotFound  = apperr.New(apperr.KindNotFound, "Account not found")
	ErrDuplicate = apperr.New(apperr.KindConflict, "Username already exists")
	ErrInvalid   = apperr.New(apperr.KindBadRequest, "Invalid account")
	ErrStore     = apperr.New(apperr.KindInternal, "account store failed")
)

// Account is a super-admin, a client (tenant) or a tenant user.
type Account struct {
	ID           int64
	Kind         refresh.OwnerKind
	Username     string
	PasswordHash string
	// TenantID is the tenant a USER belongs to. Clients are their own tenant
	// and super-admins have none.
	TenantID *int64
	// Role is ADMIN or USER for tenant users.
	Role      string
	CreatedAt time.Time
}

func (a Account) Owner() refresh.Owner {
	return refresh.Owner{Kind: a.Kind, ID: a.ID}
}

// Tenant returns the tenant the account acts within, nil for super-admins.
func (a Account) Tenant() *int64 {
	switch a.Kind {
	case refresh.OwnerClient:
		id := a.ID
		return &id
	case refresh.OwnerUser:
		return a.TenantID
	default:
		return nil
	}
}

func (a Account) Roles() []string {
	switch a.Kind {
	case refresh.OwnerSuperAdmin:
		return []string{auth.RoleSuperAdmin}
	case refresh.OwnerClient:
		return []string{auth.RoleClient}
	default:
		if a.Role == auth.RoleAdmin {
			return []string{auth.RoleAdmin}
		}
		return []string{auth.RoleUser}
	}
}

// Identity is what access tokens for this account are issued for.
func (a Account) Identity(sessionID string) auth.Identity {
	id := auth.Identity{
		Username:  a.Username,
		TenantID:  a.Tenant(),
		Roles:     a.Roles(),
		SessionID: sessionID,
	}
	if a.Kind != refresh.OwnerClient {
		uid := a.ID
		id.IdentityID = &uid
	}
	return id
}

// OwnerOf maps an authenticated principal to the owner of its refresh
// tokens: the identity id for super-admins and users, the tenant id for
// clients.
func OwnerOf(p auth.Principal) (refresh.Owner, bool) {
	switch {
	case p.IsSuperAdmin():
		if p.IdentityID != nil {
			return refresh.Owner{Kind: refresh.OwnerSuperAdmin, ID: *p.IdentityID}, true
		}
	case slices.Contains(p.Roles, auth.RoleClient):
		if p.TenantID != nil {
			return refresh.Owner{Kind: refresh.OwnerClient, ID: *p.TenantID}, true
		}
	default:
		if p.IdentityID != nil {
			return refresh.Owner{Kind: refresh.OwnerUser, ID: *p.IdentityID}, true
		}
	}
	return refresh.Owner{}, false
}

// Validate checks the shape of a new account before it is stored.
func (a Account) Validate() error {
	if strings.TrimSpace(a.Username) == "" || a.PasswordHash == "" {
		return ErrInvalid
	}
	switch a.Kind {
	case refresh.OwnerSuperAdmin, refresh.OwnerClient:
		return nil
	case refresh.OwnerUser:
		if a.TenantID == nil {
			return ErrInvalid
		}
		if a.Role != "" && a.Role != auth.RoleUser && a.Role != auth.RoleAdmin {
			return ErrInvalid
		}
		return nil
	default:
		return ErrInvalid
	}
}

// Directory stores accounts. Usernames are unique across all kinds.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (Account, error)
	FindByOwner(ctx context.Context, o refresh.Owner) (Account, error)
	Create(ctx context.Context, a Account) (Account, error)
	// RecordIssued keeps the last access token and refresh record id handed
	// to the account.
	RecordIssued(ctx context.Context, o refresh.Owner, accessToken, refreshID string) error
}

// Owners resolves refresh token owners through a Directory.
type Owners struct {
	Dir Directory
}

func (o Owners) Resolve(ctx context.Context, owner refresh.Owner) (auth.Identity, error) {
	a, err := o.Dir.FindByOwner(ctx, owner)
	if err != nil {
		return auth.Identity{}, err
	}
	return a.Identity(""), nil
}

func (o Owners) RecordIssued(ctx context.Context, owner refresh.Owner, accessToken, refreshID string) error {
	return o.Dir.RecordIssued(ctx, owner, accessToken, refreshID)
}
