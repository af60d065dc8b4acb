package auth

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access token payload. TenantID and IdentityID are omitted
// from the wire when absent; zero is a valid id, not a sentinel.
type Claims struct {
	jwt.RegisteredClaims

	TenantID   *int64   `json:"clientId,omitempty"`
	IdentityID *int64   `json:"userId,omitempty"`
	Roles      RoleList `json:"roles"`
	SessionID  string   `json:"sid,omitempty"`
}

func (c Claims) IsSuperAdmin() bool { return hasRole(c.Roles, RoleSuperAdmin) }

// RoleList is written as a comma-joined string and read from either a string
// or a JSON array. Decoding always yields a normalized list.
type RoleList []string

func (r RoleList) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.Join(r, ","))
}

func (r *RoleList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*r = NormalizeRoles(strings.Split(s, ","))
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*r = NormalizeRoles(list)
		return nil
	}
	var null any
	if err := json.Unmarshal(b, &null); err == nil && null == nil {
		*r = nil
		return nil
	}
	return errors.New("roles claim must be a string or a list of strings")
}
