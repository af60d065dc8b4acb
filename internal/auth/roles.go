package auth

import (
	"sort"
	"strings"
)

// Role names as carried in the roles claim.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleClient     = "CLIENT"
	RoleAdmin      = "ADMIN"
	RoleUser       = "USER"
)

// implies is the static role hierarchy: each role also holds the authority of
// the role it points to.
var implies = map[string]string{
	RoleSuperAdmin: RoleClient,
	RoleClient:     RoleAdmin,
	RoleAdmin:      RoleUser,
}

// ExpandRoles returns roles plus every role they imply, sorted and
// de-duplicated. Unknown roles pass through unchanged.
func ExpandRoles(roles []string) []string {
	set := make(map[string]struct{}, len(roles)+len(implies))
	for _, r := range roles {
		for cur := r; cur != ""; cur = implies[cur] {
			if _, seen := set[cur]; seen {
				break
			}
			set[cur] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// NormalizeRoles trims, drops empties and de-duplicates, keeping order.
func NormalizeRoles(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
