package session

// Policy decides whether single-active-session enforcement applies to an
// identity. It is immutable after construction.
type Policy struct {
	singleActive bool
	tenants      map[int64]struct{}
	users        map[string]struct{}
}

func NewPolicy(singleActive bool, exemptTenants []int64, exemptUsers []string) *Policy {
	p := &Policy{
		singleActive: singleActive,
		tenants:      make(map[int64]struct{}, len(exemptTenants)),
		users:        make(map[string]struct{}, len(exemptUsers)),
	}
	for _, t := range exemptTenants {
		p.tenants[t] = struct{}{}
	}
	for _, u := range exemptUsers {
		p.users[u] = struct{}{}
	}
	return p
}

// Enforce returns false when multiple concurrent sessions are allowed.
func (p *Policy) Enforce(tenantID *int64, username string) bool {
	if !p.singleActive {
		return false
	}
	if _, ok := p.users[username]; ok {
		return false
	}
	if tenantID != nil {
		if _, ok := p.tenants[*tenantID]; ok {
			return false
		}
	}
	return true
}
