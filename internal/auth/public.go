package auth

import (
	"path"
	"strings"
)

// PublicPaths matches request paths that bypass authentication.
// Patterns are exact paths, path.Match globs per segment ("/api/*/login"),
// or a prefix ending in "/**" that matches the prefix and everything below it.
type PublicPaths struct {
	exact    map[string]struct{}
	prefixes []string
	globs    []string
}

func NewPublicPaths(patterns []string) *PublicPaths {
	p := &PublicPaths{exact: make(map[string]struct{}, len(patterns))}
	for _, raw := range patterns {
		pat := strings.TrimSpace(raw)
		if pat == "" {
			continue
		}
		switch {
		case strings.HasSuffix(pat, "/**"):
			p.prefixes = append(p.prefixes, strings.TrimSuffix(pat, "/**"))
		case strings.ContainsAny(pat, "*?["):
			p.globs = append(p.globs, pat)
		default:
			p.exact[pat] = struct{}{}
		}
	}
	return p
}

func (p *PublicPaths) Match(reqPath string) bool {
	if p == nil {
		return false
	}
	clean := path.Clean("/" + reqPath)
	if _, ok := p.exact[clean]; ok {
		return true
	}
	for _, pre := range p.prefixes {
		if clean == pre || strings.HasPrefix(clean, pre+"/") {
			return true
		}
	}
	for _, g := range p.globs {
		if ok, _ := path.Match(g, clean); ok {
			return true
		}
	}
	return false
}
