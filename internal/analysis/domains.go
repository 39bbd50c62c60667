package analysis

import (
	"regexp"
	"strings"

	"github.com/crxlens/crxlens/internal/crx"
)

// urlLiteral matches absolute http(s) URL literals embedded in script text.
var urlLiteral = regexp.MustCompile(`https?://[A-Za-z0-9*][A-Za-z0-9.*-]*`)

// ExtractDomains collects the registrable domains referenced by the manifest's
// match patterns and, when script sources are supplied, by absolute URL
// literals inside them. The result is lowercase, de-duplicated, ordered
// first-encountered-wins, and capped at max entries. It never fails; no
// matches yields an empty set.
func ExtractDomains(m *crx.Manifest, scripts [][]byte, max int) []string {
	set := newDomainSet(max)
	if m != nil {
		for _, cs := range m.ContentScripts {
			set.addPatterns(cs.Matches)
		}
		if m.ExternallyConnectable != nil {
			set.addPatterns(m.ExternallyConnectable.Matches)
		}
		for _, war := range m.WebAccessibleResources {
			set.addPatterns(war.Matches)
			set.addPatterns(war.Resources)
		}
		set.addPatterns(m.HostPermissions)
	}

	for _, src := range scripts {
		for _, match := range urlLiteral.FindAllString(string(src), -1) {
			set.add(hostFromPattern(match))
		}
	}

	return set.values()
}

type domainSet struct {
	seen  map[string]struct{}
	order []string
	max   int
}

func newDomainSet(max int) *domainSet {
	if max <= 0 {
		max = 1
	}
	return &domainSet{seen: make(map[string]struct{}), max: max}
}

func (s *domainSet) addPatterns(patterns []string) {
	for _, p := range patterns {
		s.add(hostFromPattern(p))
	}
}

func (s *domainSet) add(host string) {
	if host == "" || len(s.order) >= s.max {
		return
	}
	if _, ok := s.seen[host]; ok {
		return
	}
	s.seen[host] = struct{}{}
	s.order = append(s.order, host)
}

func (s *domainSet) values() []string {
	if s.order == nil {
		return []string{}
	}
	return s.order
}

// hostFromPattern extracts the host component from a match pattern or URL,
// returning "" for values that carry no registrable domain.
func hostFromPattern(pattern string) string {
	p := strings.TrimSpace(pattern)
	if p == "" || p == "<all_urls>" {
		return ""
	}

	// Scheme-strip: "scheme://host/path" -> "host/path". Patterns without a
	// scheme separator are resource paths, not URLs.
	if idx := strings.Index(p, "://"); idx >= 0 {
		p = p[idx+3:]
	} else {
		return ""
	}

	if idx := strings.IndexAny(p, "/?#"); idx >= 0 {
		p = p[:idx]
	}

	host := strings.ToLower(p)
	host = strings.TrimPrefix(host, "*.")
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	host = strings.Trim(host, ".")

	// Wildcard-only and schemeless junk carry no domain; bare hosts without a
	// dot (localhost, wildcard fragments) are not registrable.
	if host == "" || host == "*" || strings.Contains(host, "*") {
		return ""
	}
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}
