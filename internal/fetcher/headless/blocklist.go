package headless

import (
	"slices"
	"strings"
)

// DefaultBlockedDomains are ad and tracker hosts blocked when the
// configuration names none.
var DefaultBlockedDomains = []string{
	"*.doubleclick.net",
	"*.googlesyndication.com",
	"*.google-analytics.com",
	"*.googletagmanager.com",
	"*.googletagservices.com",
	"*.adnxs.com",
	"*.amazon-adsystem.com",
	"*.criteo.com",
	"*.taboola.com",
	"*.outbrain.com",
	"*.scorecardresearch.com",
	"*.quantserve.com",
	"*.facebook.net",
	"*.hotjar.com",
}

// Blocklist stores exact hosts and suffix wildcards.
type Blocklist struct {
	exact    []string
	suffixes []string
}

// NewBlocklist parses patterns such as "example.org", "*.example.org" or
// ".example.org". It returns nil when no usable pattern remains.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		case !slices.Contains(b.exact, value):
			b.exact = append(b.exact, value)
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(b.suffixes, suffix) {
		return
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host matches an entry. A suffix entry also
// matches its bare domain.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if slices.Contains(b.exact, host) {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// URLPatterns renders the entries as DevTools request-blocking patterns.
func (b *Blocklist) URLPatterns() []string {
	if b == nil {
		return nil
	}
	patterns := make([]string, 0, len(b.exact)+2*len(b.suffixes))
	for _, host := range b.exact {
		patterns = append(patterns, "*://"+host+"/*")
	}
	for _, suffix := range b.suffixes {
		patterns = append(patterns, "*://"+suffix+"/*", "*://*."+suffix+"/*")
	}
	return patterns
}
