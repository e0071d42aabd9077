package detect

import (
	"regexp"
	"strings"
)

// IsPushRelated reports whether content shows signs of handling web push:
// a push event listener, the Push API, or notification display.
func IsPushRelated(content string) bool {
	c := strings.ToLower(content)
	if strings.Contains(c, "addeventlistener") && strings.Contains(c, "push") {
		return true
	}
	for _, marker := range []string{
		"pushmanager",
		"pushsubscription",
		"push subscription",
		"shownotification",
		"notificationclick",
		"pushevent",
	} {
		if strings.Contains(c, marker) {
			return true
		}
	}
	return false
}

// matcher finds one provider name as a whole word, case-insensitively. Names
// without a dot also match their ".com" domain.
type matcher struct {
	name   string
	word   *regexp.Regexp
	domain *regexp.Regexp
}

func newMatcher(name string) matcher {
	m := matcher{name: name, word: wholeWord(name)}
	if !strings.Contains(name, ".") {
		m.domain = wholeWord(name + ".com")
	}
	return m
}

func wholeWord(needle string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(needle) + `\b`)
}

func (m matcher) match(content string) bool {
	if m.word.MatchString(content) {
		return true
	}
	return m.domain != nil && m.domain.MatchString(content)
}

// Providers returns the names found in content, in the order given.
func Providers(content string, names []string) []string {
	return matchAll(content, compile(names))
}

func compile(names []string) []matcher {
	seen := make(map[string]struct{}, len(names))
	out := make([]matcher, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup || name == "" {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, newMatcher(name))
	}
	return out
}

func matchAll(content string, matchers []matcher) []string {
	found := make([]string, 0)
	for _, m := range matchers {
		if m.match(content) {
			found = append(found, m.name)
		}
	}
	return found
}
