package slug

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLen is the maximum length of a chapter slug.
const MaxLen = 80

const ellipsis = "..."

var (
	disallowed = regexp.MustCompile(`[^a-z0-9\s_-]`)
	separators = regexp.MustCompile(`[\s_]+`)
	hyphens    = regexp.MustCompile(`-+`)
)

// Make converts text to a lowercase ASCII slug. Accented letters are folded
// to their base letter; anything that has no ASCII form is dropped.
func Make(s string) string {
	s = strings.ToLower(strings.TrimSpace(fold(s)))
	s = disallowed.ReplaceAllString(s, "")
	s = separators.ReplaceAllString(s, "-")
	s = hyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Truncate caps s at max characters. Longer slugs are cut back to the last
// hyphen that fits and marked with a trailing ellipsis.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return s[:max]
	}
	cut := s[:max-len(ellipsis)]
	if i := strings.LastIndex(cut, "-"); i > 0 {
		cut = cut[:i]
	}
	return cut + ellipsis
}

// Chapter formats the slug for a numbered chapter.
func Chapter(num int, title string) string {
	base := Make(title)
	if base == "" {
		return fmt.Sprintf("chapter-%02d", num)
	}
	return fmt.Sprintf("chapter-%02d-%s", num, base)
}

// Registry hands out slugs that are unique within one book and never longer
// than MaxLen.
type Registry struct {
	seen map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]bool)}
}

// Unique caps candidate and, if it is taken, appends -1, -2, ... until a
// free slug is found. The counter is appended after capping so it is never
// cut off.
func (r *Registry) Unique(candidate string) string {
	s := Truncate(candidate, MaxLen)
	for n := 1; r.seen[s]; n++ {
		suffix := fmt.Sprintf("-%d", n)
		s = Truncate(candidate, MaxLen-len(suffix)) + suffix
	}
	r.seen[s] = true
	return s
}
