package detect

import "strings"

var (
	// Titles containing any of these are front matter.
	frontMatterTerms = []string{
		"preface",
		"foreword",
		"dedication",
		"acknowledgment",
		"acknowledgement",
		"copyright",
		"contents",
		"about the author",
	}
	// Titles equal to one of these are front matter. Matching them as
	// substrings would drop chapters such as "Introduction to Databases".
	frontMatterTitles = map[string]bool{
		"introduction": true,
	}
)

// IsFrontMatter reports whether a chapter title names front matter that is
// excluded from the course.
func IsFrontMatter(title string) bool {
	t := strings.ToLower(strings.Join(strings.Fields(title), " "))
	if frontMatterTitles[strings.Trim(t, " .:")] {
		return true
	}
	for _, term := range frontMatterTerms {
		if strings.Contains(t, term) {
			return true
		}
	}
	return false
}
