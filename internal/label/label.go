package label

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the semantic class of a heading or TOC label.
type Kind string

const (
	Part    Kind = "part"
	Chapter Kind = "chapter"
	Other   Kind = "other"
)

// Result is the outcome of classifying a label.
type Result struct {
	Kind   Kind
	Num    int
	HasNum bool
	Title  string
}

var (
	romanPart      = regexp.MustCompile(`^([IVX]+)\.\s+(.*)`)
	chapterColon   = regexp.MustCompile(`(?i)^Chapter\s+(\d+):\s+(.*)`)
	numberDot      = regexp.MustCompile(`^(\d+)\.\s+(.*)`)
	compactChapter = regexp.MustCompile(`(?is)^Chapter\s*(\d+)\s*(.+)$`)
	compactPart    = regexp.MustCompile(`(?is)^Part\s*([IVX]+)\s*(.+)$`)
	dottedDecimal  = regexp.MustCompile(`^(\d+)\.(\d+)`)
	leadingNumber  = regexp.MustCompile(`(?s)^(\d+)\s*(.+)$`)
)

// Classify maps a label to part, chapter or other. Rules are tried in
// priority order and the first match wins. Dotted decimals such as "1.1"
// denote subsections and are checked before the bare leading-number rule.
func Classify(s string) Result {
	if m := romanPart.FindStringSubmatch(s); m != nil {
		return numbered(Part, RomanToInt(m[1]), m[2], s)
	}
	if m := chapterColon.FindStringSubmatch(s); m != nil {
		return numbered(Chapter, atoi(m[1]), m[2], s)
	}
	if m := numberDot.FindStringSubmatch(s); m != nil {
		return numbered(Chapter, atoi(m[1]), m[2], s)
	}
	if m := compactChapter.FindStringSubmatch(s); m != nil {
		return numbered(Chapter, atoi(m[1]), m[2], s)
	}
	if m := compactPart.FindStringSubmatch(s); m != nil {
		return numbered(Part, RomanToInt(strings.ToUpper(m[1])), m[2], s)
	}
	if dottedDecimal.MatchString(s) {
		return other(s)
	}
	if m := leadingNumber.FindStringSubmatch(s); m != nil {
		rest := []rune(m[2])
		if len(rest) > 5 {
			rest = rest[:5]
		}
		if !strings.ContainsRune(string(rest), '.') {
			return numbered(Chapter, atoi(m[1]), m[2], s)
		}
	}
	return other(s)
}

// numbered builds a numbered result. Separators left between the label and
// the title are trimmed; a label with no title keeps the whole label.
func numbered(k Kind, n int, title, label string) Result {
	title = strings.TrimLeft(strings.TrimSpace(title), titleSeparators)
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(label)
	}
	return Result{Kind: k, Num: n, HasNum: true, Title: title}
}

const titleSeparators = ":.-–— \t"

func other(s string) Result {
	return Result{Kind: Other, Title: strings.TrimSpace(s)}
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

var romanValues = map[rune]int{
	'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000,
}

// RomanToInt decodes a Roman numeral using subtractive notation.
// Unknown characters count as zero.
func RomanToInt(s string) int {
	runes := []rune(strings.ToUpper(s))
	total, prev := 0, 0
	for i := len(runes) - 1; i >= 0; i-- {
		v := romanValues[runes[i]]
		if v < prev {
			total -= v
		} else {
			total += v
		}
		prev = v
	}
	return total
}
