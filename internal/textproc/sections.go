package textproc

import (
	"regexp"
	"strings"

	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
)

// Section is a tagged span of the normalized text. Spans are ordered,
// non-overlapping, and together cover the whole document.
type Section struct {
	Type  models.SectionType
	Start int
	End   int
}

// Heading patterns for Korean (KIPO publication layout, with or without
// the 【】 brackets) and English patent documents.
var headingPatterns = []struct {
	section models.SectionType
	re      *regexp.Regexp
}{
	{models.SectionTitle, regexp.MustCompile(`^【?\s*(발명의\s*명칭|고안의\s*명칭)\s*】?|^(?i:title\s+of\s+(the\s+)?invention)`)},
	{models.SectionAbstract, regexp.MustCompile(`^【?\s*요\s*약(서)?\s*】?$|^(?i:abstract)$`)},
	{models.SectionClaims, regexp.MustCompile(`^【?\s*(특허\s*)?청구\s*(의\s*)?범위\s*】?$|^(?i:(the\s+)?claims?)$|^(?i:what\s+is\s+claimed\s+is)`)},
	{models.SectionDescription, regexp.MustCompile(`^【?\s*(발명의\s*설명|발명의\s*상세한\s*설명|기술\s*분야|배경\s*기술|발명의\s*내용)\s*】?$|^(?i:(detailed\s+)?description|background|technical\s+field)$`)},
	{models.SectionIPC, regexp.MustCompile(`^【?\s*(국제특허분류|IPC|CPC)\s*】?|^(?i:int\.?\s*cl\.?)`)},
	{models.SectionCitations, regexp.MustCompile(`^【?\s*(인용\s*문헌|선행기술문헌)\s*】?$|^(?i:references\s+cited|citations)$`)},
}

// ipcCodeRe matches a classification code line such as "H01L 21/02" or
// "G06F 17/30 (2006.01)".
var ipcCodeRe = regexp.MustCompile(`^[A-H]\d{2}[A-Z]\s?\d{1,4}/\d{2,}(\s*\(\d{4}\.\d{2}\))?\s*$`)

// TagSections classifies the normalized text into an ordered gap-free
// span sequence. A document with no recognizable headings yields one
// Description span; tagging never fails.
func TagSections(text string) []Section {
	if text == "" {
		return []Section{{Type: models.SectionDescription, Start: 0, End: 0}}
	}

	var sections []Section
	current := models.SectionDescription
	// codeRun tracks an IPC span opened by bare code lines rather than a
	// heading; it closes on the first non-code line.
	codeRun := false
	spanStart := 0

	lineStart := 0
	for lineStart <= len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		line := strings.TrimSpace(text[lineStart:lineEnd])

		next, isHeading := matchHeading(line)
		switch {
		case isHeading:
			if lineStart > spanStart {
				sections = appendSpan(sections, current, spanStart, lineStart)
			}
			current = next
			codeRun = false
			spanStart = lineStart
		case !codeRun && current != models.SectionIPC && ipcCodeRe.MatchString(line):
			if lineStart > spanStart {
				sections = appendSpan(sections, current, spanStart, lineStart)
			}
			codeRun = true
			spanStart = lineStart
		case codeRun && line != "" && !ipcCodeRe.MatchString(line):
			sections = appendSpan(sections, models.SectionIPC, spanStart, lineStart)
			codeRun = false
			current = models.SectionDescription
			spanStart = lineStart
		}

		if lineEnd >= len(text) {
			break
		}
		lineStart = lineEnd + 1
	}

	closing := current
	if codeRun {
		closing = models.SectionIPC
	}
	sections = appendSpan(sections, closing, spanStart, len(text))

	if len(sections) == 0 {
		sections = []Section{{Type: models.SectionDescription, Start: 0, End: len(text)}}
	}
	return sections
}

func matchHeading(line string) (models.SectionType, bool) {
	if line == "" || len(line) > 80 {
		return "", false
	}
	for _, p := range headingPatterns {
		if p.re.MatchString(line) {
			return p.section, true
		}
	}
	return "", false
}

func appendSpan(sections []Section, t models.SectionType, start, end int) []Section {
	if end <= start {
		return sections
	}
	// Merge adjacent spans of the same type to keep the sequence minimal.
	if n := len(sections); n > 0 && sections[n-1].Type == t && sections[n-1].End == start {
		sections[n-1].End = end
		return sections
	}
	return append(sections, Section{Type: t, Start: start, End: end})
}
