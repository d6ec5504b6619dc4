package textproc

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizedText is the canonical form every downstream stage works on.
// PageOffsets[i] is the byte offset where page i+1 begins, so a chunk's
// character span can always be mapped back to a page range.
type NormalizedText struct {
	Text        string
	PageOffsets []int
}

var (
	spaceRunRe = regexp.MustCompile(`[ \t\x{00A0}]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	trailWSRe  = regexp.MustCompile(`(?m)[ \t]+$`)
)

// Normalize canonicalizes extracted page texts: NFKC fold, CRLF to LF,
// space runs collapsed, blank-line runs capped at one blank line. Pages
// are joined with a blank line and their start offsets recorded.
func Normalize(pages []string) NormalizedText {
	var b strings.Builder
	offsets := make([]int, 0, len(pages))

	for i, page := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		offsets = append(offsets, b.Len())
		b.WriteString(normalizeText(page))
	}

	return NormalizedText{Text: b.String(), PageOffsets: offsets}
}

// NormalizeQuery canonicalizes query text with the same folding rules so
// cache keys and embeddings are stable across whitespace variants.
func NormalizeQuery(s string) string {
	s = normalizeText(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = trailWSRe.ReplaceAllString(s, "")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PageOf maps a byte offset in Text to a 1-based page number.
func (n NormalizedText) PageOf(offset int) int {
	if len(n.PageOffsets) == 0 {
		return 1
	}
	idx := sort.Search(len(n.PageOffsets), func(i int) bool {
		return n.PageOffsets[i] > offset
	})
	if idx == 0 {
		return 1
	}
	return idx
}
