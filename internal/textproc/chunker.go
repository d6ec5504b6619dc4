package textproc

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"

	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
)

// ChunkPolicy describes how one section type is split into retrieval
// units. Policies are an explicit configuration structure, not runtime
// state.
type ChunkPolicy struct {
	WholeSection bool
	PerClaim     bool
	PerLine      bool
	TargetTokens int
	MaxTokens    int
	OverlapRatio float64
}

type PolicyTable map[models.SectionType]ChunkPolicy

// DefaultPolicies returns the per-section chunking table: title and
// abstract stay whole, claims are never split across chunks, the
// description uses a sliding sentence window with overlap, and IPC/CPC
// codes go one per chunk.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		models.SectionTitle:     {WholeSection: true},
		models.SectionAbstract:  {WholeSection: true},
		models.SectionClaims:    {PerClaim: true, TargetTokens: 250, MaxTokens: 350},
		models.SectionDescription: {
			TargetTokens: 1000,
			MaxTokens:    1200,
			OverlapRatio: 0.12,
		},
		models.SectionIPC:       {PerLine: true, MaxTokens: 100},
		models.SectionCitations: {PerLine: true, MaxTokens: 100},
	}
}

// Piece is one chunk-to-be: exact byte offsets into the section text it
// was cut from, so provenance is always reconstructible.
type Piece struct {
	Start      int
	End        int
	TokenCount int
}

type Chunker struct {
	policies PolicyTable
	tokens   Tokenizer
}

// NewChunker builds a chunker around an injected tokenizer. Output is
// deterministic for a given tokenizer and policy table.
func NewChunker(policies PolicyTable, tokens Tokenizer) *Chunker {
	if policies == nil {
		policies = DefaultPolicies()
	}
	if tokens == nil {
		tokens = CountTokens
	}
	return &Chunker{policies: policies, tokens: tokens}
}

var claimStartRe = regexp.MustCompile(`(?m)^\s*(?:【\s*청구항\s*\d+\s*】|청구항\s*\d+[.:]?|Claim\s+\d+[.:]?|\d+\s*[.)]\s)`)

// Chunk splits one tagged section into ordered pieces.
func (c *Chunker) Chunk(section models.SectionType, text string) []Piece {
	pol, ok := c.policies[section]
	if !ok {
		pol = c.policies[models.SectionDescription]
	}

	switch {
	case pol.WholeSection:
		return c.wholeSection(text)
	case pol.PerClaim:
		return c.perClaim(text)
	case pol.PerLine:
		return c.perLine(text)
	default:
		return c.slidingWindow(text, pol)
	}
}

func (c *Chunker) wholeSection(text string) []Piece {
	start, end := trimSpan(text, 0, len(text))
	if end <= start {
		return nil
	}
	return []Piece{{Start: start, End: end, TokenCount: c.tokens(text[start:end])}}
}

// perClaim cuts at claim-number boundaries. A claim is never split, even
// when it exceeds the token target; preamble text (the section heading)
// is folded into the first claim's span.
func (c *Chunker) perClaim(text string) []Piece {
	locs := claimStartRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return c.wholeSection(text)
	}

	var pieces []Piece
	for i, loc := range locs {
		start := loc[0]
		if i == 0 {
			start = 0
		}
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		start, end = trimSpan(text, start, end)
		if end <= start {
			continue
		}
		pieces = append(pieces, Piece{Start: start, End: end, TokenCount: c.tokens(text[start:end])})
	}
	return pieces
}

func (c *Chunker) perLine(text string) []Piece {
	var pieces []Piece
	lineStart := 0
	for lineStart <= len(text) {
		lineEnd := strings.IndexByte(text[lineStart:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += lineStart
		}
		start, end := trimSpan(text, lineStart, lineEnd)
		if end > start {
			pieces = append(pieces, Piece{Start: start, End: end, TokenCount: c.tokens(text[start:end])})
		}
		if lineEnd >= len(text) {
			break
		}
		lineStart = lineEnd + 1
	}
	return pieces
}

// slidingWindow accumulates sentences until the target token budget is
// reached, then starts the next window far enough back to reproduce the
// configured overlap. A sentence that alone exceeds MaxTokens is
// hard-cut at the token limit (lossy fallback).
func (c *Chunker) slidingWindow(text string, pol ChunkPolicy) []Piece {
	units := c.sentenceSpans(text)
	if len(units) == 0 {
		return nil
	}

	// Pre-split oversized sentences so every unit fits a window.
	var fitted []Piece
	for _, u := range units {
		if u.TokenCount > pol.MaxTokens {
			fitted = append(fitted, c.hardCut(text, u.Start, u.End, pol.TargetTokens)...)
		} else {
			fitted = append(fitted, u)
		}
	}
	units = fitted

	overlapTarget := int(float64(pol.TargetTokens) * pol.OverlapRatio)

	var pieces []Piece
	i := 0
	for i < len(units) {
		tok := 0
		j := i
		for j < len(units) {
			t := units[j].TokenCount
			if tok > 0 && tok+t > pol.MaxTokens {
				break
			}
			tok += t
			j++
			if tok >= pol.TargetTokens {
				break
			}
		}

		start, end := trimSpan(text, units[i].Start, units[j-1].End)
		if end > start {
			pieces = append(pieces, Piece{Start: start, End: end, TokenCount: tok})
		}

		if j >= len(units) {
			break
		}

		// Walk back over trailing sentences to form the overlap, always
		// advancing past the previous window start.
		k := j
		otok := 0
		for k > i+1 && otok < overlapTarget {
			k--
			otok += units[k].TokenCount
		}
		i = k
	}
	return pieces
}

// sentenceSpans segments text into contiguous sentence spans. Latin text
// goes through the prose segmenter; CJK text (or any text the segmenter
// cannot be mapped back onto) uses a terminator scan. Newlines always
// end a sentence, so paragraph boundaries are preserved.
func (c *Chunker) sentenceSpans(text string) []Piece {
	if !containsCJK(text) {
		if spans, ok := c.proseSpans(text); ok {
			return spans
		}
	}
	return c.scanSpans(text)
}

func (c *Chunker) proseSpans(text string) ([]Piece, bool) {
	doc, err := prose.NewDocument(text, prose.WithTagging(false), prose.WithExtraction(false))
	if err != nil {
		return nil, false
	}

	var spans []Piece
	cursor := 0
	for _, sent := range doc.Sentences() {
		idx := strings.Index(text[cursor:], sent.Text)
		if idx < 0 {
			return nil, false
		}
		start := cursor + idx
		end := start + len(sent.Text)
		// Attach any gap (whitespace) to the preceding span to keep
		// coverage contiguous.
		if n := len(spans); n > 0 {
			spans[n-1].End = start
		}
		spans = append(spans, Piece{Start: start, End: end, TokenCount: c.tokens(sent.Text)})
		cursor = end
	}
	if len(spans) == 0 {
		return nil, false
	}
	spans[len(spans)-1].End = len(text)
	return spans, true
}

func (c *Chunker) scanSpans(text string) []Piece {
	var spans []Piece
	start := 0
	runes := []rune(text)
	pos := 0
	byteOff := 0

	flush := func(end int) {
		if end > start {
			spans = append(spans, Piece{Start: start, End: end, TokenCount: c.tokens(text[start:end])})
		}
		start = end
	}

	for pos < len(runes) {
		r := runes[pos]
		width := len(string(r))
		next := byteOff + width

		if r == '\n' {
			flush(next)
		} else if isSentenceEnd(r) {
			// Boundary only when followed by whitespace or end of text.
			if pos+1 >= len(runes) || unicode.IsSpace(runes[pos+1]) {
				flush(next)
			}
		}

		byteOff = next
		pos++
	}
	flush(len(text))
	return spans
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '．', '？', '！':
		return true
	}
	return false
}

// hardCut splits [start,end) at word boundaries into pieces of at most
// maxTokens each, falling back to rune boundaries for unbroken runs.
func (c *Chunker) hardCut(text string, start, end, maxTokens int) []Piece {
	var pieces []Piece
	for start < end {
		cuts := cutCandidates(text, start, end)
		// Largest candidate whose prefix stays within the budget.
		lo, hi := 0, len(cuts)-1
		best := cuts[0]
		for lo <= hi {
			mid := (lo + hi) / 2
			if c.tokens(text[start:cuts[mid]]) <= maxTokens {
				best = cuts[mid]
				lo = mid + 1
			} else {
				hi = mid - 1
			}
		}
		s, e := trimSpan(text, start, best)
		if e > s {
			pieces = append(pieces, Piece{Start: s, End: e, TokenCount: c.tokens(text[s:e])})
		}
		start = best
	}
	return pieces
}

// cutCandidates lists ascending cut positions in (start, end]: after
// each whitespace run, or every rune when the span has no whitespace.
func cutCandidates(text string, start, end int) []int {
	var cuts []int
	inSpace := false
	for i, r := range text[start:end] {
		isSpace := unicode.IsSpace(r)
		if inSpace && !isSpace {
			cuts = append(cuts, start+i)
		}
		inSpace = isSpace
	}
	if len(cuts) == 0 {
		for i := range text[start:end] {
			if i > 0 {
				cuts = append(cuts, start+i)
			}
		}
	}
	cuts = append(cuts, end)
	return cuts
}

func trimSpan(text string, start, end int) (int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}

func containsCJK(s string) bool {
	for _, r := range s {
		if isCJK(r) {
			return true
		}
	}
	return false
}
