package answer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/rerank"
	"github.com/cjLee-cmd/test-PatAI/internal/retrieval"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

// NoEvidenceResponse is returned verbatim whenever the retrieved
// passages cannot ground an answer. The model is not called in that
// case, so nothing can be fabricated.
const NoEvidenceResponse = "제공된 문서에서 확인할 수 없습니다."

var markerRe = regexp.MustCompile(`\[S(\d+)\]`)

// Generator produces the answer text from numbered context blocks.
type Generator interface {
	GenerateAnswer(ctx context.Context, query string, contextBlocks []string) (string, error)
}

// Source is one passage shown to the model, numbered by its [S#] marker.
type Source struct {
	Marker      int
	ChunkID     string
	DocumentID  string
	SectionType string
	PageStart   int
	PageEnd     int
	Score       float64
	Cited       bool
}

// Answer is a synthesized response with its provenance.
type Answer struct {
	Text       string
	Sources    []Source
	NoEvidence bool
	Unverified bool
	Degraded   bool
}

// Synthesizer turns re-ranked candidates into a grounded answer. Every
// marker in the output must resolve to a presented source; markers that
// do not are stripped and the answer flagged unverified.
type Synthesizer struct {
	generator Generator
	threshold float64
}

// NewSynthesizer takes the relevance threshold on a 0-1 scale; scores
// from the re-ranker arrive on 0-10 and are normalized before the gate.
func NewSynthesizer(generator Generator, threshold float64) *Synthesizer {
	return &Synthesizer{generator: generator, threshold: threshold}
}

func (s *Synthesizer) Synthesize(ctx context.Context, query string, reranked rerank.Result) (Answer, error) {
	candidates := reranked.Candidates
	if !reranked.Degraded {
		candidates = s.aboveThreshold(candidates)
	}

	if len(candidates) == 0 {
		return Answer{Text: NoEvidenceResponse, NoEvidence: true, Degraded: reranked.Degraded}, nil
	}

	blocks := make([]string, len(candidates))
	sources := make([]Source, len(candidates))
	for i, c := range candidates {
		blocks[i] = formatBlock(i+1, c)
		sources[i] = Source{
			Marker:      i + 1,
			ChunkID:     c.ChunkID,
			DocumentID:  c.DocumentID,
			SectionType: c.SectionType,
			PageStart:   c.PageStart,
			PageEnd:     c.PageEnd,
			Score:       c.Score,
		}
	}

	text, err := s.generator.GenerateAnswer(ctx, query, blocks)
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	text, cited, hadInvalid := resolveMarkers(text, len(sources))
	for marker := range cited {
		sources[marker-1].Cited = true
	}

	answer := Answer{
		Text:     text,
		Sources:  sources,
		Degraded: reranked.Degraded,
	}
	if hadInvalid || hasUncitedSentence(text) {
		answer.Unverified = true
	}
	if len(cited) == 0 && !strings.Contains(text, NoEvidenceResponse) {
		answer.Unverified = true
	}

	if answer.Unverified {
		logger.Warn("Answer contains uncited content", zap.String("query", query))
	}
	return answer, nil
}

func (s *Synthesizer) aboveThreshold(candidates []retrieval.Candidate) []retrieval.Candidate {
	kept := make([]retrieval.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score/10 >= s.threshold {
			kept = append(kept, c)
		}
	}
	return kept
}

func formatBlock(marker int, c retrieval.Candidate) string {
	return fmt.Sprintf("[S%d] (%s, p.%d-%d)\n%s", marker, c.SectionType, c.PageStart, c.PageEnd, c.Text)
}

// resolveMarkers strips markers that reference no presented source and
// reports the set of valid markers actually used.
func resolveMarkers(text string, sourceCount int) (string, map[int]bool, bool) {
	cited := make(map[int]bool)
	hadInvalid := false

	cleaned := markerRe.ReplaceAllStringFunc(text, func(m string) string {
		n, err := strconv.Atoi(markerRe.FindStringSubmatch(m)[1])
		if err != nil || n < 1 || n > sourceCount {
			hadInvalid = true
			return ""
		}
		cited[n] = true
		return m
	})

	return cleaned, cited, hadInvalid
}

// hasUncitedSentence reports whether any substantive sentence lacks a
// marker. Sentences are delimited on Korean and Latin terminators.
func hasUncitedSentence(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		for _, sentence := range splitSentences(line) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" || len([]rune(sentence)) < 5 {
				continue
			}
			if strings.Contains(sentence, "확인할 수 없습니다") {
				continue
			}
			if !markerRe.MatchString(sentence) {
				return true
			}
		}
	}
	return false
}

func splitSentences(line string) []string {
	var sentences []string
	start := 0
	runes := []rune(line)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' || r == '。' {
			// Markers trail the terminator, keep them with the sentence.
			end := i + 1
			for end < len(runes) {
				j := end
				for j < len(runes) && runes[j] == ' ' {
					j++
				}
				if j >= len(runes) || runes[j] != '[' {
					break
				}
				for j < len(runes) && runes[j] != ']' {
					j++
				}
				if j < len(runes) {
					j++
				}
				end = j
			}
			sentences = append(sentences, string(runes[start:end]))
			start = end
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}
