package retrieval

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
)

// SparseIndex is an in-memory inverted index over chunk text scored
// with TF-IDF. It is rebuilt from the chunk store at startup and kept
// in sync on every upsert and delete, so it never needs persistence of
// its own.
type SparseIndex struct {
	mu      sync.RWMutex
	docs    map[string]*sparseDoc
	byDoc   map[string][]string
	df      map[string]int
	totalLn float64
}

type sparseDoc struct {
	meta  Candidate
	terms map[string]int
	size  int
}

func NewSparseIndex() *SparseIndex {
	return &SparseIndex{
		docs:  make(map[string]*sparseDoc),
		byDoc: make(map[string][]string),
		df:    make(map[string]int),
	}
}

// Add indexes one chunk, replacing any previous entry under the same id.
func (s *SparseIndex) Add(chunk models.Chunk) {
	terms := termCounts(Tokenize(chunk.Text))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(chunk.ID)

	size := 0
	for term, n := range terms {
		s.df[term]++
		size += n
	}
	s.docs[chunk.ID] = &sparseDoc{
		meta: Candidate{
			ChunkID:     chunk.ID,
			DocumentID:  chunk.DocumentID,
			SectionType: string(chunk.SectionType),
			PageStart:   chunk.PageStart,
			PageEnd:     chunk.PageEnd,
			Text:        chunk.Text,
		},
		terms: terms,
		size:  size,
	}
	s.byDoc[chunk.DocumentID] = append(s.byDoc[chunk.DocumentID], chunk.ID)
}

// RemoveDocument drops every chunk of a document from the index.
func (s *SparseIndex) RemoveDocument(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunkID := range s.byDoc[documentID] {
		s.removeLocked(chunkID)
	}
	delete(s.byDoc, documentID)
}

func (s *SparseIndex) removeLocked(chunkID string) {
	doc, ok := s.docs[chunkID]
	if !ok {
		return
	}
	for term := range doc.terms {
		s.df[term]--
		if s.df[term] <= 0 {
			delete(s.df, term)
		}
	}
	delete(s.docs, chunkID)

	ids := s.byDoc[doc.meta.DocumentID]
	for i, id := range ids {
		if id == chunkID {
			s.byDoc[doc.meta.DocumentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

func (s *SparseIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Search scores every chunk sharing a term with the query and returns
// the topK by TF-IDF, ties broken by ascending chunk id.
func (s *SparseIndex) Search(query string, topK int) []Candidate {
	queryTerms := termCounts(Tokenize(query))
	if len(queryTerms) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := float64(len(s.docs))
	if total == 0 {
		return nil
	}

	scores := make(map[string]float64)
	for term := range queryTerms {
		df, ok := s.df[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + total/float64(df))
		for chunkID, doc := range s.docs {
			tf, ok := doc.terms[term]
			if !ok {
				continue
			}
			scores[chunkID] += (float64(tf) / float64(doc.size)) * idf
		}
	}

	candidates := make([]Candidate, 0, len(scores))
	for chunkID, score := range scores {
		c := s.docs[chunkID].meta
		c.Score = score
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ChunkID < candidates[j].ChunkID
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

func termCounts(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return counts
}

// Tokenize splits text into index terms: lowercased word runs for
// alphanumeric script, character bigrams for CJK where whitespace does
// not delimit words.
func Tokenize(text string) []string {
	tokens := make([]string, 0, len(text)/4)
	var word strings.Builder
	var prevCJK rune

	flushWord := func() {
		if word.Len() > 0 {
			tokens = append(tokens, strings.ToLower(word.String()))
			word.Reset()
		}
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			tokens = append(tokens, string(r))
			if prevCJK != 0 {
				tokens = append(tokens, string([]rune{prevCJK, r}))
			}
			prevCJK = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevCJK = 0
			word.WriteRune(r)
		default:
			prevCJK = 0
			flushWord()
		}
	}
	flushWord()

	return tokens
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r)
}
