package retrieval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
)

func chunk(id, docID, text string) models.Chunk {
	return models.Chunk{
		ID:          id,
		DocumentID:  docID,
		SectionType: models.SectionDescription,
		Text:        text,
	}
}

func TestSparseSearchRanksMatchingChunks(t *testing.T) {
	idx := NewSparseIndex()
	idx.Add(chunk("d1:0000", "d1", "반도체 소자의 제조 방법에 관한 발명"))
	idx.Add(chunk("d1:0001", "d1", "디스플레이 패널의 구동 회로"))
	idx.Add(chunk("d2:0000", "d2", "반도체 기판과 반도체 메모리 소자"))

	results := idx.Search("반도체 소자", 10)

	require.NotEmpty(t, results)
	for _, r := range results {
		assert.NotEqual(t, "d1:0001", r.ChunkID)
	}
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSparseSearchEmptyQuery(t *testing.T) {
	idx := NewSparseIndex()
	idx.Add(chunk("d1:0000", "d1", "반도체 소자"))

	assert.Nil(t, idx.Search("", 10))
	assert.Nil(t, idx.Search("   ", 10))
}

func TestSparseSearchTopKAndTieBreak(t *testing.T) {
	idx := NewSparseIndex()
	// Identical content scores identically; order must be ascending id.
	idx.Add(chunk("d1:0002", "d1", "동일한 내용의 청크"))
	idx.Add(chunk("d1:0000", "d1", "동일한 내용의 청크"))
	idx.Add(chunk("d1:0001", "d1", "동일한 내용의 청크"))

	results := idx.Search("동일한 내용", 2)

	require.Len(t, results, 2)
	assert.Equal(t, "d1:0000", results[0].ChunkID)
	assert.Equal(t, "d1:0001", results[1].ChunkID)
}

func TestSparseRemoveDocument(t *testing.T) {
	idx := NewSparseIndex()
	idx.Add(chunk("d1:0000", "d1", "반도체 소자"))
	idx.Add(chunk("d2:0000", "d2", "반도체 기판"))

	idx.RemoveDocument("d1")

	assert.Equal(t, 1, idx.Len())
	for _, r := range idx.Search("반도체", 10) {
		assert.Equal(t, "d2", r.DocumentID)
	}
}

func TestSparseAddReplacesSameID(t *testing.T) {
	idx := NewSparseIndex()
	idx.Add(chunk("d1:0000", "d1", "원래 내용"))
	idx.Add(chunk("d1:0000", "d1", "바뀐 내용"))

	assert.Equal(t, 1, idx.Len())
	assert.Empty(t, idx.Search("원래", 10))
	assert.NotEmpty(t, idx.Search("바뀐", 10))
}

func TestSparseSearchDeterministic(t *testing.T) {
	idx := NewSparseIndex()
	for i := 0; i < 20; i++ {
		idx.Add(chunk(fmt.Sprintf("d1:%04d", i), "d1", fmt.Sprintf("반도체 소자 %d 설명", i)))
	}

	first := idx.Search("반도체 소자", 10)
	second := idx.Search("반도체 소자", 10)

	assert.Equal(t, first, second)
}

func TestTokenizeMixedScript(t *testing.T) {
	tokens := Tokenize("반도체 CMOS 소자")

	assert.Contains(t, tokens, "반")
	assert.Contains(t, tokens, "반도")
	assert.Contains(t, tokens, "도체")
	assert.Contains(t, tokens, "cmos")
	assert.NotContains(t, tokens, "반도체")
}
