package textproc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
)

func TestChunkWholeSection(t *testing.T) {
	c := NewChunker(nil, nil)

	pieces := c.Chunk(models.SectionAbstract, "  본 발명은 반도체 소자에 관한 것이다.  ")

	require.Len(t, pieces, 1)
	assert.Equal(t, "본 발명은 반도체 소자에 관한 것이다.", pieceText("  본 발명은 반도체 소자에 관한 것이다.  ", pieces[0]))
}

func TestChunkClaimsOnePerClaim(t *testing.T) {
	c := NewChunker(nil, nil)
	text := strings.Join([]string{
		"【청구범위】",
		"【청구항 1】 기판을 준비하는 단계를 포함하는 반도체 소자의 제조 방법.",
		"【청구항 2】 제1항에 있어서, 절연막을 형성하는 단계를 더 포함하는 방법.",
		"【청구항 3】 제2항에 있어서, 배선층을 형성하는 단계를 더 포함하는 방법.",
		"【청구항 4】 제1항에 있어서, 상기 기판은 실리콘 기판인 방법.",
		"【청구항 5】 제1항에 있어서, 상기 기판은 유리 기판인 방법.",
	}, "\n")

	pieces := c.Chunk(models.SectionClaims, text)

	require.Len(t, pieces, 5)
	// Preamble folds into the first claim.
	assert.True(t, strings.HasPrefix(pieceText(text, pieces[0]), "【청구범위】"))
	for i, piece := range pieces {
		got := pieceText(text, piece)
		assert.Contains(t, got, fmt.Sprintf("청구항 %d", i+1))
		if i > 0 {
			assert.NotContains(t, got, fmt.Sprintf("청구항 %d】", i))
		}
	}
}

func TestChunkClaimNeverSplit(t *testing.T) {
	c := NewChunker(nil, nil)
	long := strings.Repeat("기판 위에 절연막과 도전막을 차례로 형성하고 패터닝하는 단계와 ", 60)
	text := "청구항 1. " + long + "를 포함하는 방법.\n청구항 2. 제1항의 방법."

	pieces := c.Chunk(models.SectionClaims, text)

	// The oversized claim stays one piece even beyond MaxTokens.
	require.Len(t, pieces, 2)
	assert.Contains(t, pieceText(text, pieces[0]), "청구항 1")
	assert.Contains(t, pieceText(text, pieces[1]), "청구항 2")
}

func TestChunkPerLine(t *testing.T) {
	c := NewChunker(nil, nil)
	text := "H01L 21/02\nG06F 17/30\n\nH01L 29/78"

	pieces := c.Chunk(models.SectionIPC, text)

	require.Len(t, pieces, 3)
	assert.Equal(t, "H01L 21/02", pieceText(text, pieces[0]))
	assert.Equal(t, "G06F 17/30", pieceText(text, pieces[1]))
	assert.Equal(t, "H01L 29/78", pieceText(text, pieces[2]))
}

func TestChunkDescriptionRespectsBudget(t *testing.T) {
	c := NewChunker(nil, nil)

	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "이 문장은 설명 섹션의 %d번째 문장으로 충분히 길게 작성되어 있다. ", i)
	}
	text := b.String()

	policy := DefaultPolicies()[models.SectionDescription]
	pieces := c.Chunk(models.SectionDescription, text)

	require.Greater(t, len(pieces), 1)
	for _, piece := range pieces {
		assert.LessOrEqual(t, piece.TokenCount, policy.MaxTokens)
	}
	// Consecutive windows overlap: each next piece starts before the
	// previous one ends, but always advances.
	for i := 1; i < len(pieces); i++ {
		assert.Less(t, pieces[i].Start, pieces[i-1].End)
		assert.Greater(t, pieces[i].Start, pieces[i-1].Start)
	}
}

func TestChunkDeterministic(t *testing.T) {
	c := NewChunker(nil, nil)
	text := strings.Repeat("반도체 소자의 제조 방법에 관한 설명이다. ", 300)

	first := c.Chunk(models.SectionDescription, text)
	second := c.Chunk(models.SectionDescription, text)

	assert.Equal(t, first, second)
}

func TestChunkOffsetsMapBackToText(t *testing.T) {
	c := NewChunker(nil, nil)
	text := strings.Repeat("기판 위에 절연막을 형성한다. 그 위에 도전막을 형성한다. ", 150)

	for _, piece := range c.Chunk(models.SectionDescription, text) {
		require.GreaterOrEqual(t, piece.Start, 0)
		require.LessOrEqual(t, piece.End, len(text))
		require.Less(t, piece.Start, piece.End)
		assert.Equal(t, strings.TrimSpace(text[piece.Start:piece.End]), text[piece.Start:piece.End])
	}
}

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 3, CountTokens("반도체"))
	assert.Equal(t, 2, CountTokens("hello world"))
	assert.Equal(t, 4, CountTokens("반도체 device"))
	assert.Equal(t, 0, CountTokens("  \n"))
}

func pieceText(text string, p Piece) string {
	return text[p.Start:p.End]
}
