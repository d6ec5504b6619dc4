package textproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
)

func TestTagSectionsKoreanHeadings(t *testing.T) {
	text := strings.Join([]string{
		"【발명의 명칭】",
		"반도체 소자의 제조 방법",
		"【요약】",
		"본 발명은 반도체 소자에 관한 것이다.",
		"【청구범위】",
		"청구항 1. 기판을 준비하는 단계를 포함하는 방법.",
		"【발명의 설명】",
		"기판 위에 절연막을 형성한다.",
	}, "\n")

	sections := TagSections(text)

	types := sectionTypes(sections)
	assert.Equal(t, []models.SectionType{
		models.SectionTitle,
		models.SectionAbstract,
		models.SectionClaims,
		models.SectionDescription,
	}, types)

	assertCoverage(t, sections, len(text))
}

func TestTagSectionsEnglishHeadings(t *testing.T) {
	text := strings.Join([]string{
		"ABSTRACT",
		"A method of manufacturing a semiconductor device.",
		"CLAIMS",
		"Claim 1. A method comprising preparing a substrate.",
		"DESCRIPTION",
		"An insulating film is formed on the substrate.",
	}, "\n")

	sections := TagSections(text)

	types := sectionTypes(sections)
	assert.Equal(t, []models.SectionType{
		models.SectionAbstract,
		models.SectionClaims,
		models.SectionDescription,
	}, types)
	assertCoverage(t, sections, len(text))
}

func TestTagSectionsNoHeadingsFallsBackToDescription(t *testing.T) {
	text := "아무 표제도 없는 본문 단락입니다.\n그냥 이어지는 문장입니다."

	sections := TagSections(text)

	require.Len(t, sections, 1)
	assert.Equal(t, models.SectionDescription, sections[0].Type)
	assert.Equal(t, 0, sections[0].Start)
	assert.Equal(t, len(text), sections[0].End)
}

func TestTagSectionsIPCCodeRun(t *testing.T) {
	text := strings.Join([]string{
		"본문 시작입니다.",
		"H01L 21/02",
		"G06F 17/30 (2006.01)",
		"본문이 다시 이어집니다.",
	}, "\n")

	sections := TagSections(text)

	types := sectionTypes(sections)
	assert.Equal(t, []models.SectionType{
		models.SectionDescription,
		models.SectionIPC,
		models.SectionDescription,
	}, types)
	assertCoverage(t, sections, len(text))
}

func TestTagSectionsEmptyText(t *testing.T) {
	sections := TagSections("")

	require.Len(t, sections, 1)
	assert.Equal(t, models.SectionDescription, sections[0].Type)
}

func sectionTypes(sections []Section) []models.SectionType {
	types := make([]models.SectionType, len(sections))
	for i, s := range sections {
		types[i] = s.Type
	}
	return types
}

// assertCoverage checks spans are ordered, non-overlapping, and cover
// the text without gaps.
func assertCoverage(t *testing.T, sections []Section, textLen int) {
	t.Helper()
	require.NotEmpty(t, sections)
	assert.Equal(t, 0, sections[0].Start)
	for i := 1; i < len(sections); i++ {
		assert.Equal(t, sections[i-1].End, sections[i].Start)
	}
	assert.Equal(t, textLen, sections[len(sections)-1].End)
}
