package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLExtractor handles patent publications distributed as HTML pages.
// The whole document becomes a single page.
type HTMLExtractor struct{}

func NewHTMLExtractor() *HTMLExtractor {
	return &HTMLExtractor{}
}

func (e *HTMLExtractor) CanExtract(filename, contentType string) bool {
	lower := strings.ToLower(filename)
	return strings.HasPrefix(contentType, "text/html") ||
		strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm")
}

func (e *HTMLExtractor) Extract(data []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	// Keep block structure: paragraphs and divs become their own lines so
	// the section tagger sees headings on separate lines.
	var b strings.Builder
	doc.Find("body").Find("h1, h2, h3, h4, p, div, li, td").Each(func(i int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteString("\n")
	})

	text := b.String()
	if strings.TrimSpace(text) == "" {
		text = strings.TrimSpace(doc.Find("body").Text())
	}

	return []string{text}, nil
}
