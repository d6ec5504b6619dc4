package textproc

import "unicode"

// Tokenizer counts retrieval tokens in a string. The chunker is agnostic
// to which tokenizer is injected but is deterministic for a given one.
type Tokenizer func(string) int

// CountTokens is the default tokenizer: each CJK rune counts as one
// token (Korean/Chinese/Japanese text has no useful word spacing for
// budget purposes), each run of Latin letters or digits counts as one.
func CountTokens(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		switch {
		case isCJK(r):
			count++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		default:
			inWord = false
		}
	}
	return count
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Hangul, r) ||
		unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r)
}
