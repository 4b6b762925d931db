package prompt

import "unicode"

// EstimateTokens is a cheap token estimate: a CJK character counts as 1/2.5
// of a token and any other character as 1/4, rounded up.
//
// The sum is kept in twentieths so the rounding is exact.
func EstimateTokens(content string) int {
	var cjk, other int
	for _, r := range content {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	twentieths := cjk*8 + other*5
	return (twentieths + 19) / 20
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
