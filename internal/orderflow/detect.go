package orderflow

import (
	"strings"
	"unicode"

	"github.com/suPer8Hu/commerce-chat/internal/textnorm"
)

var intentPhrases = []string{
	"đặt hàng", "mua", "order", "đặt mua",
	"đặt luôn", "lấy luôn", "chốt đơn",
	"em muốn mua", "cho em", "giao hàng",
}

var (
	confirmExact    = []string{"được", "ok", "ừ", "vâng", "có", "yes"}
	confirmPrefixes = []string{"đúng", "chốt", "đồng ý"}
	confirmContains = []string{"phải rồi", "đúng rồi", "ok luôn"}
	// a trailing "không" is the question particle ("còn size M không"),
	// so negations only count as the first word
	refusalLeads = []string{"không", "thôi", "sai"}
	cancelWords  = []string{"hủy", "huỷ", "để sau"}
)

// Markers the confirmation question must carry.
const (
	markerShipTo   = "giao về"
	markerQuestion = "phải không"
)

// DetectIntent reports whether the message asks to buy or check out.
// Matching ignores diacritics and only hits whole words.
func DetectIntent(text string) bool {
	return textnorm.ContainsWord(text, intentPhrases...)
}

// IsConfirmation reports an affirmative answer to the shipping question.
// Diacritics matter here: "có" and "co" are different answers.
func IsConfirmation(text string) bool {
	t := strings.Trim(textnorm.Lower(text), " .!?~")
	if t == "" {
		return false
	}
	for _, e := range confirmExact {
		if t == e {
			return true
		}
	}
	for _, p := range confirmPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	for _, c := range confirmContains {
		if strings.Contains(t, c) {
			return true
		}
	}
	return false
}

// IsCancellation reports a refusal such as "thôi để sau" or "không phải".
func IsCancellation(text string) bool {
	words := strings.FieldsFunc(textnorm.Lower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(words) == 0 {
		return false
	}
	for _, w := range refusalLeads {
		if words[0] == w {
			return true
		}
	}
	return textnorm.ContainsExactWord(text, cancelWords...)
}

// HasConfirmationMarkers reports whether a bot message is the shipping
// confirmation question.
func HasConfirmationMarkers(text string) bool {
	t := textnorm.Lower(text)
	return strings.Contains(t, markerShipTo) && strings.Contains(t, markerQuestion)
}
