// Package textnorm folds Vietnamese text so keyword matching works with or
// without diacritics ("đặt hàng" == "dat hang").
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var dReplacer = strings.NewReplacer("đ", "d", "Đ", "d")

// Fold lowercases s, strips combining marks and maps đ to d. Runs of
// whitespace collapse to a single space.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = dReplacer.Replace(strings.ToLower(out))
	return strings.Join(strings.Fields(out), " ")
}

// ContainsAny reports whether the folded text contains any folded needle.
func ContainsAny(text string, needles ...string) bool {
	f := Fold(text)
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(f, Fold(n)) {
			return true
		}
	}
	return false
}

// ContainsWord is like ContainsAny but only matches whole words, so "mua"
// does not match inside "muaaa" or "tmua".
func ContainsWord(text string, needles ...string) bool {
	f := " " + Fold(stripPunct(text)) + " "
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(f, " "+Fold(n)+" ") {
			return true
		}
	}
	return false
}

// ContainsExactWord matches whole words case-insensitively but keeps
// diacritics, for vocabularies where folding collides ("quần" vs "quận").
func ContainsExactWord(text string, needles ...string) bool {
	f := " " + Lower(stripPunct(text)) + " "
	for _, n := range needles {
		if n == "" {
			continue
		}
		if strings.Contains(f, " "+Lower(n)+" ") {
			return true
		}
	}
	return false
}

// Lower returns the NFC, lower-cased, whitespace-collapsed form of s.
func Lower(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(norm.NFC.String(s))), " ")
}

func stripPunct(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
}

// TitleWords upper-cases the first rune of every word and lower-cases the
// rest.
func TitleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}
