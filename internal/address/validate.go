// Package address validates and normalizes Vietnamese shipping addresses
// coming from model tool calls or free text.
package address

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/textnorm"
)

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonTooShort     Reason = "too_short"
	ReasonDigitsOnly   Reason = "digits_only"
	ReasonProductText  Reason = "product_text"
	ReasonInvalidPhone Reason = "invalid_phone"
	ReasonMissingCity  Reason = "missing_city"
)

const minLineLength = 5

var (
	digitsOnlyRe = regexp.MustCompile(`^[\d\s]+$`)
	phoneRe      = regexp.MustCompile(`^[0+]\d{9,11}$`)
)

// productVocabulary are apparel/material words the model sometimes echoes
// into the address field.
var productVocabulary = []string{"cao cấp", "lớp", "set", "vest", "quần", "áo"}

var reasonMessages = map[Reason]string{
	ReasonTooShort:     "Địa chỉ quá ngắn, vui lòng cung cấp đầy đủ số nhà và tên đường",
	ReasonDigitsOnly:   "Địa chỉ không hợp lệ",
	ReasonProductText:  "Địa chỉ không hợp lệ - vui lòng cung cấp số nhà và tên đường",
	ReasonInvalidPhone: "Số điện thoại không hợp lệ",
	ReasonMissingCity:  "Thiếu thông tin thành phố",
}

const SavedMessage = "Đã lưu địa chỉ thành công"

type Result struct {
	OK      bool
	Reason  Reason
	Message string
}

// NeedsReparse reports whether the rejection means the model put a phone
// number where the street should be, so the whole message should be parsed
// again instead of failing.
func (r Result) NeedsReparse() bool { return r.Reason == ReasonDigitsOnly }

func reject(reason Reason) Result {
	return Result{Reason: reason, Message: reasonMessages[reason]}
}

// Validate applies the rules in order and stops at the first failure.
func Validate(a models.ShippingAddress) Result {
	line := strings.TrimSpace(a.AddressLine)
	if utf8.RuneCountInString(line) < minLineLength {
		return reject(ReasonTooShort)
	}
	if digitsOnlyRe.MatchString(line) {
		return reject(ReasonDigitsOnly)
	}
	if !startsWithDigit(line) && containsProductVocabulary(line) {
		return reject(ReasonProductText)
	}
	if phone := strings.TrimSpace(a.Phone); phone != "" && !phoneRe.MatchString(NormalizePhone(phone)) {
		return reject(ReasonInvalidPhone)
	}
	if strings.TrimSpace(a.City) == "" {
		return reject(ReasonMissingCity)
	}
	return Result{OK: true, Message: SavedMessage}
}

// ValidPhone reports whether phone matches the Vietnamese pattern.
func ValidPhone(phone string) bool {
	return phoneRe.MatchString(NormalizePhone(phone))
}

func startsWithDigit(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsDigit(r)
}

func containsProductVocabulary(line string) bool {
	return textnorm.ContainsExactWord(line, productVocabulary...)
}

// NormalizePhone strips separators: "090 123.4567" -> "0901234567".
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '+' {
			return r
		}
		return -1
	}, phone)
}

// Normalize trims and collapses whitespace, title-cases the street, ward and
// district, canonicalizes well-known city spellings and cleans the phone.
func Normalize(a models.ShippingAddress) models.ShippingAddress {
	clean := func(s string) string { return strings.Join(strings.Fields(s), " ") }

	out := models.ShippingAddress{
		FullName:    textnorm.TitleWords(clean(a.FullName)),
		Phone:       NormalizePhone(a.Phone),
		AddressLine: clean(a.AddressLine),
		Ward:        clean(a.Ward),
		District:    clean(a.District),
		City:        clean(a.City),
	}
	if out.AddressLine != "" {
		out.AddressLine = textnorm.TitleWords(out.AddressLine)
	}
	if out.Ward != "" {
		out.Ward = textnorm.TitleWords(out.Ward)
	}
	if out.District != "" {
		out.District = textnorm.TitleWords(out.District)
	}
	if c, ok := CanonicalCity(out.City); ok {
		out.City = c
	}
	return out
}
