package address

import (
	"regexp"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/textnorm"
)

type city struct {
	Canonical string
	Aliases   []string
}

var cities = []city{
	{"Hà Nội", []string{"hà nội", "hanoi", "hn"}},
	{"TP.HCM", []string{"tp.hcm", "tp hcm", "tphcm", "hồ chí minh", "sài gòn", "hcm", "sg"}},
	{"Đà Nẵng", []string{"đà nẵng"}},
	{"Hải Phòng", []string{"hải phòng"}},
	{"Cần Thơ", []string{"cần thơ"}},
	{"Biên Hòa", []string{"biên hòa", "biên hoà"}},
	{"Nha Trang", []string{"nha trang"}},
	{"Huế", []string{"huế"}},
	{"Vũng Tàu", []string{"vũng tàu"}},
}

var hanoiDistricts = []string{
	"Ba Đình", "Hoàn Kiếm", "Đống Đa", "Hai Bà Trưng", "Cầu Giấy", "Thanh Xuân",
	"Tây Hồ", "Long Biên", "Hoàng Mai", "Hà Đông", "Nam Từ Liêm", "Bắc Từ Liêm",
}

var hcmNamedDistricts = []string{"Bình Thạnh", "Tân Bình", "Tân Phú", "Gò Vấp", "Phú Nhuận", "Thủ Đức"}

var (
	phoneInTextRe   = regexp.MustCompile(`(?i)(?:sđt|sdt|số điện thoại|phone|đt)?[:\s]*([0+]\d{9,10})`)
	numberedDistRe  = regexp.MustCompile(`(?i)(?:quận|q\.)\s*(\d{1,2})`)
	wardRe          = regexp.MustCompile(`(?i)(?:^|[\s,])(phường|xã|p\.)\s*([^,\n]+?)(?:,|\s+(?:quận|q\.|huyện|tp|thành phố)|$)`)
	lineStartRe     = regexp.MustCompile(`\d+[\p{L}\d/]*(?:\s+|$)`)
	lineBoundaryRe  = regexp.MustCompile(`(?i)\s+(?:(?:phường|quận|huyện|xã|thành phố)(?:\s|\d|$)|(?:p|q|tp)\.|tp(?:\s|$))`)
	leadingFillerRe = regexp.MustCompile(`(?i)^(?:giao về|giao tới|giao đến|gửi về|địa chỉ|đc|dc)[:\s]*`)
)

// CanonicalCity maps a free-form city name to its canonical spelling.
// Accent-insensitive, with a one-edit tolerance for longer names.
func CanonicalCity(s string) (string, bool) {
	f := textnorm.Fold(s)
	if f == "" {
		return "", false
	}
	for _, c := range cities {
		for _, alias := range c.Aliases {
			if f == textnorm.Fold(alias) {
				return c.Canonical, true
			}
		}
	}
	for _, c := range cities {
		for _, alias := range c.Aliases {
			fa := textnorm.Fold(alias)
			if len(fa) >= 6 && fuzzy.LevenshteinDistance(f, fa) <= 1 {
				return c.Canonical, true
			}
		}
	}
	return "", false
}

// findCity scans text for a known city alias and returns the canonical
// name. Short aliases ("hn", "sg", "huế") only match as whole words with
// their diacritics, so "Nguyễn Huệ" is not Huế.
func findCity(text string) string {
	for _, c := range cities {
		for _, alias := range c.Aliases {
			if len(textnorm.Fold(alias)) <= 4 {
				if textnorm.ContainsExactWord(text, alias) {
					return c.Canonical
				}
				continue
			}
			if textnorm.ContainsAny(text, alias) {
				return c.Canonical
			}
		}
	}
	return ""
}

func findDistrict(text string) string {
	if m := numberedDistRe.FindStringSubmatch(text); m != nil {
		return "Quận " + m[1]
	}
	for _, d := range hanoiDistricts {
		if textnorm.ContainsAny(text, d) {
			return d
		}
	}
	for _, d := range hcmNamedDistricts {
		if textnorm.ContainsAny(text, d) {
			return d
		}
	}
	return ""
}

func findWard(text string) string {
	m := wardRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	name := strings.TrimSpace(m[2])
	if name == "" {
		return ""
	}
	prefix := "Phường"
	if strings.EqualFold(textnorm.Fold(m[1]), "xa") {
		prefix = "Xã"
	}
	return prefix + " " + textnorm.TitleWords(name)
}

// findLine returns the first comma separated segment that carries a house
// number, cut before any ward/district/city marker.
func findLine(text string) string {
	for _, seg := range strings.Split(text, ",") {
		seg = leadingFillerRe.ReplaceAllString(strings.TrimSpace(seg), "")
		loc := lineStartRe.FindStringIndex(seg)
		if loc == nil {
			continue
		}
		line := seg[loc[0]:]
		if b := lineBoundaryRe.FindStringIndex(line); b != nil {
			line = line[:b[0]]
		}
		line = strings.TrimSpace(line)
		if len(strings.Fields(line)) < 2 {
			continue
		}
		if digitsOnlyRe.MatchString(line) {
			continue
		}
		return line
	}
	return ""
}

// Extract parses a shipping address out of a whole customer message. ok is
// true when the result passes Validate.
func Extract(text string) (models.ShippingAddress, bool) {
	var out models.ShippingAddress

	rest := text
	if m := phoneInTextRe.FindStringSubmatchIndex(rest); m != nil {
		out.Phone = rest[m[2]:m[3]]
		rest = rest[:m[0]] + " " + rest[m[1]:]
	}
	rest = strings.Join(strings.Fields(rest), " ")

	out.City = findCity(rest)
	out.District = findDistrict(rest)
	out.Ward = findWard(rest)
	out.AddressLine = findLine(rest)

	out = Normalize(out)
	return out, Validate(out).OK
}
