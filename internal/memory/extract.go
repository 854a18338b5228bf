package memory

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/store/sqlstore"
	"github.com/suPer8Hu/commerce-chat/internal/textnorm"
)

var (
	nameRe    = regexp.MustCompile(`(?i)tên\s+(?:là|tôi là|mình là|em là)\s+([\p{L}\s]+)`)
	heightRe  = regexp.MustCompile(`(?i)cao\s+(\d{1,3})\s*(cm|m)?`)
	weightRe  = regexp.MustCompile(`(?i)nặng\s+(\d{2,3})\s*kg`)
	sizeRe    = regexp.MustCompile(`(?i)\bsize\s*(xxl|xl|xs|s|m|l)\b`)
	phoneRe   = regexp.MustCompile(`(?:0|\+84)[0-9]{9,10}`)
	dislikeRe = regexp.MustCompile(`(?i)không\s+thích\s+([\p{L}\s]+)`)
	likeRe    = regexp.MustCompile(`(?i)thích\s+([\p{L}\s]+)`)
	budgetRe  = regexp.MustCompile(`(?i)(?:dưới|không quá|tối đa)\s+\d+\s*(?:k|tr|triệu|nghìn|đ)?`)
)

var (
	colorWords    = []string{"đen", "trắng", "be", "xanh", "đỏ", "vàng", "hồng", "nâu", "xám", "navy", "kem"}
	styleWords    = []string{"thanh lịch", "công sở", "casual", "thể thao", "sang trọng", "trẻ trung", "cổ điển", "hiện đại"}
	materialWords = []string{"linen", "cotton", "silk", "kaki", "jean", "polyester"}
	lifeEvents    = []string{"đi làm", "đi chơi", "dự tiệc", "du lịch", "đám cưới"}
)

const (
	maxCapturedWords  = 4
	lifeEventTTL      = 30 * 24 * time.Hour
	preferenceWeight  = 7
	budgetWeight      = 8
	lifeEventWeight   = 6
	maxPreferenceTags = 20
)

// ProfileUpdate is what short-term extraction found in one message.
type ProfileUpdate struct {
	Fields sqlstore.ProfileFields
	// Tags are colours, styles and materials the customer mentioned.
	Tags []string
}

func (u ProfileUpdate) Empty() bool {
	f := u.Fields
	return f.FullName == nil && f.Phone == nil && f.Height == nil && f.Weight == nil &&
		f.UsualSize == nil && len(u.Tags) == 0
}

// ExtractProfile reads identity and body measurements from customer text.
func ExtractProfile(text string) ProfileUpdate {
	var u ProfileUpdate

	if m := nameRe.FindStringSubmatch(text); m != nil {
		if name := firstWords(m[1], maxCapturedWords); name != "" {
			name = textnorm.TitleWords(name)
			u.Fields.FullName = &name
		}
	}
	if m := heightRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		if strings.EqualFold(m[2], "m") && h < 10 {
			h *= 100
		}
		if h >= 100 && h <= 250 {
			u.Fields.Height = &h
		}
	}
	if m := weightRe.FindStringSubmatch(text); m != nil {
		w, _ := strconv.Atoi(m[1])
		if w >= 30 && w <= 200 {
			u.Fields.Weight = &w
		}
	}
	if m := sizeRe.FindStringSubmatch(text); m != nil {
		s := strings.ToUpper(m[1])
		u.Fields.UsualSize = &s
	}
	if m := phoneRe.FindString(text); m != "" {
		u.Fields.Phone = &m
	}

	lower := textnorm.Lower(text)
	for _, vocab := range [][]string{colorWords, styleWords, materialWords} {
		for _, w := range vocab {
			if textnorm.ContainsExactWord(lower, w) {
				u.Tags = append(u.Tags, w)
			}
		}
	}
	return u
}

// MergeTags appends new tags to existing ones without duplicates.
func MergeTags(existing, add []string) []string {
	seen := make(map[string]bool, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, t := range append(append([]string{}, existing...), add...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) > maxPreferenceTags {
		out = out[len(out)-maxPreferenceTags:]
	}
	return out
}

// ExtractFacts finds long-term facts: dislikes, likes, budget and upcoming
// events. ProfileID is left for the caller.
func ExtractFacts(text string, now time.Time) []models.MemoryFact {
	lower := textnorm.Lower(text)
	var facts []models.MemoryFact

	dislike := dislikeRe.FindStringSubmatchIndex(lower)
	if dislike != nil {
		if what := firstWords(lower[dislike[2]:dislike[3]], maxCapturedWords); what != "" {
			facts = append(facts, models.MemoryFact{
				FactType:   models.FactDislike,
				FactText:   "Không thích " + what,
				Importance: preferenceWeight,
			})
		}
	}
	for _, m := range likeRe.FindAllStringSubmatchIndex(lower, -1) {
		// the "thích" inside "không thích" is not a like
		if dislike != nil && m[0] >= dislike[0] && m[0] < dislike[1] {
			continue
		}
		if what := firstWords(lower[m[2]:m[3]], maxCapturedWords); what != "" {
			facts = append(facts, models.MemoryFact{
				FactType:   models.FactPreference,
				FactText:   "Thích " + what,
				Importance: preferenceWeight,
			})
			break
		}
	}
	if b := budgetRe.FindString(lower); b != "" {
		facts = append(facts, models.MemoryFact{
			FactType:   models.FactBudget,
			FactText:   "Ngân sách " + strings.TrimSpace(b),
			Importance: budgetWeight,
		})
	}
	for _, ev := range lifeEvents {
		if strings.Contains(lower, ev) {
			exp := now.Add(lifeEventTTL)
			facts = append(facts, models.MemoryFact{
				FactType:   models.FactLifeEvent,
				FactText:   fmt.Sprintf("Sắp %s", ev),
				Importance: lifeEventWeight,
				ExpiresAt:  &exp,
			})
		}
	}
	return facts
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
