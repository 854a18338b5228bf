package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/suPer8Hu/commerce-chat/internal/models"
	"github.com/suPer8Hu/commerce-chat/internal/textnorm"
)

const minSummaryMessages = 5

const (
	IntentBrowsing = "browsing"
	IntentBuying   = "buying"
	IntentSupport  = "asking_support"

	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

var keyPointRules = []struct {
	words []string
	point string
}{
	{[]string{"áo"}, "Quan tâm áo"},
	{[]string{"quần"}, "Quan tâm quần"},
	{[]string{"váy"}, "Quan tâm váy"},
	{[]string{"size"}, "Đã hỏi size"},
	{[]string{"giá"}, "Hỏi giá"},
	{[]string{"đặt", "mua"}, "Có ý định mua"},
}

var (
	positiveWords = []string{"tuyệt", "đẹp", "thích", "ok", "được", "hay"}
	negativeWords = []string{"không", "chưa", "tệ", "xấu"}
)

// BuildSummary condenses a conversation (oldest first) by rule. It returns
// nil below five messages.
func BuildSummary(conversationID string, msgs []models.Message) *models.ConversationSummary {
	if len(msgs) < minSummaryMessages {
		return nil
	}

	var customer []string
	for _, m := range msgs {
		if m.Sender == models.SenderCustomer {
			customer = append(customer, m.Content)
		}
	}
	all := textnorm.Lower(strings.Join(customer, " "))

	points := make([]string, 0, len(keyPointRules))
	for _, r := range keyPointRules {
		if textnorm.ContainsExactWord(all, r.words...) {
			points = append(points, r.point)
		}
	}

	intent := IntentBrowsing
	switch {
	case strings.Contains(all, "đặt hàng") || textnorm.ContainsExactWord(all, "mua"):
		intent = IntentBuying
	case strings.Contains(all, "giao hàng") || textnorm.ContainsExactWord(all, "ship"):
		intent = IntentSupport
	}

	sentiment := SentimentNeutral
	pos, neg := countWords(all, positiveWords), countWords(all, negativeWords)
	switch {
	case pos > neg:
		sentiment = SentimentPositive
	case neg > pos:
		sentiment = SentimentNegative
	}

	text := fmt.Sprintf("Khách đã trao đổi %d tin nhắn.", len(msgs))
	if len(points) > 0 {
		text += " " + strings.Join(points, ". ") + "."
	}

	kp, _ := json.Marshal(points)
	return &models.ConversationSummary{
		ConversationID: conversationID,
		SummaryText:    text,
		KeyPoints:      datatypes.JSON(kp),
		CustomerIntent: intent,
		Sentiment:      sentiment,
		MessageCount:   int64(len(msgs)),
	}
}

func countWords(text string, words []string) int {
	n := 0
	for _, w := range words {
		if textnorm.ContainsExactWord(text, w) {
			n++
		}
	}
	return n
}

// KeyPoints decodes a summary's key point list.
func KeyPoints(s *models.ConversationSummary) []string {
	if s == nil || len(s.KeyPoints) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(s.KeyPoints, &out)
	return out
}
