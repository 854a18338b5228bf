package channel

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/models"
)

const maxFacebookElements = 10

type Facebook struct {
	GraphURL         string
	StoreBaseURL     string
	PlaceholderImage string
	Client           *http.Client
	Policy           Policy
}

func NewFacebook(graphURL, storeBaseURL, placeholder string, policy Policy) *Facebook {
	return &Facebook{
		GraphURL:         strings.TrimRight(graphURL, "/"),
		StoreBaseURL:     strings.TrimRight(storeBaseURL, "/"),
		PlaceholderImage: placeholder,
		Client:           defaultClient(),
		Policy:           NormalizePolicy(policy),
	}
}

type fbRecipient struct {
	ID string `json:"id"`
}

type fbMessage struct {
	Recipient fbRecipient    `json:"recipient"`
	Message   map[string]any `json:"message"`
}

func (f *Facebook) endpoint(token string) string {
	return f.GraphURL + "/me/messages?access_token=" + url.QueryEscape(token)
}

func (f *Facebook) send(ctx context.Context, token, recipient, op string, message map[string]any) error {
	body := fbMessage{Recipient: fbRecipient{ID: recipient}, Message: message}
	return withRetry(ctx, f.Policy, string(models.PlatformFacebook), op, func(ctx context.Context) error {
		return postJSON(ctx, f.Client, f.endpoint(token), nil, body, nil)
	})
}

// SendReply sends the product carousel first (when there are products),
// waits the configured delay, then the text in chunks.
func (f *Facebook) SendReply(ctx context.Context, out Outbound) error {
	if out.AccessToken == "" {
		return errors.New("facebook: access token is required")
	}
	if len(out.Products) > 0 {
		if err := f.send(ctx, out.AccessToken, out.Recipient, "carousel", f.carousel(out.Products)); err != nil {
			return err
		}
		if err := sleep(ctx, f.Policy.Delay); err != nil {
			return err
		}
	}
	for _, chunk := range ChunkText(out.Text, f.Policy.TextChunkLimit) {
		if err := f.send(ctx, out.AccessToken, out.Recipient, "text", map[string]any{"text": chunk}); err != nil {
			return err
		}
	}
	return nil
}

func (f *Facebook) SendImage(ctx context.Context, recipient, token, imageURL string, _ *models.Product) error {
	if token == "" {
		return errors.New("facebook: access token is required")
	}
	return f.send(ctx, token, recipient, "image", map[string]any{
		"attachment": map[string]any{
			"type": "image",
			"payload": map[string]any{
				"url":         imageURL,
				"is_reusable": true,
			},
		},
	})
}

func (f *Facebook) carousel(products []models.Product) map[string]any {
	if len(products) > maxFacebookElements {
		products = products[:maxFacebookElements]
	}
	elements := make([]map[string]any, 0, len(products))
	for i := range products {
		p := &products[i]
		stock := "Het hang"
		if p.InStock() {
			stock = "Con hang"
		}
		img := p.PrimaryImageURL()
		if img == "" {
			img = f.PlaceholderImage
		}
		elements = append(elements, map[string]any{
			"title":     p.Name,
			"subtitle":  common.FormatVND(p.Price) + " - " + stock,
			"image_url": img,
			"buttons": []map[string]any{{
				"type":  "web_url",
				"title": "Xem chi tiet",
				"url":   f.StoreBaseURL + "/product/" + p.Slug,
			}},
		})
	}
	return map[string]any{
		"attachment": map[string]any{
			"type": "template",
			"payload": map[string]any{
				"template_type":      "generic",
				"image_aspect_ratio": "square",
				"elements":           elements,
			},
		},
	}
}
