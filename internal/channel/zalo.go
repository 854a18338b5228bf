package channel

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/commerce-chat/internal/common"
	"github.com/suPer8Hu/commerce-chat/internal/models"
)

const (
	maxZaloElements = 5
	maxImageBytes   = 5 << 20
)

type Zalo struct {
	APIURL           string
	StoreBaseURL     string
	PlaceholderImage string
	Client           *http.Client
	Policy           Policy
	Tokens           *TokenManager
}

func NewZalo(apiURL, storeBaseURL, placeholder string, policy Policy, tokens *TokenManager) *Zalo {
	return &Zalo{
		APIURL:           strings.TrimRight(apiURL, "/"),
		StoreBaseURL:     strings.TrimRight(storeBaseURL, "/"),
		PlaceholderImage: placeholder,
		Client:           defaultClient(),
		Policy:           NormalizePolicy(policy),
		Tokens:           tokens,
	}
}

type zaloEnvelope struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
	Data    struct {
		AttachmentID string `json:"attachment_id"`
		MessageID    string `json:"message_id"`
	} `json:"data"`
}

func (e zaloEnvelope) err() error {
	if e.Error != 0 {
		return &APIError{Code: e.Error, Message: e.Message}
	}
	return nil
}

// token prefers the per-request token, then the managed OA token.
func (z *Zalo) token(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if z.Tokens == nil {
		return "", errors.New("zalo: no access token available")
	}
	return z.Tokens.Token(ctx)
}

func (z *Zalo) send(ctx context.Context, token, recipient, op string, message map[string]any) error {
	body := map[string]any{
		"recipient": map[string]string{"user_id": recipient},
		"message":   message,
	}
	return withRetry(ctx, z.Policy, string(models.PlatformZalo), op, func(ctx context.Context) error {
		var env zaloEnvelope
		if err := postJSON(ctx, z.Client, z.APIURL+"/v3.0/oa/message/cs", map[string]string{"access_token": token}, body, &env); err != nil {
			return err
		}
		return env.err()
	})
}

func (z *Zalo) SendReply(ctx context.Context, out Outbound) error {
	token, err := z.token(ctx, out.AccessToken)
	if err != nil {
		return err
	}
	if len(out.Products) > 0 {
		if err := z.send(ctx, token, out.Recipient, "list", z.list(out.Products)); err != nil {
			return err
		}
		if err := sleep(ctx, z.Policy.Delay); err != nil {
			return err
		}
	}
	for _, chunk := range ChunkText(out.Text, z.Policy.TextChunkLimit) {
		if err := z.send(ctx, token, out.Recipient, "text", map[string]any{"text": chunk}); err != nil {
			return err
		}
	}
	return nil
}

// SendImage uploads the image to Zalo, sends it as a media template and,
// when a product is given, follows up with its name and price.
func (z *Zalo) SendImage(ctx context.Context, recipient, explicitToken, imageURL string, product *models.Product) error {
	token, err := z.token(ctx, explicitToken)
	if err != nil {
		return err
	}
	attachmentID, err := z.upload(ctx, token, imageURL)
	if err != nil {
		return err
	}
	if err := z.send(ctx, token, recipient, "image", map[string]any{
		"attachment": map[string]any{
			"type": "template",
			"payload": map[string]any{
				"template_type": "media",
				"elements": []map[string]any{{
					"media_type":    "image",
					"attachment_id": attachmentID,
				}},
			},
		},
	}); err != nil {
		return err
	}
	if product == nil {
		return nil
	}
	caption := product.Name + "\nGiá: " + common.FormatVND(product.Price)
	return z.send(ctx, token, recipient, "caption", map[string]any{"text": caption})
}

func (z *Zalo) upload(ctx context.Context, token, imageURL string) (string, error) {
	data, err := z.download(ctx, imageURL)
	if err != nil {
		return "", err
	}
	var attachmentID string
	err = withRetry(ctx, z.Policy, string(models.PlatformZalo), "upload", func(ctx context.Context) error {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile("file", fileName(imageURL))
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, z.APIURL+"/v3.0/oa/upload/image", &buf)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("access_token", token)

		var env zaloEnvelope
		if err := do(z.Client, req, &env); err != nil {
			return err
		}
		if err := env.err(); err != nil {
			return err
		}
		if env.Data.AttachmentID == "" {
			return &APIError{Code: -1, Message: "upload returned no attachment_id"}
		}
		attachmentID = env.Data.AttachmentID
		return nil
	})
	return attachmentID, err
}

func (z *Zalo) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := z.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "zalo: download image")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("zalo: download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageBytes {
		return nil, errors.New("zalo: image too large")
	}
	return data, nil
}

func fileName(imageURL string) string {
	name := path.Base(strings.SplitN(imageURL, "?", 2)[0])
	if name == "" || name == "." || name == "/" {
		return "image.jpg"
	}
	return name
}

func (z *Zalo) list(products []models.Product) map[string]any {
	if len(products) > maxZaloElements {
		products = products[:maxZaloElements]
	}
	elements := make([]map[string]any, 0, len(products))
	for i := range products {
		p := &products[i]
		stock := "Hết hàng"
		if p.InStock() {
			stock = "Còn hàng"
		}
		img := p.PrimaryImageURL()
		if img == "" {
			img = z.PlaceholderImage
		}
		elements = append(elements, map[string]any{
			"title":     p.Name,
			"subtitle":  common.FormatVND(p.Price) + " - " + stock,
			"image_url": img,
			"default_action": map[string]any{
				"type": "oa.open.url",
				"url":  z.StoreBaseURL + "/product/" + p.Slug,
			},
		})
	}
	return map[string]any{
		"attachment": map[string]any{
			"type": "template",
			"payload": map[string]any{
				"template_type": "list",
				"elements":      elements,
			},
		},
	}
}
