package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/suPer8Hu/commerce-chat/internal/common"
)

const (
	ZaloSignatureHeader = "X-Zalo-Signature"
	AdminKeyHeader      = "X-Admin-Key"

	maxWebhookBody = 1 << 20
)

// SignBody is the hex HMAC-SHA256 of body under secret.
func SignBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ZaloSignature requires X-Zalo-Signature to be the HMAC of the raw body.
// The body is restored for the handler. An empty secret disables the check.
func ZaloSignature(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10001, "invalid body")
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		got := strings.ToLower(strings.TrimSpace(c.GetHeader(ZaloSignatureHeader)))
		want := SignBody(body, secret)
		if got == "" || !hmac.Equal([]byte(got), []byte(want)) {
			log.WithField("request_id", c.GetString(RequestIDKey)).Warn("zalo webhook signature rejected")
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid signature")
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminKey guards operator routes with a shared key.
func AdminKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(AdminKeyHeader)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			common.Fail(c, http.StatusForbidden, 40301, "forbidden")
			c.Abort()
			return
		}
		c.Next()
	}
}
