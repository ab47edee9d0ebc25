package helpers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const WebhookSignatureHeader = "Stripe-Signature"

// WebhookSignatureGenerator signs webhook payloads in Stripe's v1 scheme:
// t={timestamp},v1=hex(HMAC-SHA256(secret, "{timestamp}.{payload}")).
type WebhookSignatureGenerator struct {
	Secret string
	Now    func() time.Time
}

func NewWebhookSignatureGenerator(secret string) *WebhookSignatureGenerator {
	return &WebhookSignatureGenerator{
		Secret: secret,
		Now:    time.Now,
	}
}

func (g *WebhookSignatureGenerator) GenerateSignature(timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.Secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *WebhookSignatureGenerator) GenerateHeader(payload []byte) string {
	timestamp := g.Now().Unix()
	return fmt.Sprintf("t=%d,v1=%s", timestamp, g.GenerateSignature(timestamp, payload))
}

func (g *WebhookSignatureGenerator) GetHeaders(payload []byte) map[string]string {
	return map[string]string{
		WebhookSignatureHeader: g.GenerateHeader(payload),
		"Content-Type":         "application/json",
	}
}
