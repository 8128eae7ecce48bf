// Package exchange provides the REST exchange client adapter for both the
// primary and mirror accounts.
package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// HMACSigner signs requests with an API key header and an HMAC-SHA256
// signature over the query string.
type HMACSigner struct {
	apiKey    string
	secretKey string
}

// NewHMACSigner creates a signer for one account's credentials.
func NewHMACSigner(apiKey, secretKey string) *HMACSigner {
	return &HMACSigner{apiKey: apiKey, secretKey: secretKey}
}

// SignRequest adds authentication headers and signature to the request
func (s *HMACSigner) SignRequest(req *http.Request) error {
	req.Header.Set("X-MBX-APIKEY", s.apiKey)

	q := req.URL.Query()
	if q.Get("timestamp") == "" {
		q.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	}

	queryString := q.Encode()
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(queryString))
	signature := hex.EncodeToString(mac.Sum(nil))

	q.Set("signature", signature)
	req.URL.RawQuery = q.Encode()

	return nil
}
