package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// ErrCredentialsMissing indicates key, secret or passphrase is not configured.
var ErrCredentialsMissing = errors.New("WEEX API credentials not configured")

// Credentials hold the API key triple issued by the exchange.
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

// Complete reports whether all three parts are present.
func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

// Signer builds ACCESS-* headers for authenticated requests.
type Signer struct {
	creds Credentials
	now   func() time.Time
}

// NewSigner validates credentials and returns a signer.
func NewSigner(creds Credentials) (*Signer, error) {
	if !creds.Complete() {
		return nil, ErrCredentialsMissing
	}
	return &Signer{creds: creds, now: time.Now}, nil
}

// Sign returns base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (s *Signer) Sign(timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.creds.SecretKey))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Headers signs the request at the current time.
func (s *Signer) Headers(method, path string, body []byte) http.Header {
	return s.HeadersAt(s.now(), method, path, body)
}

// HeadersAt signs the request for an explicit timestamp.
func (s *Signer) HeadersAt(at time.Time, method, path string, body []byte) http.Header {
	ts := strconv.FormatInt(at.UnixMilli(), 10)
	h := make(http.Header, 6)
	h.Set("ACCESS-KEY", s.creds.APIKey)
	h.Set("ACCESS-PASSPHRASE", s.creds.Passphrase)
	h.Set("ACCESS-TIMESTAMP", ts)
	h.Set("ACCESS-SIGN", s.Sign(ts, method, path, body))
	h.Set("Content-Type", "application/json")
	h.Set("locale", "en-US")
	return h
}
