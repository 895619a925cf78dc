package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCreds() Credentials {
	return Credentials{APIKey: "key", SecretKey: "secret", Passphrase: "pass"}
}

func TestNewSignerMissingCredentials(t *testing.T) {
	for _, c := range []Credentials{
		{},
		{APIKey: "k", SecretKey: "s"},
		{APIKey: "k", Passphrase: "p"},
		{SecretKey: "s", Passphrase: "p"},
	} {
		_, err := NewSigner(c)
		assert.ErrorIs(t, err, ErrCredentialsMissing)
	}
}

func TestSignMatchesReference(t *testing.T) {
	s, err := NewSigner(testCreds())
	require.NoError(t, err)

	body := []byte(`{"symbol":"cmt_btcusdt","side":"buy","type":"market","size":"0.0002"}`)
	got := s.Sign("1700000000000", "POST", "/capi/v2/trade/order", body)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("1700000000000POST/capi/v2/trade/order" + string(body)))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, got)
	assert.Equal(t, got, s.Sign("1700000000000", "POST", "/capi/v2/trade/order", body))
}

func TestHeadersAtCarriesTimestamp(t *testing.T) {
	s, err := NewSigner(testCreds())
	require.NoError(t, err)

	at := time.UnixMilli(1700000000123)
	h := s.HeadersAt(at, "GET", "/capi/v2/market/ticker?symbol=cmt_btcusdt", nil)

	assert.Equal(t, "1700000000123", h.Get("ACCESS-TIMESTAMP"))
	assert.Equal(t, "key", h.Get("ACCESS-KEY"))
	assert.Equal(t, "pass", h.Get("ACCESS-PASSPHRASE"))
	assert.Equal(t, "en-US", h.Get("locale"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, s.Sign("1700000000123", "GET", "/capi/v2/market/ticker?symbol=cmt_btcusdt", nil), h.Get("ACCESS-SIGN"))
}
