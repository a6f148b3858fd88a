package alipay

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
)

type signer struct {
	key       *rsa.PrivateKey
	publicKey string
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return &signer{key: key, publicKey: base64.StdEncoding.EncodeToString(der)}
}

// sign builds a notification body signed the way Alipay signs RSA2 notifications.
func (s *signer) sign(t *testing.T, fields map[string]string) []byte {
	t.Helper()
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}
	digest := sha256.Sum256([]byte(strings.Join(pairs, "&")))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	form.Set("sign", base64.StdEncoding.EncodeToString(sig))
	form.Set("sign_type", "RSA2")
	return []byte(form.Encode())
}

func paidTrade() map[string]string {
	return map[string]string{
		"app_id":          "2021000000000001",
		"trade_no":        "2026031022001",
		"out_trade_no":    "order-1",
		"trade_status":    TradeStatusSuccess,
		"total_amount":    "12.00",
		"passback_params": `{"identity_key":"acct:42","credits":120}`,
	}
}

func TestNotifyParser_ParseEvent(t *testing.T) {
	s := newSigner(t)
	parser := NewNotifyParser(Config{AppID: "2021000000000001", PublicKey: s.publicKey})

	t.Run("paid trade is a purchase", func(t *testing.T) {
		event, err := parser.ParseEvent(s.sign(t, paidTrade()), "")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentEventCreditsPurchased, event.Type)
		assert.Equal(t, "acct:42", event.IdentityKey)
		assert.Equal(t, int64(120), event.Amount)
		assert.Equal(t, "alipay:2026031022001", event.Reference)
	})

	t.Run("finished trade keeps the purchase reference", func(t *testing.T) {
		fields := paidTrade()
		fields["trade_status"] = TradeStatusFinished
		event, err := parser.ParseEvent(s.sign(t, fields), "")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentEventCreditsPurchased, event.Type)
		assert.Equal(t, "alipay:2026031022001", event.Reference)
	})

	t.Run("url encoded passback params", func(t *testing.T) {
		fields := paidTrade()
		fields["passback_params"] = url.QueryEscape(`{"identity_key":"sess:abc","credits":"10"}`)
		event, err := parser.ParseEvent(s.sign(t, fields), "")
		require.NoError(t, err)
		assert.Equal(t, "sess:abc", event.IdentityKey)
		assert.Equal(t, int64(10), event.Amount)
	})

	t.Run("closed after refund", func(t *testing.T) {
		fields := paidTrade()
		fields["trade_status"] = TradeStatusClosed
		fields["refund_fee"] = "12.00"
		event, err := parser.ParseEvent(s.sign(t, fields), "")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentEventCreditsRefunded, event.Type)
		assert.Equal(t, int64(120), event.Amount)
		assert.Equal(t, "alipay:2026031022001:refund", event.Reference)
	})

	t.Run("partial refund is ignored", func(t *testing.T) {
		fields := paidTrade()
		fields["refund_fee"] = "3.00"
		event, err := parser.ParseEvent(s.sign(t, fields), "")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentEventIgnored, event.Type)
	})

	t.Run("unpaid trade is ignored", func(t *testing.T) {
		fields := paidTrade()
		fields["trade_status"] = "WAIT_BUYER_PAY"
		event, err := parser.ParseEvent(s.sign(t, fields), "")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentEventIgnored, event.Type)
	})

	t.Run("missing credits", func(t *testing.T) {
		fields := paidTrade()
		fields["passback_params"] = `{"identity_key":"acct:42"}`
		_, err := parser.ParseEvent(s.sign(t, fields), "")
		assert.ErrorIs(t, err, outbound.ErrInvalidWebhook)
	})

	t.Run("tampered body", func(t *testing.T) {
		body := s.sign(t, paidTrade())
		tampered := strings.Replace(string(body), "credits%22%3A120", "credits%22%3A999", 1)
		require.NotEqual(t, string(body), tampered)
		_, err := parser.ParseEvent([]byte(tampered), "")
		assert.ErrorIs(t, err, outbound.ErrInvalidWebhook)
	})

	t.Run("signed by another key", func(t *testing.T) {
		other := newSigner(t)
		_, err := parser.ParseEvent(other.sign(t, paidTrade()), "")
		assert.ErrorIs(t, err, outbound.ErrInvalidWebhook)
	})

	t.Run("unsigned body", func(t *testing.T) {
		form := url.Values{}
		for k, v := range paidTrade() {
			form.Set(k, v)
		}
		_, err := parser.ParseEvent([]byte(form.Encode()), "")
		assert.ErrorIs(t, err, outbound.ErrInvalidWebhook)
	})

	t.Run("other app", func(t *testing.T) {
		fields := paidTrade()
		fields["app_id"] = "2021000000000002"
		_, err := parser.ParseEvent(s.sign(t, fields), "")
		assert.ErrorIs(t, err, outbound.ErrInvalidWebhook)
	})
}

func TestNotifyParser_NoPublicKey(t *testing.T) {
	parser := NewNotifyParser(Config{})
	_, err := parser.ParseEvent([]byte("trade_no=1"), "")
	assert.ErrorIs(t, err, ErrNoPublicKey)
	assert.Equal(t, "alipay", parser.Name())
}
