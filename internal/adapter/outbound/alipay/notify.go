package alipay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-pay/gopay"
	gopayalipay "github.com/go-pay/gopay/alipay"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
)

// Keys of the JSON object carried in passback_params.
const (
	PassbackIdentityKey = "identity_key"
	PassbackCredits     = "credits"
)

// Trade statuses reported in async notifications.
const (
	TradeStatusSuccess  = "TRADE_SUCCESS"
	TradeStatusFinished = "TRADE_FINISHED"
	TradeStatusClosed   = "TRADE_CLOSED"
)

// ErrNoPublicKey is returned when notifications arrive without a configured Alipay public key.
var ErrNoPublicKey = errors.New("alipay public key not configured")

// Config holds Alipay notification settings.
type Config struct {
	AppID     string // Expected app_id; empty accepts any
	PublicKey string // Alipay public key, base64 without PEM armor
}

// notifyParser implements outbound.PaymentWebhookPort for Alipay async notifications.
type notifyParser struct {
	config Config
}

// NewNotifyParser creates an Alipay notification parser.
func NewNotifyParser(cfg Config) outbound.PaymentWebhookPort {
	return &notifyParser{config: cfg}
}

// Name returns the payment provider name.
func (p *notifyParser) Name() string {
	return "alipay"
}

// ParseEvent verifies the form-encoded notification and converts it.
// Alipay signs the body itself, so signature is unused.
//
// Paid trades become purchases. A trade closed after a refund becomes a refund
// of all its credits. Partial refunds and unpaid trades are ignored.
func (p *notifyParser) ParseEvent(payload []byte, _ string) (*model.PaymentEvent, error) {
	if p.config.PublicKey == "" {
		return nil, ErrNoPublicKey
	}

	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", outbound.ErrInvalidWebhook, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	bm, err := gopayalipay.ParseNotifyToBodyMap(req)
	if err != nil {
		return nil, fmt.Errorf("%w: parse notify: %v", outbound.ErrInvalidWebhook, err)
	}
	if bm.GetString("sign") == "" {
		return nil, fmt.Errorf("%w: missing sign", outbound.ErrInvalidWebhook)
	}

	// VerifySign strips sign and sign_type from the map
	fields := copyFields(bm)
	ok, err := gopayalipay.VerifySign(p.config.PublicKey, bm)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: verify signature: %v", outbound.ErrInvalidWebhook, err)
	}

	if p.config.AppID != "" && fields["app_id"] != p.config.AppID {
		return nil, fmt.Errorf("%w: unexpected app_id %q", outbound.ErrInvalidWebhook, fields["app_id"])
	}

	tradeNo := fields["trade_no"]
	if tradeNo == "" {
		return nil, fmt.Errorf("%w: missing trade_no", outbound.ErrInvalidWebhook)
	}
	reference := "alipay:" + tradeNo
	refunded := fields["refund_fee"] != "" && fields["refund_fee"] != "0.00"

	switch status := fields["trade_status"]; {
	case (status == TradeStatusSuccess || status == TradeStatusFinished) && !refunded:
		identityKey, credits, err := parsePassback(fields["passback_params"])
		if err != nil {
			return nil, err
		}
		return &model.PaymentEvent{
			Type:        model.PaymentEventCreditsPurchased,
			IdentityKey: identityKey,
			Amount:      credits,
			Reference:   reference,
		}, nil

	case status == TradeStatusClosed && refunded:
		identityKey, credits, err := parsePassback(fields["passback_params"])
		if err != nil {
			return nil, err
		}
		return &model.PaymentEvent{
			Type:        model.PaymentEventCreditsRefunded,
			IdentityKey: identityKey,
			Amount:      credits,
			Reference:   reference + ":refund",
		}, nil

	default:
		return &model.PaymentEvent{Type: model.PaymentEventIgnored, Reference: reference}, nil
	}
}

func copyFields(bm gopay.BodyMap) map[string]string {
	out := make(map[string]string, len(bm))
	for k := range bm {
		out[k] = bm.GetString(k)
	}
	return out
}

// parsePassback reads the identity and credits set when the trade was created.
// Merchants commonly URL-encode passback_params, so both forms are accepted.
func parsePassback(raw string) (string, int64, error) {
	if raw == "" {
		return "", 0, fmt.Errorf("%w: missing passback_params", outbound.ErrInvalidWebhook)
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		decoded, uerr := url.QueryUnescape(raw)
		if uerr != nil {
			return "", 0, fmt.Errorf("%w: invalid passback_params", outbound.ErrInvalidWebhook)
		}
		if err := json.Unmarshal([]byte(decoded), &params); err != nil {
			return "", 0, fmt.Errorf("%w: invalid passback_params", outbound.ErrInvalidWebhook)
		}
	}

	identityKey, _ := params[PassbackIdentityKey].(string)

	var credits int64
	switch v := params[PassbackCredits].(type) {
	case float64:
		credits = int64(v)
	case string:
		credits, _ = strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	if credits <= 0 {
		return "", 0, fmt.Errorf("%w: invalid credits in passback_params", outbound.ErrInvalidWebhook)
	}
	return strings.TrimSpace(identityKey), credits, nil
}

// Compile-time check
var _ outbound.PaymentWebhookPort = (*notifyParser)(nil)
