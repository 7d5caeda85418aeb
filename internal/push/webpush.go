package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/Tyrowin/duochat/internal/domain"
)

// DefaultSubscriber is the VAPID contact used when none is configured.
const DefaultSubscriber = "mailto:admin@example.com"

// VAPIDConfig configures the Web Push provider.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	// Subscriber is a mailto: or https: contact for the push service operator.
	Subscriber string
	// TTL is how long the push service keeps an undelivered message.
	TTL time.Duration
	// Timeout bounds each HTTP request to the push service.
	Timeout time.Duration
}

// WebPush is a Provider speaking the Web Push protocol with VAPID.
type WebPush struct {
	cfg    VAPIDConfig
	client *http.Client
}

var _ Provider = (*WebPush)(nil)

// NewWebPush returns a provider, or an error when either VAPID key is missing.
func NewWebPush(cfg VAPIDConfig) (*WebPush, error) {
	cfg.PublicKey = strings.TrimSpace(cfg.PublicKey)
	cfg.PrivateKey = strings.TrimSpace(cfg.PrivateKey)
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, errors.New("push: VAPID public and private keys are required")
	}
	if cfg.Subscriber == "" {
		cfg.Subscriber = DefaultSubscriber
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebPush{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (w *WebPush) PublicKey() string { return w.cfg.PublicKey }

func (w *WebPush) Deliver(ctx context.Context, sub domain.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.PublicKey,
		VAPIDPrivateKey: w.cfg.PrivateKey,
		TTL:             int(w.cfg.TTL / time.Second),
		Urgency:         webpush.UrgencyNormal,
	})
	if err != nil {
		return &DeliveryError{Endpoint: sub.Endpoint, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &DeliveryError{
		Endpoint:   sub.Endpoint,
		StatusCode: resp.StatusCode,
		Permanent:  permanentStatus(resp.StatusCode),
		Err:        fmt.Errorf("push service responded %s", resp.Status),
	}
}

// GenerateVAPIDKeys returns a new base64url key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}
