package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrGone means the push service no longer knows the subscription.
var ErrGone = errors.New("subscription expired")

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, subscription string, payload []byte) error
}

// WebPushSender delivers notifications through the browser push services
// using VAPID authentication.
type WebPushSender struct {
	options webpush.Options
}

func NewWebPushSender(publicKey, privateKey, subscriber string, client *http.Client) *WebPushSender {
	opts := webpush.Options{
		Subscriber:      subscriber,
		VAPIDPublicKey:  publicKey,
		VAPIDPrivateKey: privateKey,
		TTL:             60 * 60 * 24,
	}
	if client != nil {
		opts.HTTPClient = client
	}
	return &WebPushSender{options: opts}
}

func (s *WebPushSender) Send(ctx context.Context, subscription string, payload []byte) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(subscription), &sub); err != nil {
		return fmt.Errorf("failed to decode subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription has no endpoint")
	}

	opts := s.options
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &opts)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: push service returned %d", ErrGone, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}
