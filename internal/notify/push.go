// Package notify delivers user-facing push messages. Delivery is
// best-effort: failures are logged and counted, never returned to the
// dispatch path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Notifier is the contract the coordinator uses.
type Notifier interface {
	Notify(ctx context.Context, userID, message string)
}

// PushNotifier posts an FCM-shaped JSON envelope to a push gateway.
type PushNotifier struct {
	Endpoint string
	Key      string
	Client   *http.Client
	Logger   *slog.Logger
}

func NewPushNotifier(endpoint, key string, logger *slog.Logger) *PushNotifier {
	return &PushNotifier{
		Endpoint: endpoint,
		Key:      key,
		Client:   &http.Client{Timeout: 3 * time.Second},
		Logger:   logger,
	}
}

func (p *PushNotifier) Notify(ctx context.Context, userID, message string) {
	if p.Endpoint == "" {
		return
	}
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"token": userID,
			"notification": map[string]string{
				"body": message,
			},
		},
	}
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		p.logFailure(userID, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		p.logFailure(userID, err)
		return
	}
	resp.Body.Close()
}

func (p *PushNotifier) logFailure(userID string, err error) {
	if p.Logger != nil {
		p.Logger.Warn("push notify failed", "user", userID, "error", err)
	}
}

// NopNotifier is used when no push gateway is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, userID, message string) {}
