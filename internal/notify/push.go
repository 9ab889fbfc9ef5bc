package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/carpool/internal/models"
)

// PushSink delivers notifications over a live websocket when the user is
// connected, otherwise posts to an external push-provider endpoint. Both
// paths are best-effort.
type PushSink struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushSink(endpoint string, ws *WSRegistry) *PushSink {
	return &PushSink{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushSink) Notify(ctx context.Context, userID string, kind models.EventKind, rideID int64, payload map[string]any) error {
	n := Notice{Kind: kind, RideID: rideID, Payload: payload}
	if p.WS != nil {
		if err := p.WS.Push(userID, n); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]any{"user_id": userID, "notice": n})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
