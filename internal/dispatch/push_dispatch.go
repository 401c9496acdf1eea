package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// PushDispatcher tries the vendor's websocket session first and falls
// back to POSTing the notice batch to an external delivery endpoint.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) NotifyCandidates(ctx context.Context, notices []CandidateNotice) error {
	remaining := notices
	if p.WS != nil {
		remaining = remaining[:0:0]
		for _, n := range notices {
			p.WS.mu.RLock()
			_, connected := p.WS.sessions[n.VendorID]
			p.WS.mu.RUnlock()
			if connected {
				_ = p.WS.NotifyCandidates(ctx, []CandidateNotice{n})
				continue
			}
			remaining = append(remaining, n)
		}
	}
	if len(remaining) == 0 || p.Endpoint == "" {
		return nil
	}
	b, _ := json.Marshal(map[string]any{"notices": remaining})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
