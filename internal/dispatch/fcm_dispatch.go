package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// FCMDispatcher posts candidate notices to an FCM HTTPv1 endpoint for
// vendors reachable only by mobile push.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
	// Tokens resolves a vendor id to its device token.
	Tokens func(vendorID string) string
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) NotifyCandidates(ctx context.Context, notices []CandidateNotice) error {
	for _, n := range notices {
		token := ""
		if f.Tokens != nil {
			token = f.Tokens(n.VendorID)
		}
		body := map[string]interface{}{"message": map[string]interface{}{
			"token": token,
			"data":  map[string]interface{}{"request_id": n.RequestID, "notice": n},
		}}
		b, _ := json.Marshal(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if f.Key != "" {
			req.Header.Set("Authorization", "Bearer "+f.Key)
		}
		if resp, err := f.Client.Do(req); err == nil {
			resp.Body.Close()
		}
	}
	return nil
}
