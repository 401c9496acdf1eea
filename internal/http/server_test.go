package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/pickup-dispatch/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.ServerConfig{
		HTTPAddr:         ":0",
		LocationTTL:      time.Hour,
		SamplingInterval: 30 * time.Minute,
		DefaultRadiusKm:  15,
		VendorTypes:      []string{"collector"},
		DefaultSpeedMps:  10,
		LogLevel:         "error",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	// create
	w, out := doJSON(t, s, "POST", "/api/v1/requests", map[string]any{
		"requester_id": "u1",
		"origin":       map[string]float64{"lat": 12.9716, "lng": 77.5946},
		"materials":    "cardboard",
		"price_est":    250,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}
	id, _ := out["request_id"].(string)
	if id == "" {
		t.Fatalf("no request id in %v", out)
	}

	// a nearby vendor pings
	w, _ = doJSON(t, s, "POST", "/internal/vendor/locations", map[string]any{
		"vendor_id": "v1", "vendor_type": "collector", "lat": 13.00038, "lng": 77.5946,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ping: status %d body %s", w.Code, w.Body.String())
	}

	// match: one candidate, request promoted to notified
	w, out = doJSON(t, s, "GET", "/api/v1/requests/"+id+"/candidates?radius_km=15", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("candidates: status %d body %s", w.Code, w.Body.String())
	}
	cands, _ := out["candidates"].([]any)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %v", out)
	}
	if out["status"] != "notified" {
		t.Fatalf("expected notified, got %v", out["status"])
	}

	// accept wins once
	w, _ = doJSON(t, s, "POST", "/api/v1/requests/"+id+"/accept", map[string]any{"vendor_id": "v1"})
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status %d body %s", w.Code, w.Body.String())
	}
	w, out = doJSON(t, s, "POST", "/api/v1/requests/"+id+"/accept", map[string]any{"vendor_id": "v2"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second accept: status %d body %s", w.Code, w.Body.String())
	}
	if out["success"] != false {
		t.Fatalf("loser should see success=false: %v", out)
	}

	// assigned vendor pings against the request; mirror serves it
	w, _ = doJSON(t, s, "POST", "/internal/vendor/locations", map[string]any{
		"vendor_id": "v1", "vendor_type": "collector", "lat": 12.99, "lng": 77.5946, "request_id": id,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("assigned ping: status %d", w.Code)
	}
	w, out = doJSON(t, s, "GET", "/api/v1/requests/"+id+"/location", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("request location: status %d body %s", w.Code, w.Body.String())
	}
	if out["lat"].(float64) != 12.99 {
		t.Fatalf("unexpected mirrored location: %v", out)
	}

	// arrive and complete
	w, _ = doJSON(t, s, "POST", "/api/v1/requests/"+id+"/arrived", map[string]any{"vendor_id": "v1"})
	if w.Code != http.StatusOK {
		t.Fatalf("arrived: status %d body %s", w.Code, w.Body.String())
	}
	w, out = doJSON(t, s, "POST", "/api/v1/requests/"+id+"/completed", map[string]any{"vendor_id": "v1"})
	if w.Code != http.StatusOK || out["status"] != "pickup_completed" {
		t.Fatalf("completed: status %d body %s", w.Code, w.Body.String())
	}

	// history captured at least the first sample
	w, out = doJSON(t, s, "GET", "/api/v1/requests/"+id+"/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: status %d", w.Code)
	}
	if recs, _ := out["records"].([]any); len(recs) == 0 {
		t.Fatalf("expected history records, got %v", out)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w, _ := doJSON(t, s, "POST", "/api/v1/requests", map[string]any{
		"requester_id": "u1",
		"origin":       map[string]float64{"lat": 123, "lng": 77},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("validation should map to 400, got %d", w.Code)
	}

	w, _ = doJSON(t, s, "POST", "/api/v1/requests/nope/accept", map[string]any{"vendor_id": "v1"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown request should map to 404, got %d", w.Code)
	}

	w, _ = doJSON(t, s, "GET", "/api/v1/vendors/ghost/location", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown vendor location should map to 404, got %d", w.Code)
	}
}

func TestDeclineReopensOverHTTP(t *testing.T) {
	s := newTestServer(t)

	_, out := doJSON(t, s, "POST", "/api/v1/requests", map[string]any{
		"requester_id": "u1",
		"origin":       map[string]float64{"lat": 12.9716, "lng": 77.5946},
	})
	id := out["request_id"].(string)

	doJSON(t, s, "POST", "/internal/vendor/locations", map[string]any{
		"vendor_id": "v1", "vendor_type": "collector", "lat": 12.99, "lng": 77.5946,
	})
	doJSON(t, s, "GET", "/api/v1/requests/"+id+"/candidates", nil)
	doJSON(t, s, "POST", "/api/v1/requests/"+id+"/accept", map[string]any{"vendor_id": "v1"})

	w, _ := doJSON(t, s, "POST", "/api/v1/requests/"+id+"/decline", map[string]any{"vendor_id": "v1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("decline without reason should map to 400, got %d", w.Code)
	}

	w, _ = doJSON(t, s, "POST", "/api/v1/requests/"+id+"/decline", map[string]any{"vendor_id": "v1", "reason": "vehicle full"})
	if w.Code != http.StatusOK {
		t.Fatalf("decline: status %d body %s", w.Code, w.Body.String())
	}

	w, _ = doJSON(t, s, "POST", "/api/v1/requests/"+id+"/accept", map[string]any{"vendor_id": "v2"})
	if w.Code != http.StatusOK {
		t.Fatalf("re-accept after decline: status %d body %s", w.Code, w.Body.String())
	}
}
