package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/example/pickup-dispatch/internal/apperr"
)

// VendorProfile is the slice of the profile service the engine needs:
// what kind of vendor this is and whether it may take work.
type VendorProfile struct {
	VendorID   string `json:"vendor_id"`
	VendorType string `json:"vendor_type"`
	Eligible   bool   `json:"eligible"`
}

// RequesterContact is resolved for notification payloads.
type RequesterContact struct {
	RequesterID string `json:"requester_id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
}

// Resolver fronts the external identity/profile service.
type Resolver interface {
	Vendor(ctx context.Context, vendorID string) (VendorProfile, error)
	Requester(ctx context.Context, requesterID string) (RequesterContact, error)
}

// Static serves profiles from memory; used in tests and local runs
// where no profile service is reachable. Unknown vendors are treated as
// eligible with the default type so a bare dev setup still matches.
type Static struct {
	mu          sync.RWMutex
	vendors     map[string]VendorProfile
	DefaultType string
}

func NewStatic(defaultType string) *Static {
	return &Static{vendors: make(map[string]VendorProfile), DefaultType: defaultType}
}

func (s *Static) Put(p VendorProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[p.VendorID] = p
}

func (s *Static) Vendor(ctx context.Context, vendorID string) (VendorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.vendors[vendorID]; ok {
		return p, nil
	}
	return VendorProfile{VendorID: vendorID, VendorType: s.DefaultType, Eligible: true}, nil
}

func (s *Static) Requester(ctx context.Context, requesterID string) (RequesterContact, error) {
	return RequesterContact{RequesterID: requesterID}, nil
}

// HTTPResolver calls the profile service REST API.
type HTTPResolver struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{BaseURL: baseURL, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (h *HTTPResolver) Vendor(ctx context.Context, vendorID string) (VendorProfile, error) {
	var p VendorProfile
	if err := h.get(ctx, fmt.Sprintf("%s/v1/vendors/%s", h.BaseURL, vendorID), &p); err != nil {
		return VendorProfile{}, err
	}
	return p, nil
}

func (h *HTTPResolver) Requester(ctx context.Context, requesterID string) (RequesterContact, error) {
	var c RequesterContact
	if err := h.get(ctx, fmt.Sprintf("%s/v1/requesters/%s", h.BaseURL, requesterID), &c); err != nil {
		return RequesterContact{}, err
	}
	return c, nil
}

func (h *HTTPResolver) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return apperr.NotFoundf("profile %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("profile service status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
