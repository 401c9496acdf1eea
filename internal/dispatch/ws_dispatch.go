package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession is one connected vendor app.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(n CandidateNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(n)
}

// WSRegistry tracks live vendor websocket sessions keyed by vendor id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	Logger   *slog.Logger
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(vendorID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[vendorID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(vendorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, vendorID)
}

// NotifyCandidates pushes each notice to its vendor's session if one is
// connected. A missing or failed session is skipped; notification is
// best-effort by contract.
func (r *WSRegistry) NotifyCandidates(ctx context.Context, notices []CandidateNotice) error {
	for _, n := range notices {
		r.mu.RLock()
		s, ok := r.sessions[n.VendorID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := s.Send(n); err != nil {
			if r.Logger != nil {
				r.Logger.Error("ws notify failed", "vendor_id", n.VendorID, "request_id", n.RequestID, "error", err)
			}
			r.Remove(n.VendorID)
		}
	}
	return nil
}
