package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/assignment"
	"github.com/example/pickup-dispatch/internal/dispatch"
	"github.com/example/pickup-dispatch/internal/eta"
	"github.com/example/pickup-dispatch/internal/models"
)

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequesterID string       `json:"requester_id"`
		Origin      models.Coord `json:"origin"`
		Materials   string       `json:"materials"`
		WeightKgEst float64      `json:"weight_kg_est"`
		PriceEst    float64      `json:"price_est"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErr(w, apperr.Validationf("bad request body: %v", err))
		return
	}
	req, err := s.Coordinator.CreateRequest(r.Context(), assignment.CreateParams{
		RequesterID: body.RequesterID,
		Origin:      body.Origin,
		Materials:   body.Materials,
		WeightKgEst: body.WeightKgEst,
		PriceEst:    body.PriceEst,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"request_id": req.ID, "status": req.Status, "created_at": req.CreatedAt})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.Coordinator.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleMatchCandidates is read-only with one exception: the first time
// a fresh request yields candidates it is promoted Created -> Notified.
func (s *Server) handleMatchCandidates(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	radiusKm := s.DefaultRadiusKm
	if v := r.URL.Query().Get("radius_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			s.writeErr(w, apperr.Validationf("invalid radius_km %q", v))
			return
		}
		radiusKm = f
	}

	req, err := s.Coordinator.Get(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if req.Status.Terminal() {
		s.writeErr(w, apperr.Preconditionf("request %s is %s", id, req.Status))
		return
	}

	cands, err := s.Matcher.Candidates(r.Context(), req.Origin, radiusKm, s.VendorTypes)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	if len(cands) > 0 && req.Status == models.StatusCreated {
		if req, err = s.Coordinator.MarkNotified(r.Context(), id); err != nil {
			s.writeErr(w, err)
			return
		}
		s.notifyCandidates(req, cands)
	}

	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "status": req.Status, "candidates": cands})
}

// notifyCandidates hands the fan-out to the dispatcher off the request
// path; delivery is someone else's problem.
func (s *Server) notifyCandidates(req *models.PickupRequest, cands []models.VendorCandidate) {
	notices := make([]dispatch.CandidateNotice, 0, len(cands))
	for _, c := range cands {
		notices = append(notices, dispatch.CandidateNotice{
			RequestSummary: dispatch.RequestSummary{
				RequestID:   req.ID,
				Origin:      req.Origin,
				Materials:   req.Materials,
				WeightKgEst: req.WeightKgEst,
				PriceEst:    req.PriceEst,
			},
			VendorID:   c.VendorID,
			DistanceKm: c.DistanceKm,
			EtaSeconds: s.vendorEta(c.VendorID, req.Origin),
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Dispatcher.NotifyCandidates(ctx, notices); err != nil {
			s.logger.Error("candidate notification failed", "request_id", req.ID, "error", err)
		}
	}()
}

func (s *Server) vendorEta(vendorID string, origin models.Coord) float64 {
	ping, err := s.Tracker.ByVendor(context.Background(), vendorID)
	if err != nil {
		return 0
	}
	if s.ETACache != nil {
		if v, ok := s.ETACache.Get(ping.Loc, origin); ok {
			return v
		}
	}
	if s.ETAClient != nil {
		if v, err := s.ETAClient.EstimateSeconds(ping.Loc, origin); err == nil {
			if s.ETACache != nil {
				s.ETACache.Set(ping.Loc, origin, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(ping.Loc, origin, s.DefaultSpeedMps)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		VendorID string `json:"vendor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErr(w, apperr.Validationf("bad request body: %v", err))
		return
	}
	profile, err := s.Identity.Vendor(r.Context(), body.VendorID)
	if err == nil && !profile.Eligible {
		s.writeErr(w, apperr.Preconditionf("vendor %s is not eligible", body.VendorID))
		return
	}
	req, err := s.Coordinator.Accept(r.Context(), id, body.VendorID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.holdPayment(r.Context(), req)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": req.Status, "assigned_vendor": req.AssignedVendor})
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		VendorID string `json:"vendor_id"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErr(w, apperr.Validationf("bad request body: %v", err))
		return
	}
	req, err := s.Coordinator.Decline(r.Context(), id, body.VendorID, body.Reason)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.releasePayment(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": req.Status})
}

func (s *Server) handleArrived(w http.ResponseWriter, r *http.Request) {
	s.vendorStep(w, r, s.Coordinator.MarkArrived, nil)
}

func (s *Server) handleCompleted(w http.ResponseWriter, r *http.Request) {
	s.vendorStep(w, r, s.Coordinator.MarkCompleted, s.capturePayment)
}

func (s *Server) vendorStep(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, id, vendorID string) (*models.PickupRequest, error),
	after func(ctx context.Context, requestID string)) {
	id := mux.Vars(r)["id"]
	var body struct {
		VendorID string `json:"vendor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErr(w, apperr.Validationf("bad request body: %v", err))
		return
	}
	req, err := op(r.Context(), id, body.VendorID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if after != nil {
		after(r.Context(), id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": req.Status})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		ActorID string `json:"actor_id"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErr(w, apperr.Validationf("bad request body: %v", err))
		return
	}
	req, err := s.Coordinator.Cancel(r.Context(), id, body.ActorID, body.Reason)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.releasePayment(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": req.Status})
}

func (s *Server) handleLocationPing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		VendorID   string  `json:"vendor_id"`
		VendorType string  `json:"vendor_type"`
		Lat        float64 `json:"lat"`
		Lng        float64 `json:"lng"`
		RequestID  string  `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErr(w, apperr.Validationf("bad request body: %v", err))
		return
	}
	if body.VendorType == "" {
		if profile, err := s.Identity.Vendor(r.Context(), body.VendorID); err == nil {
			body.VendorType = profile.VendorType
		}
	}
	ping, err := s.Tracker.Update(r.Context(), models.VendorLocationPing{
		VendorID:   body.VendorID,
		VendorType: body.VendorType,
		RequestID:  body.RequestID,
		Loc:        models.Coord{Lat: body.Lat, Lng: body.Lng},
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if err := s.Recorder.Observe(r.Context(), ping); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "captured_at": ping.CapturedAt})
}

func (s *Server) handleVendorLocation(w http.ResponseWriter, r *http.Request) {
	s.writeLocation(w, r, s.Tracker.ByVendor)
}

func (s *Server) handleRequestLocation(w http.ResponseWriter, r *http.Request) {
	s.writeLocation(w, r, s.Tracker.ByRequest)
}

func (s *Server) writeLocation(w http.ResponseWriter, r *http.Request,
	lookup func(ctx context.Context, id string) (*models.VendorLocationPing, error)) {
	ping, err := lookup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lat": ping.Loc.Lat, "lng": ping.Loc.Lng, "captured_at": ping.CapturedAt})
}

func (s *Server) handleRequestHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	recs, err := s.History.List(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": id, "records": recs})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	vendorID := mux.Vars(r)["vendor_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(vendorID, conn)
}

// Payment holds live on the cache, keyed by request id, so any replica
// can settle them. The gateway is the source of truth; a lost hold id
// is reconciled out of band.

func paymentHoldKey(requestID string) string { return "payment:hold:" + requestID }

func (s *Server) holdPayment(ctx context.Context, req *models.PickupRequest) {
	if s.Payments == nil || req.PriceEst <= 0 {
		return
	}
	holdID, err := s.Payments.Hold(ctx, int64(req.PriceEst*100), "inr", req.RequesterID)
	if err != nil {
		s.logger.Error("payment hold failed", "request_id", req.ID, "error", err)
		return
	}
	if err := s.Cache.SetWithTTL(ctx, paymentHoldKey(req.ID), []byte(holdID), 24*time.Hour); err != nil {
		s.logger.Error("payment hold id cache failed", "request_id", req.ID, "error", err)
	}
}

func (s *Server) capturePayment(ctx context.Context, requestID string) {
	s.settlePayment(ctx, requestID, func(holdID string) error { return s.Payments.Capture(ctx, holdID) })
}

func (s *Server) releasePayment(ctx context.Context, requestID string) {
	s.settlePayment(ctx, requestID, func(holdID string) error { return s.Payments.Release(ctx, holdID) })
}

func (s *Server) settlePayment(ctx context.Context, requestID string, settle func(holdID string) error) {
	if s.Payments == nil {
		return
	}
	b, ok, err := s.Cache.Get(ctx, paymentHoldKey(requestID))
	if err != nil || !ok {
		return
	}
	if err := settle(string(b)); err != nil {
		s.logger.Error("payment settle failed", "request_id", requestID, "error", err)
		return
	}
	_ = s.Cache.Delete(ctx, paymentHoldKey(requestID))
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrPreconditionFailed):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", "error", err)
	}
	writeJSON(w, status, map[string]any{"success": false, "reason": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
