package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/pickup-dispatch/internal/apperr"
	"github.com/example/pickup-dispatch/internal/models"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.StateChange
}

func (r *recordingSink) Publish(ctx context.Context, ev models.StateChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func newTestCoordinator() (*Coordinator, *recordingSink) {
	sink := &recordingSink{}
	return NewCoordinator(NewMemoryRequestStore(), sink, nil), sink
}

func createNotified(t *testing.T, c *Coordinator) *models.PickupRequest {
	t.Helper()
	ctx := context.Background()
	req, err := c.CreateRequest(ctx, CreateParams{
		RequesterID: "req-1",
		Origin:      models.Coord{Lat: 12.9716, Lng: 77.5946},
		Materials:   "scrap metal",
		WeightKgEst: 40,
		PriceEst:    500,
	})
	if err != nil {
		t.Fatal(err)
	}
	req, err = c.MarkNotified(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestCreateRequestValidation(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()
	if _, err := c.CreateRequest(ctx, CreateParams{Origin: models.Coord{Lat: 1, Lng: 1}}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("missing requester should fail validation, got %v", err)
	}
	if _, err := c.CreateRequest(ctx, CreateParams{RequesterID: "r", Origin: models.Coord{Lat: 91, Lng: 0}}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("bad latitude should fail validation, got %v", err)
	}
}

func TestMarkNotifiedIdempotent(t *testing.T) {
	c, _ := newTestCoordinator()
	req := createNotified(t, c)
	again, err := c.MarkNotified(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("second notify should succeed, got %v", err)
	}
	if again.Status != models.StatusNotified {
		t.Fatalf("expected notified, got %s", again.Status)
	}
}

func TestConcurrentAcceptExactlyOneWinner(t *testing.T) {
	c, _ := newTestCoordinator()
	req := createNotified(t, c)
	ctx := context.Background()

	const vendors = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := []string{}
	losers := 0

	for i := 0; i < vendors; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			vendorID := "v" + string(rune('A'+n%26)) + string(rune('0'+n/26))
			_, err := c.Accept(ctx, req.ID, vendorID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, vendorID)
			} else if errors.Is(err, apperr.ErrPreconditionFailed) {
				losers++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	if losers != vendors-1 {
		t.Fatalf("expected %d losers, got %d", vendors-1, losers)
	}
	cur, err := c.Get(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != models.StatusAssigned || cur.AssignedVendor != winners[0] {
		t.Fatalf("final record should carry the winner, got status=%s vendor=%s", cur.Status, cur.AssignedVendor)
	}
	if cur.AcceptedAt == nil {
		t.Fatal("accepted_at should be stamped")
	}
}

func TestAcceptIdempotentForWinner(t *testing.T) {
	c, _ := newTestCoordinator()
	req := createNotified(t, c)
	ctx := context.Background()

	if _, err := c.Accept(ctx, req.ID, "v1"); err != nil {
		t.Fatal(err)
	}
	again, err := c.Accept(ctx, req.ID, "v1")
	if err != nil {
		t.Fatalf("winner's repeat accept should succeed, got %v", err)
	}
	if again.AssignedVendor != "v1" {
		t.Fatalf("expected v1, got %s", again.AssignedVendor)
	}
	if _, err := c.Accept(ctx, req.ID, "v2"); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("loser should see PreconditionFailed, got %v", err)
	}
}

func TestDeclineReopensRequest(t *testing.T) {
	c, _ := newTestCoordinator()
	req := createNotified(t, c)
	ctx := context.Background()

	if _, err := c.Accept(ctx, req.ID, "v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decline(ctx, req.ID, "v1", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("decline without reason should fail validation, got %v", err)
	}
	if _, err := c.Decline(ctx, req.ID, "v2", "too heavy"); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("non-assigned vendor cannot decline, got %v", err)
	}
	cur, err := c.Decline(ctx, req.ID, "v1", "too heavy")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != models.StatusNotified || cur.AssignedVendor != "" {
		t.Fatalf("decline should reopen the request, got status=%s vendor=%q", cur.Status, cur.AssignedVendor)
	}

	// Another vendor can now take it.
	cur, err = c.Accept(ctx, req.ID, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if cur.AssignedVendor != "v2" {
		t.Fatalf("expected v2, got %s", cur.AssignedVendor)
	}
}

func TestArrivedAndCompletedRequireAssignedVendor(t *testing.T) {
	c, _ := newTestCoordinator()
	req := createNotified(t, c)
	ctx := context.Background()

	if _, err := c.MarkArrived(ctx, req.ID, "v1"); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("arrival before assignment should fail, got %v", err)
	}
	if _, err := c.Accept(ctx, req.ID, "v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.MarkCompleted(ctx, req.ID, "v1"); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("completion before arrival should fail, got %v", err)
	}
	if _, err := c.MarkArrived(ctx, req.ID, "v2"); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("wrong vendor cannot mark arrival, got %v", err)
	}
	cur, err := c.MarkArrived(ctx, req.ID, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != models.StatusArrivedAtOrigin || cur.ArrivedAt == nil {
		t.Fatalf("expected arrived with timestamp, got %+v", cur)
	}
	// repeat is idempotent
	if _, err := c.MarkArrived(ctx, req.ID, "v1"); err != nil {
		t.Fatalf("repeat arrival should succeed, got %v", err)
	}

	cur, err = c.MarkCompleted(ctx, req.ID, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != models.StatusPickupCompleted || cur.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp, got %+v", cur)
	}
	// terminal: nothing moves it
	if _, err := c.Cancel(ctx, req.ID, "platform", "cleanup"); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("completed request cannot be cancelled, got %v", err)
	}
}

func TestCancelBlocksLateAccept(t *testing.T) {
	c, _ := newTestCoordinator()
	req := createNotified(t, c)
	ctx := context.Background()

	if _, err := c.Cancel(ctx, req.ID, "req-1", "changed my mind"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Accept(ctx, req.ID, "v1"); !errors.Is(err, apperr.ErrPreconditionFailed) {
		t.Fatalf("accept after cancel must fail, got %v", err)
	}
	cur, err := c.Get(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != models.StatusCancelled || cur.CancelReason != "changed my mind" {
		t.Fatalf("cancel not recorded: %+v", cur)
	}
}

func TestCancelAssignedClearsVendor(t *testing.T) {
	c, sink := newTestCoordinator()
	req := createNotified(t, c)
	ctx := context.Background()
	if _, err := c.Accept(ctx, req.ID, "v1"); err != nil {
		t.Fatal(err)
	}

	cur, err := c.Cancel(ctx, req.ID, "req-1", "vendor unreachable")
	if err != nil {
		t.Fatalf("cancel of assigned request should succeed, got %v", err)
	}
	if cur.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cur.Status)
	}
	// A cancelled request carries no vendor: only the assigned states do.
	if cur.AssignedVendor != "" {
		t.Fatalf("cancel must clear the vendor, got %q", cur.AssignedVendor)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	last := sink.events[len(sink.events)-1]
	if last.To != models.StatusCancelled || last.VendorID != "v1" {
		t.Fatalf("cancel event should name the released vendor: %+v", last)
	}
}

func TestDeclineEventNamesVendor(t *testing.T) {
	c, sink := newTestCoordinator()
	req := createNotified(t, c)
	ctx := context.Background()
	if _, err := c.Accept(ctx, req.ID, "v1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Decline(ctx, req.ID, "v1", "truck full"); err != nil {
		t.Fatal(err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	last := sink.events[len(sink.events)-1]
	if last.To != models.StatusNotified || last.VendorID != "v1" {
		t.Fatalf("decline event should name the declining vendor: %+v", last)
	}
}

func TestEventsEmittedPerTransition(t *testing.T) {
	c, sink := newTestCoordinator()
	req := createNotified(t, c)
	ctx := context.Background()
	if _, err := c.Accept(ctx, req.ID, "v1"); err != nil {
		t.Fatal(err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	// create, notify, accept
	if len(sink.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(sink.events))
	}
	last := sink.events[len(sink.events)-1]
	if last.To != models.StatusAssigned || last.VendorID != "v1" {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestStuckPolicy(t *testing.T) {
	c, _ := newTestCoordinator()
	req := createNotified(t, c)
	p := MaxWait{D: 0}
	cur, _ := c.Get(context.Background(), req.ID)
	if !p.Stuck(cur, cur.CreatedAt.Add(1)) {
		t.Fatal("zero max wait should flag any notified request")
	}
}
