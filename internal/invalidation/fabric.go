package invalidation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/pickup-dispatch/internal/cache"
	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

// Fabric evicts derived read-cache entries after request state changes
// so dashboards and list views never serve a stale status. Eviction is
// best-effort and asynchronous: a failed delete is logged and dropped,
// never rolled back into the business operation.
type Fabric struct {
	Cache  cache.Cache
	Logger *slog.Logger

	queue chan models.StateChange
	wg    sync.WaitGroup
	once  sync.Once
}

func NewFabric(c cache.Cache, logger *slog.Logger) *Fabric {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fabric{Cache: c, Logger: logger, queue: make(chan models.StateChange, 256)}
}

// Keys derives every read-cache key a state change can stale. The cache
// store has no key listing, so each key must come from an entity id on
// the event itself.
func Keys(ev models.StateChange) []string {
	keys := []string{
		"request:summary:" + ev.RequestID,
		"requester:requests:" + ev.RequesterID,
		"dashboard:overview",
	}
	if ev.VendorID != "" {
		keys = append(keys, "vendor:active:"+ev.VendorID)
	}
	if ev.To.Terminal() {
		// Terminal requests no longer need the live-location mirror.
		keys = append(keys, "request:loc:"+ev.RequestID)
	}
	return keys
}

// Handle evicts synchronously; used by the Kafka consumer worker.
func (f *Fabric) Handle(ctx context.Context, ev models.StateChange) {
	for _, key := range Keys(ev) {
		if err := f.Cache.Delete(ctx, key); err != nil {
			observability.InvalidationFailuresTotal.Inc()
			f.Logger.Error("cache invalidation failed", "key", key, "request_id", ev.RequestID, "error", err)
			continue
		}
		observability.InvalidationsTotal.Inc()
	}
}

// Publish satisfies assignment.EventSink for single-process deployments
// with no broker: the event is queued and handled off the caller's
// goroutine. A full queue drops the event rather than block a transition.
func (f *Fabric) Publish(ctx context.Context, ev models.StateChange) error {
	f.start()
	select {
	case f.queue <- ev:
	default:
		observability.InvalidationFailuresTotal.Inc()
		f.Logger.Error("invalidation queue full, event dropped", "request_id", ev.RequestID, "to", ev.To)
	}
	return nil
}

func (f *Fabric) start() {
	f.once.Do(func() {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			for ev := range f.queue {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				f.Handle(ctx, ev)
				cancel()
			}
		}()
	})
}

// Close drains the queue and stops the worker.
func (f *Fabric) Close() {
	f.start()
	close(f.queue)
	f.wg.Wait()
}
