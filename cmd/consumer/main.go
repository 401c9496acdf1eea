package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/pickup-dispatch/internal/config"
	"github.com/example/pickup-dispatch/internal/invalidation"
	"github.com/example/pickup-dispatch/internal/models"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invalidator_events_consumed_total",
		Help: "Total state-change events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invalidator_events_invalid_total",
		Help: "Total invalid messages received",
	})
	keysEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invalidator_keys_evicted_total",
		Help: "Total derived cache keys evicted",
	})
	evictErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "invalidator_evict_errors_total",
		Help: "Total cache evictions that kept failing after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, keysEvicted, evictErrors)
}

func main() {
	cfg := config.LoadConsumerConfig()

	// allow a flag override for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", cfg.MetricsAddr, "address to serve prometheus metrics on")
	flag.Parse()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	deleter := &redisDeleter{c: rc}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("invalidator listening topic=%s brokers=%v group=%s", cfg.KafkaTopic, cfg.KafkaBrokers, cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down invalidator")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		eventsConsumed.Inc()

		var ev models.StateChange
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			eventsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		// Evictions are best-effort: retry a little, then drop and log.
		for _, key := range invalidation.Keys(ev) {
			if err := deleteWithRetry(ctx, deleter, key, 3, 200*time.Millisecond); err != nil {
				evictErrors.Inc()
				log.Printf("evict failed for key=%s request=%s: %v", key, ev.RequestID, err)
				continue
			}
			keysEvicted.Inc()
		}
	}
}

// CacheDeleter defines the small subset of redis operations we need for tests and production.
type CacheDeleter interface {
	Del(ctx context.Context, key string) error
}

type redisDeleter struct{ c *redis.Client }

func (r *redisDeleter) Del(ctx context.Context, key string) error {
	_, err := r.c.Del(ctx, key).Result()
	return err
}

// deleteWithRetry evicts one key with retry/backoff.
func deleteWithRetry(ctx context.Context, d CacheDeleter, key string, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = d.Del(ctx, key); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
