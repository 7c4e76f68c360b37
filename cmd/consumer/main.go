// The consumer keeps the shared Redis driver set current from the
// driver-locations topic, so API processes backed by Redis all see the
// same live positions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/logging"
	"github.com/Tatsuru-Kikuchi/tokyo-taxi-ai-sub001/internal/models"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taxi_dispatch",
		Name:      "consumer_messages_consumed_total",
		Help:      "Total driver location messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taxi_dispatch",
		Name:      "consumer_messages_invalid_total",
		Help:      "Total invalid messages received",
	})
	redisUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taxi_dispatch",
		Name:      "consumer_redis_updates_total",
		Help:      "Total successful redis updates",
	})
	redisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taxi_dispatch",
		Name:      "consumer_redis_errors_total",
		Help:      "Total redis errors",
	})
)

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	brokers := splitBrokers(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := envOr("KAFKA_TOPIC", "driver-locations")
	group := envOr("KAFKA_GROUP", "taxi-dispatch-consumer")
	geoKey := envOr("REDIS_GEO_KEY", "drivers_geo")

	rc := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	updater := &redisAdapter{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff.String())
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var u models.LocationUpdate
		if err := json.Unmarshal(m.Value, &u); err != nil || u.DriverID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid location message", "error", err)
			continue
		}

		if err := updateRedisWithRetry(ctx, updater, geoKey, u, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Warn("redis update failed", "driver", u.DriverID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// RedisUpdater is the subset of redis operations the update path needs,
// small enough to fake in tests.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateRedisWithRetry writes the driver position and refreshes the meta
// timestamp. Only position and updated are touched; dispatch state on the
// meta hash stays whatever the booking flow last wrote.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, u models.LocationUpdate, attempts int, delay time.Duration) error {
	recorded := u.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	for i := 0; i < attempts; i++ {
		if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: u.Lng, Latitude: u.Lat, Name: u.DriverID}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if err := rc.HSet(ctx, "driver:meta:"+u.DriverID, map[string]interface{}{
			"updated": recorded.Format(time.RFC3339),
		}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitBrokers(v string) []string {
	out := []string{}
	for _, b := range strings.Split(v, ",") {
		if s := strings.TrimSpace(b); s != "" {
			out = append(out, s)
		}
	}
	return out
}
