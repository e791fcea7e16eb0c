// notification-service consumes order events from Kafka and turns them into
// notification rows. The inbox table makes the consumer idempotent: a
// redelivered event id is dropped before it reaches the notifications table.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/pkg/contracts"
	"github.com/JaloliddinLapasov/DokonUz/pkg/kafka"
	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
	"github.com/JaloliddinLapasov/DokonUz/pkg/metrics"
)

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	Topic        string
	GroupID      string
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if brokers == "" {
		return cfg{}, errors.New("KAFKA_BROKERS is required")
	}
	return cfg{
		Port:         getenv("PORT", "8082"),
		DatabaseURL:  db,
		KafkaBrokers: brokers,
		Topic:        getenv("KAFKA_TOPIC", contracts.OrdersTopic),
		GroupID:      getenv("KAFKA_GROUP_ID", "notification-service"),
	}, nil
}

func main() {
	logger := logging.New("notification-service")
	defer func() { _ = logger.Sync() }()

	cfg, err := readCfg()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		logger.Fatal("db connect error", zap.Error(err))
	}
	defer pool.Close()

	client := kafka.NewClient(cfg.KafkaBrokers)
	go consumeEvents(ctx, pool, client, cfg, logger)

	srvMetrics := metrics.NewServerMetrics("notification_service")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		code := http.StatusOK
		body := map[string]any{"status": "ok"}
		if err := pool.Ping(r.Context()); err != nil {
			code = http.StatusServiceUnavailable
			body = map[string]any{"status": "db_error"}
		}
		writeJSON(w, code, body)
		srvMetrics.Requests.WithLabelValues("health", strconv.Itoa(code)).Inc()
		srvMetrics.LatencyMS.WithLabelValues("health").Observe(float64(time.Since(start).Milliseconds()))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("notification-service listening", zap.String("port", cfg.Port), zap.String("topic", cfg.Topic))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func consumeEvents(ctx context.Context, pool *pgxpool.Pool, client *kafka.Client, cfg cfg, logger *zap.Logger) {
	reader := client.NewReader(cfg.Topic, cfg.GroupID)
	defer reader.Close()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read error", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
		var evt contracts.Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Warn("event decode error", zap.Error(err))
			continue
		}
		if evt.EventID == "" {
			continue
		}
		if err := saveNotification(ctx, pool, evt); err != nil {
			logger.Error("notification save error",
				zap.String("event_id", evt.EventID), zap.Error(err))
			continue
		}
		logger.Info("notification recorded",
			logging.OrderID(evt.OrderID),
			zap.String("event_id", evt.EventID),
			zap.String("type", evt.Type))
	}
}

func saveNotification(ctx context.Context, pool *pgxpool.Pool, evt contracts.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// inbox first: a duplicate event id stops here.
	tag, err := pool.Exec(ctx, `INSERT INTO inbox(event_id, received_at)
		VALUES ($1, now()) ON CONFLICT (event_id) DO NOTHING`, evt.EventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	data, _ := json.Marshal(evt.Payload)
	_, err = pool.Exec(ctx, `INSERT INTO notifications(event_id, order_id, type, payload)
		VALUES ($1, $2, $3, $4) ON CONFLICT (event_id) DO NOTHING`,
		evt.EventID, evt.OrderID, evt.Type, string(data))
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
