// outbox-relay moves pending outbox rows to Kafka. Publishing is
// at-least-once: a row is marked sent only after the broker acked it, so a
// crash between the two can replay the event. Consumers dedupe on event_id.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/pkg/kafka"
	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
	"github.com/JaloliddinLapasov/DokonUz/pkg/outbox"
)

type cfg struct {
	DatabaseURL  string
	KafkaBrokers string
	PollInterval time.Duration
	BatchSize    int
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
	pollMS, _ := strconv.Atoi(getenv("POLL_INTERVAL_MS", "500"))
	batch, _ := strconv.Atoi(getenv("BATCH_SIZE", "100"))
	return cfg{
		DatabaseURL:  db,
		KafkaBrokers: brokers,
		PollInterval: time.Duration(pollMS) * time.Millisecond,
		BatchSize:    batch,
	}, nil
}

func main() {
	logger := logging.New("outbox-relay")
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
	writers := map[string]writerFunc{}

	logger.Info("outbox-relay started",
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("batch_size", cfg.BatchSize))

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox-relay stopped")
			return
		case <-ticker.C:
			relayOnce(ctx, pool, client, writers, cfg.BatchSize, logger)
		}
	}
}

type writerFunc func(ctx context.Context, key string, payload json.RawMessage) error

func relayOnce(ctx context.Context, pool *pgxpool.Pool, client *kafka.Client, writers map[string]writerFunc, batch int, logger *zap.Logger) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	records, err := outbox.FetchPending(fetchCtx, pool, batch)
	cancel()
	if err != nil {
		logger.Warn("fetch pending failed", logging.Step("relay"), zap.Error(err))
		return
	}

	for _, rec := range records {
		write, ok := writers[rec.Topic]
		if !ok {
			w := client.NewWriter(rec.Topic)
			write = func(ctx context.Context, key string, payload json.RawMessage) error {
				return kafka.PublishJSON(ctx, w, key, payload)
			}
			writers[rec.Topic] = write
		}

		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := write(pubCtx, rec.Key, rec.Payload)
		cancel()
		if err != nil {
			// остановка на первой ошибке сохраняет порядок внутри темы
			logger.Warn("publish failed",
				logging.Step("relay"),
				zap.String("topic", rec.Topic),
				zap.String("event_id", rec.EventID),
				zap.Error(err))
			return
		}

		markCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = outbox.MarkSent(markCtx, pool, rec.ID)
		cancel()
		if err != nil {
			logger.Warn("mark sent failed",
				logging.Step("relay"),
				zap.String("event_id", rec.EventID),
				zap.Error(err))
			return
		}

		logger.Info("event relayed",
			logging.Step("relay"),
			zap.String("topic", rec.Topic),
			zap.String("event_id", rec.EventID))
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
