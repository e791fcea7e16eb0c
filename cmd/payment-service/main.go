// payment-service is the standalone charge processor behind the shop API.
// It authorizes charges, stores one row per reference and answers repeats
// with the original result instead of charging twice.
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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
	"github.com/JaloliddinLapasov/DokonUz/pkg/metrics"
)

type cfg struct {
	Port        string
	DatabaseURL string
	// DeclineOverMinor: charges strictly above this minor-unit amount are
	// declined, 0 approves everything. Lets load tests exercise failures.
	DeclineOverMinor int64
}

type chargeRequest struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
}

type refundRequest struct {
	GatewayRef  string `json:"gateway_ref"`
	AmountMinor int64  `json:"amount_minor"`
}

func main() {
	logger := logging.New("payment-service")
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

	srvMetrics := metrics.NewServerMetrics("payment_service")
	svc := &service{pool: pool, logger: logger, metrics: srvMetrics, declineOver: cfg.DeclineOverMinor}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", svc.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/charge", svc.handleCharge)
	mux.HandleFunc("/refund", svc.handleRefund)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("payment-service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	declineOver, _ := strconv.ParseInt(getenv("DECLINE_OVER_MINOR", "0"), 10, 64)
	return cfg{
		Port:             getenv("PORT", "8081"),
		DatabaseURL:      db,
		DeclineOverMinor: declineOver,
	}, nil
}

type service struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	metrics     *metrics.ServerMetrics
	declineOver int64
}

func (s *service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *service) handleCharge(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.reply(w, "charge", start, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, "charge", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.AmountMinor <= 0 || strings.TrimSpace(req.Reference) == "" {
		s.reply(w, "charge", start, http.StatusBadRequest, map[string]any{"error": "amount_minor and reference are required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Повтор по тому же reference возвращает уже выданный gateway_ref.
	var existing string
	err := s.pool.QueryRow(ctx,
		`SELECT gateway_ref FROM payments WHERE reference=$1 AND status='CHARGED'`, req.Reference,
	).Scan(&existing)
	if err == nil {
		s.reply(w, "charge", start, http.StatusOK, map[string]any{"gateway_ref": existing})
		return
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		s.reply(w, "charge", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	if s.declineOver > 0 && req.AmountMinor > s.declineOver {
		_, _ = s.pool.Exec(ctx,
			`INSERT INTO payments(gateway_ref, reference, amount_minor, currency, status)
			 VALUES ($1, $2, $3, $4, 'DECLINED')
			 ON CONFLICT (reference) DO NOTHING`,
			uuid.NewString(), req.Reference, req.AmountMinor, req.Currency)
		s.logger.Warn("charge declined",
			logging.Step("charge"),
			zap.String("reference", req.Reference),
			zap.Int64("amount_minor", req.AmountMinor))
		s.reply(w, "charge", start, http.StatusPaymentRequired, map[string]any{"error": "card declined"})
		return
	}

	gatewayRef := "pay-" + uuid.NewString()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO payments(gateway_ref, reference, amount_minor, currency, status)
		 VALUES ($1, $2, $3, $4, 'CHARGED')
		 ON CONFLICT (reference) DO NOTHING`,
		gatewayRef, req.Reference, req.AmountMinor, req.Currency)
	if err != nil {
		s.reply(w, "charge", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	// Гонка двух повторов: в таблице остался чужой ref, отдаём его.
	var stored string
	if err := s.pool.QueryRow(ctx,
		`SELECT gateway_ref FROM payments WHERE reference=$1`, req.Reference,
	).Scan(&stored); err == nil {
		gatewayRef = stored
	}

	s.logger.Info("charge approved",
		logging.Step("charge"),
		zap.String("reference", req.Reference),
		zap.String("gateway_ref", gatewayRef),
		zap.Int64("amount_minor", req.AmountMinor),
		logging.DurationMS(time.Since(start).Milliseconds()))
	s.reply(w, "charge", start, http.StatusOK, map[string]any{"gateway_ref": gatewayRef})
}

func (s *service) handleRefund(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		s.reply(w, "refund", start, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reply(w, "refund", start, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.GatewayRef) == "" {
		s.reply(w, "refund", start, http.StatusBadRequest, map[string]any{"error": "gateway_ref is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	tag, err := s.pool.Exec(ctx,
		`UPDATE payments SET status='REFUNDED', updated_at=now()
		 WHERE gateway_ref=$1 AND status IN ('CHARGED', 'REFUNDED')`, req.GatewayRef)
	if err != nil {
		s.reply(w, "refund", start, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if tag.RowsAffected() == 0 {
		s.reply(w, "refund", start, http.StatusNotFound, map[string]any{"error": "unknown gateway_ref"})
		return
	}

	s.logger.Info("refund processed",
		logging.Step("refund"),
		zap.String("gateway_ref", req.GatewayRef))
	s.reply(w, "refund", start, http.StatusOK, map[string]any{"status": "refunded"})
}

func (s *service) reply(w http.ResponseWriter, handler string, start time.Time, code int, v any) {
	writeJSON(w, code, v)
	s.metrics.Requests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
	s.metrics.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
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
