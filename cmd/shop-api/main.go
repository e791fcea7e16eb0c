package main

import (
	"context"
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

	"github.com/JaloliddinLapasov/DokonUz/internal/shop/auth"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/httpapi"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/inventory"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/order"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/payment"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/storage/memory"
	"github.com/JaloliddinLapasov/DokonUz/internal/shop/storage/postgres"
	"github.com/JaloliddinLapasov/DokonUz/pkg/logging"
	"github.com/JaloliddinLapasov/DokonUz/pkg/metrics"
)

type cfg struct {
	Port           string
	DBMode         string // memory | postgres
	DatabaseURL    string
	JWTSecret      string
	TokenTTL       time.Duration
	MockPayment    bool
	PaymentBaseURL string
	PaymentTimeout time.Duration
	RateRPS        int
	RateBurst      int
	RefundOnDelete bool
	Currency       string
}

func readCfg() (cfg, error) {
	c := cfg{
		Port:           getenv("PORT", "8080"),
		DBMode:         strings.ToLower(getenv("DB_MODE", "postgres")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:      strings.TrimSpace(os.Getenv("JWT_SECRET")),
		PaymentBaseURL: strings.TrimRight(getenv("PAYMENT_BASE_URL", ""), "/"),
		Currency:       getenv("CURRENCY", "usd"),
	}
	c.MockPayment = boolenv("MOCK_PAYMENT", c.PaymentBaseURL == "")
	c.RefundOnDelete = boolenv("REFUND_ON_DELETE", false)

	ttlMin, _ := strconv.Atoi(getenv("TOKEN_TTL_MIN", "60"))
	c.TokenTTL = time.Duration(ttlMin) * time.Minute
	toutMS, _ := strconv.Atoi(getenv("PAYMENT_TIMEOUT_MS", "2500"))
	c.PaymentTimeout = time.Duration(toutMS) * time.Millisecond
	c.RateRPS, _ = strconv.Atoi(getenv("RATE_RPS", "0"))
	c.RateBurst, _ = strconv.Atoi(getenv("RATE_BURST", "20"))

	if c.DBMode == "postgres" && c.DatabaseURL == "" {
		return cfg{}, errors.New("DATABASE_URL is required when DB_MODE=postgres")
	}
	if c.JWTSecret == "" {
		return cfg{}, errors.New("JWT_SECRET is required")
	}
	if !c.MockPayment && c.PaymentBaseURL == "" {
		return cfg{}, errors.New("PAYMENT_BASE_URL is required when MOCK_PAYMENT=false")
	}
	return c, nil
}

func main() {
	logger := logging.New("shop-api")
	defer func() { _ = logger.Sync() }()

	cfg, err := readCfg()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := httpapi.Deps{
		Issuer:       auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Logger:       logger,
		Metrics:      metrics.NewServerMetrics("shop_api"),
		OrderMetrics: metrics.NewOrderMetrics("shop_api"),
		RateRPS:      cfg.RateRPS,
		RateBurst:    cfg.RateBurst,
	}

	var (
		ledger    inventory.Ledger
		orders    order.Store
		customers order.CustomerStore
		events    order.EventSink
		pool      *pgxpool.Pool
	)

	switch cfg.DBMode {
	case "memory":
		store := memory.NewStore()
		deps.Customers = store
		deps.Categories = store
		deps.Products = store
		deps.Users = store
		deps.Idempotency = store
		ledger = store
		orders = store
		customers = store
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err = postgres.Connect(connectCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logger.Fatal("db connect error", zap.Error(err))
		}
		defer pool.Close()

		customerStore := postgres.NewCustomerStore(pool)
		orderStore := postgres.NewOrderStore(pool)
		deps.Customers = customerStore
		deps.Categories = postgres.NewCategoryStore(pool)
		deps.Products = postgres.NewProductStore(pool)
		deps.Users = postgres.NewUserStore(pool)
		deps.Idempotency = orderStore
		deps.HealthCheck = pool.Ping
		ledger = inventory.NewPostgresLedger(pool)
		orders = orderStore
		customers = customerStore
		events = postgres.NewOutboxSink(pool, logger)
	default:
		logger.Fatal("unknown DB_MODE", zap.String("db_mode", cfg.DBMode))
	}

	var gateway payment.Gateway
	if cfg.MockPayment {
		gateway = &payment.Mock{}
	} else {
		gateway = payment.NewHTTPGateway(cfg.PaymentBaseURL, cfg.PaymentTimeout)
	}

	builder := order.NewBuilder(customers, ledger, logger, deps.OrderMetrics)
	deps.Orders = order.NewLifecycle(builder, orders, ledger, gateway, events,
		order.Policy{RefundOnDelete: cfg.RefundOnDelete, Currency: cfg.Currency}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewServer(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("shop-api listening",
			zap.String("port", cfg.Port),
			zap.String("db_mode", cfg.DBMode),
			zap.Bool("mock_payment", cfg.MockPayment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func boolenv(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}
