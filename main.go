package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/application/notification"
	appOrder "github.com/amiryogi/bivanhandicraft-sub000/internal/application/order"
	appPayment "github.com/amiryogi/bivanhandicraft-sub000/internal/application/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/config"
	domcart "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/cart"
	dominventory "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/inventory"
	domorder "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	dompayment "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/gateway/cod"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/gateway/esewa"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/gateway/khalti"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/id"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/kafka"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/memory"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/notify"
	infraobs "github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/observability"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/observability/oteltrace"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/observability/prometrics"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/observability/zaplogger"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/outbox"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/postgres"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/redisx"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	httppresentation "github.com/amiryogi/bivanhandicraft-sub000/internal/presentation/http"
	workerpresentation "github.com/amiryogi/bivanhandicraft-sub000/internal/presentation/worker"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const serviceVersion = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	baseLogger, err := zaplogger.New(zaplogger.Options{
		Level:       cfg.LogLevel,
		Development: cfg.Env == "local",
		File:        cfg.LogFile,
	},
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = baseLogger.Sync() }()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	metrics, err := infraobs.NewMetrics(prometrics.New(prometheus.DefaultRegisterer, ""), infraobs.Instruments)
	if err != nil {
		baseLogger.Error("metrics_init_failed", observability.Err(err))
		os.Exit(1)
	}
	tel := infraobs.New(
		oteltrace.New(cfg.ServiceName, serviceVersion, attribute.String("deployment.environment", cfg.Env)),
		baseLogger, metrics,
	)
	systemLogger := baseLogger.With(observability.F("component", "main"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStores, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		systemLogger.Error("storage_init_failed", observability.Err(err))
		os.Exit(1)
	}
	defer closeStores()

	notifier, closeNotifier := buildNotifier(cfg, tel, systemLogger)
	defer closeNotifier()

	// In-memory event bus; notifications never block the request path
	bus := outbox.NewBus(tel, outbox.Options{})
	ids := id.NewUUIDGenerator()
	notification.NewWorker(workerpresentation.NewObservedSubscriber(bus, tel), notifier, ids, tel).Start()
	bus.Start(ctx)

	registry := appPayment.NewRegistry(
		cod.New(),
		esewa.New(esewa.Config{
			ProductCode: cfg.ESewa.ProductCode,
			SecretKey:   cfg.ESewa.SecretKey,
			FormURL:     cfg.ESewa.FormURL,
			StatusURL:   cfg.ESewa.StatusURL,
			SuccessURL:  cfg.BackendURL + "/payments/esewa/callback",
			FailureURL:  cfg.BackendURL + "/payments/esewa/callback",
			Timeout:     cfg.GatewayTimeout,
		}),
		khalti.New(khalti.Config{
			SecretKey:  cfg.Khalti.SecretKey,
			BaseURL:    cfg.Khalti.BaseURL,
			ReturnURL:  cfg.BackendURL + "/payments/khalti/callback",
			WebsiteURL: cfg.FrontendURL,
			Timeout:    cfg.GatewayTimeout,
		}),
	)

	payments := appPayment.NewOrchestrator(st.orders, st.payments, st.carts, registry, bus, ids, tel)
	handler := httppresentation.NewHandler(httppresentation.Services{
		PlaceOrder:   appOrder.NewPlaceOrderUseCase(st.orders, st.catalog, st.carts, ids, id.NewOrderNumberGenerator(), bus, tel),
		GetOrder:     appOrder.NewGetOrderUseCase(st.orders),
		CancelOrder:  appOrder.NewCancelOrderUseCase(st.orders, bus, tel),
		UpdateStatus: appOrder.NewUpdateStatusUseCase(st.orders, bus, tel).WithCODSettlement(payments),
		Payments:     payments,
	}, cfg.FrontendURL, tel)

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("gateways", registry.Methods()),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				observability.Err(err),
			)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			observability.Err(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		systemLogger.Warn("event_bus_stop_error", observability.Err(err))
	}
}

type stores struct {
	orders   domorder.Repository
	payments dompayment.Repository
	carts    domcart.Repository
	catalog  dominventory.Catalog
}

// openStores picks Postgres and Redis when configured and falls back to memory.
func openStores(ctx context.Context, cfg config.Config, log observability.Logger) (*stores, func(), error) {
	var (
		st      stores
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN != "" {
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			closeAll()
			return nil, nil, err
		}
		st.orders = postgres.NewOrderRepository(pool)
		st.payments = postgres.NewPaymentRepository(pool)
		st.catalog = postgres.NewInventoryRepository(pool)
		log.Info("storage_selected", observability.F("backend", "postgres"))
	} else {
		stock := memory.NewInventoryRepository(demoCatalog()...)
		st.orders = memory.NewOrderRepository(stock)
		st.payments = memory.NewPaymentRepository()
		st.catalog = stock
		log.Info("storage_selected", observability.F("backend", "memory"))
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisx.New(ctx, cfg.RedisAddr)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rdb.Close() })
		st.carts = redisx.NewCartRepository(rdb, cfg.CartTTL)
		log.Info("cart_store_selected", observability.F("backend", "redis"))
	} else {
		st.carts = memory.NewCartRepository()
		log.Info("cart_store_selected", observability.F("backend", "memory"))
	}
	return &st, closeAll, nil
}

// buildNotifier always logs notifications and also publishes them to Kafka when brokers are set.
func buildNotifier(cfg config.Config, tel observability.Observability, log observability.Logger) (notification.Notifier, func()) {
	sinks := notify.Fanout{notify.NewLogNotifier(tel)}
	k, err := kafka.NewNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
	switch {
	case errors.Is(err, kafka.ErrDisabled):
		return sinks, func() {}
	case err != nil:
		log.Warn("kafka_notifier_disabled", observability.Err(err))
		return sinks, func() {}
	}
	log.Info("kafka_notifier_enabled", observability.F("topic", cfg.KafkaTopic))
	return append(sinks, k), func() { _ = k.Close() }
}

// demoCatalog seeds the in-memory store so a local run can take orders.
func demoCatalog() []*dominventory.Product {
	return []*dominventory.Product{
		{ID: "singing-bowl", Name: "Hand-hammered Singing Bowl", Slug: "singing-bowl",
			Price: decimal.NewFromInt(3500), Stock: 25, Active: true},
		{ID: "lokta-journal", Name: "Lokta Paper Journal", Slug: "lokta-journal",
			Price: decimal.NewFromInt(650), Stock: 80, Active: true},
		{ID: "pashmina-shawl", Name: "Pashmina Shawl", Slug: "pashmina-shawl",
			Price: decimal.NewFromInt(7200), Stock: 10, Active: true,
			Variants: []dominventory.Variant{
				{ID: "maroon", Name: "Maroon", Stock: 4},
				{ID: "ivory", Name: "Ivory", Price: decimal.NewNullDecimal(decimal.NewFromInt(7800)), Stock: 6},
			}},
	}
}
