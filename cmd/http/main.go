package main

import (
	"context"
	"expvar"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	roomsApp "github.com/hilthontt/roomsync/internal/application/rooms"
	"github.com/hilthontt/roomsync/internal/infrastructure/configs"
	"github.com/hilthontt/roomsync/internal/infrastructure/json"
	"github.com/hilthontt/roomsync/internal/infrastructure/logging"
	"github.com/hilthontt/roomsync/internal/infrastructure/metrics"
	"github.com/hilthontt/roomsync/internal/infrastructure/profanity"
	"github.com/hilthontt/roomsync/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/roomsync/internal/infrastructure/tracing"
	"github.com/hilthontt/roomsync/internal/infrastructure/ws"
	"github.com/hilthontt/roomsync/internal/presentation/api"
	"github.com/hilthontt/roomsync/internal/presentation/handler/health"
	"github.com/hilthontt/roomsync/internal/presentation/handler/rooms"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	fs := flag.NewFlagSet("roomsync", flag.ExitOnError)
	configPath := configs.DetermineConfigPath(fs, os.Args[1:])
	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(&cfg.Logger)
	json.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal(logging.General, logging.Tracing, "failed to initialize tracer", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warnf("tracer shutdown: %v", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	checks := map[string]health.Check{}

	roomRepository, closeStore, err := newRoomStore(ctx, cfg, logger, checks)
	if err != nil {
		logger.Fatal(logging.MongoDB, logging.Startup, "failed to open room store", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer closeStore()

	publisher, closePublisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(logging.RabbitMQ, logging.Startup, "failed to connect to broker", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer closePublisher()

	transport, closeTransport, err := newTransport(ctx, cfg, logger, m, checks)
	if err != nil {
		logger.Fatal(logging.Redis, logging.Startup, "failed to open realtime transport", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
	defer closeTransport()

	filter, err := profanity.Default()
	if err != nil {
		logger.Fatal(logging.General, logging.Startup, "failed to load word list", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}

	gatewayCfg := cfg.Gateway
	if len(gatewayCfg.AllowedOrigins) == 0 {
		gatewayCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	}
	gateway := ws.NewCore(transport, gatewayCfg, filter, logger, m)
	go gateway.Run(ctx)

	service := roomsApp.NewService(roomRepository, publisher, logger, m, cfg.Share.Origin)
	roomHandler := rooms.NewHandler(service, logger)
	healthHandler := health.NewHandler(checks)

	rateLimiter := ratelimiter.NewKeyedLimiter(cfg.RateLimiter)
	defer rateLimiter.Close()

	app := api.NewApplication(*cfg, roomHandler, healthHandler, gateway, logger, rateLimiter, m, registry)

	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	mux := app.Mount()
	if err := app.Run(ctx, mux); err != nil {
		logger.Error(logging.General, logging.Shutdown, "server stopped", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
