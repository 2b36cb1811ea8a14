// README: Entry point; loads config, wires services, starts the HTTP server,
// and tears everything down on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mesa/internal/config"
	"mesa/internal/geocode"
	httptransport "mesa/internal/http"
	"mesa/internal/infra"
	"mesa/internal/modules/assignment"
	"mesa/internal/modules/order"
	"mesa/internal/modules/otp"
	"mesa/internal/modules/partner"
	"mesa/internal/modules/stats"
	"mesa/internal/notify"
	"mesa/internal/realtime"
	"mesa/internal/stream"

	"mesa/internal/catalog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		slog.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	amqpConn, err := infra.NewAMQP(cfg.AMQP.URL)
	if err != nil {
		slog.Error("connect rabbitmq", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	kafkaProducer, err := infra.NewKafkaProducer(cfg.Kafka.Brokers)
	if err != nil {
		slog.Error("connect kafka", "error", err)
		os.Exit(1)
	}
	defer kafkaProducer.Close()

	verifier := infra.NewJWTVerifier(cfg.JWT.Secret)

	notifier, err := notify.NewAMQPNotifier(amqpConn, cfg.AMQP.Exchange)
	if err != nil {
		slog.Error("init notifier", "error", err)
		os.Exit(1)
	}
	publisher := stream.NewKafkaPublisher(kafkaProducer, cfg.Kafka.Topic)

	var geocoder order.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := geocode.NewClient(cfg.Maps.APIKey)
		if err != nil {
			slog.Error("init geocoder", "error", err)
			os.Exit(1)
		}
		geocoder = g
	}

	catalogStore := catalog.NewStore(dbPool)
	partnerStore := partner.NewStore(dbPool, redisClient)
	orderStore := order.NewPGStore(dbPool)

	assignSvc := assignment.NewService(orderStore, partnerStore, cfg.Assignment)
	statsSvc := stats.NewService(orderStore, partnerStore, cfg.Delivery.SLAWindow, cfg.Pricing.Currency)

	hub := realtime.NewHub()
	defer hub.Close()

	orderSvc := order.NewService(order.ServiceDeps{
		Store:     orderStore,
		Catalog:   catalogStore,
		Partners:  partnerStore,
		Assigner:  assignSvc,
		Stats:     statsSvc,
		OTP:       otp.NewGenerator(cfg.Delivery.OTPDigits),
		Notifier:  notifier,
		Stream:    publisher,
		Broadcast: hub,
		Geocoder:  geocoder,
		Pricing:   cfg.Pricing,
	})

	rtHandler := realtime.NewHandler(hub, verifier, orderSvc, orderSvc)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Order:      orderSvc,
		Assignment: assignSvc,
		Partners:   partnerStore,
		Realtime:   rtHandler,
		Verifier:   verifier,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("server starting", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
