// README: Entry point; loads config, wires modules, runs the API and dispatch loops.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"dishpatch/internal/config"
	httptransport "dishpatch/internal/http"
	"dishpatch/internal/infra"
	"dishpatch/internal/maps"
	"dishpatch/internal/modules/dispatch"
	"dishpatch/internal/modules/driver"
	"dishpatch/internal/modules/notify"
	"dishpatch/internal/modules/order"
	"dishpatch/internal/modules/payment"
	"dishpatch/internal/modules/restaurant"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("postgres init failed", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis)
	if err != nil {
		slog.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	mqConn, mqCh, err := infra.NewMQChannel(cfg.MQ)
	if err != nil {
		slog.Error("rabbitmq init failed", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()

	routeSvc, err := maps.NewRouteService(cfg.Maps.APIKey)
	if err != nil {
		slog.Error("maps init failed", "error", err)
		os.Exit(1)
	}

	publisher := notify.NewPublisher(mqCh, cfg.MQ.Exchange)

	orderStore := order.NewStore(dbPool)
	orderSvc := order.NewService(orderStore, payment.NewLocalGateway(), order.Fees{
		DeliveryFee:    cfg.Fees.DeliveryFee,
		ServiceFee:     cfg.Fees.ServiceFee,
		TaxRate:        cfg.Fees.TaxRate,
		CommissionRate: cfg.Fees.CommissionRate,
		DriverPayout:   cfg.Fees.DriverPayout,
	})

	driverStore := driver.NewStore(dbPool, redisClient)
	driverSvc := driver.NewService(driverStore)

	restaurantStore := restaurant.NewStore(dbPool)

	dispatchSvc := dispatch.NewService(orderSvc, driverSvc, restaurantStore, cfg.Dispatch)
	dispatchSvc.SetETA(routeSvc)
	dispatchSvc.SetNotifier(publisher)

	orderSvc.SetNotifier(publisher)
	orderSvc.SetRegistry(driverSvc)
	orderSvc.SetDispatcher(dispatchSvc)
	driverSvc.SetTrail(orderSvc)

	router := httptransport.NewRouter(orderSvc, driverSvc, dispatchSvc)
	server := httptransport.NewServer(cfg.HTTP, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatchSvc.RunWorker(gctx)
		return nil
	})
	g.Go(func() error {
		dispatchSvc.RunRescanner(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	slog.Info("dishpatch api started", "addr", cfg.HTTP.Addr)
	if err := g.Wait(); err != nil {
		slog.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
