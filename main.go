package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"balltickets/config"
	"balltickets/db"
	"balltickets/gateway"
	"balltickets/pkg"
	"balltickets/service"
	"balltickets/tracing"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log.Init(logrus.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	traceProvider, err := tracing.ConfigureTraceProvider(cfg.JaegerEndpoint)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = traceProvider.Shutdown(context.Background())
	}()

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		panic(err)
	}

	dbConn, err := db.Open(cfg.PostgresURL)
	if err != nil {
		panic(err)
	}
	defer dbConn.Close()

	redisClient := pkg.NewRedisClient(cfg.RedisAddr)
	defer redisClient.Close()

	paymentClient := gateway.NewPaymentClient(cfg.GatewayURL, cfg.PaymentReturnURL, []byte(cfg.GatewaySecret))
	notificationsClient := gateway.NewNotificationsClient(cfg.NotificationsURL)

	err = service.New(
		cfg,
		dbConn,
		redisClient,
		settings,
		paymentClient,
		notificationsClient,
	).Run(ctx)
	if err != nil {
		logrus.WithError(err).Error("Service stopped")
		os.Exit(1)
	}
}
