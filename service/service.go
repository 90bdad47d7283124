package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"balltickets/config"
	"balltickets/db"
	"balltickets/http"
	"balltickets/pkg"
	"balltickets/pkg/clock"
	"balltickets/pkg/lock"
	"balltickets/pubsub"
	"balltickets/pubsub/bus"
	"balltickets/pubsub/command"
	"balltickets/pubsub/event"
	"balltickets/pubsub/outbox"
	"balltickets/ticketing"
)

func init() {
	log.Init(logrus.InfoLevel)
}

type Service struct {
	db              *sqlx.DB
	watermillRouter *message.Router
	httpServer      *http.Server
	sweeper         *ticketing.Sweeper
	settings        *config.Settings

	sweepEnabled   bool
	fastSweepEvery time.Duration
	slowSweepEvery time.Duration
}

func New(
	cfg config.Config,
	dbConn *sqlx.DB,
	redisClient *redis.Client,
	settings *config.Settings,
	paymentGateway ticketing.PaymentGateway,
	notificationsService command.NotificationsService,
) Service {
	watermillLogger := log.NewWatermill(log.FromContext(context.Background()))

	var redisPublisher message.Publisher
	redisPublisher = pubsub.NewRedisPublisher(redisClient, watermillLogger)
	redisPublisher = log.CorrelationPublisherDecorator{Publisher: redisPublisher}

	commandBus, err := bus.NewCommandBus(redisPublisher)
	if err != nil {
		panic(fmt.Errorf("failed to create command bus: %w", err))
	}

	engine := ticketing.NewEngine(
		db.NewUnitOfWork(dbConn),
		paymentGateway,
		command.NewNotifier(commandBus),
		settings,
		clock.System{},
	).WithGatewayTimeout(cfg.GatewayTimeout)

	sweeper := ticketing.NewSweeper(engine, lock.NewRedis(redisClient))

	postgresSubscriber := outbox.NewPostgresSubscriber(dbConn.DB, watermillLogger)
	eventProcessorConfig := pkg.NewEventProcessorConfig(redisClient, watermillLogger)
	commandProcessorConfig := pkg.NewCommandProcessorConfig(redisClient, watermillLogger)

	watermillRouter, err := pubsub.NewWatermillRouter(
		postgresSubscriber,
		redisPublisher,
		redisClient,
		eventProcessorConfig,
		event.NewHandler(),
		commandProcessorConfig,
		command.NewHandler(notificationsService),
		db.NewDataLake(dbConn),
		watermillLogger,
	)
	if err != nil {
		panic(fmt.Errorf("failed to create watermill router: %w", err))
	}

	httpServer := http.NewServer(
		cfg.HTTPAddr,
		engine,
		sweeper,
		settings,
		cfg.HeaderAuthToken,
	)

	return Service{
		db:              dbConn,
		watermillRouter: watermillRouter,
		httpServer:      httpServer,
		sweeper:         sweeper,
		settings:        settings,
		sweepEnabled:    cfg.SweepEnabled,
		fastSweepEvery:  cfg.FastSweepEvery,
		slowSweepEvery:  cfg.SlowSweepEvery,
	}
}

func (s Service) Run(ctx context.Context) error {
	if err := db.InitializeDatabaseSchema(s.db); err != nil {
		return fmt.Errorf("failed to initialize database schema: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.watermillRouter.Run(ctx)
	})

	g.Go(func() error {
		// the service must not look healthy before the router is ready
		select {
		case <-s.watermillRouter.Running():
		case <-ctx.Done():
			return nil
		}

		return s.httpServer.Run(ctx)
	})

	g.Go(func() error {
		return s.reloadSettingsOnHangup(ctx)
	})

	if s.sweepEnabled {
		g.Go(func() error {
			select {
			case <-s.watermillRouter.Running():
			case <-ctx.Done():
				return nil
			}

			return s.runSweeps(ctx)
		})
	}

	return g.Wait()
}
