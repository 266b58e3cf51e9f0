package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/StefanoGaspardone/quickshow/internal/clock"
	"github.com/StefanoGaspardone/quickshow/internal/config"
	"github.com/StefanoGaspardone/quickshow/internal/database"
	"github.com/StefanoGaspardone/quickshow/internal/handler"
	"github.com/StefanoGaspardone/quickshow/internal/logger"
	"github.com/StefanoGaspardone/quickshow/internal/middleware"
	"github.com/StefanoGaspardone/quickshow/internal/payment"
	"github.com/StefanoGaspardone/quickshow/internal/queue"
	"github.com/StefanoGaspardone/quickshow/internal/repository"
	"github.com/StefanoGaspardone/quickshow/internal/router"
	"github.com/StefanoGaspardone/quickshow/internal/service"
)

func main() {
	// a missing .env is fine; the process environment wins anyway
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
	logrus.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		logrus.Warn("redis unavailable, cache and rate limiting disabled")
	} else {
		defer rdb.Close()
	}

	broker, err := queue.Dial(cfg.RabbitURL)
	if err != nil {
		return err
	}
	defer broker.Close()

	clk := clock.NewSystem()
	store := repository.NewStore(db)
	shows := repository.NewShowRepo(db)
	bookings := repository.NewBookingRepo(db)
	users := repository.NewUserRepo(db)

	scheduler := queue.NewScheduler(broker, clk)
	publisher := queue.NewPublisher(broker, clk)

	seats := service.NewSeatEngine(shows, cfg.MaxSeatsPerBooking)
	ledger := service.NewLedger(bookings, clk, cfg.Currency)
	reconciler := service.NewReconciler(store, ledger, seats)
	checkout := service.NewCheckout(service.CheckoutDeps{
		Tx:         store,
		Shows:      shows,
		Seats:      seats,
		Ledger:     ledger,
		Reconciler: reconciler,
		Payments:   payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.PaymentTimeout),
		Scheduler:  scheduler,
		Notifier:   publisher,
		Contacts:   users,
		Clock:      clk,
	}, service.CheckoutConfig{
		FrontendOrigin:  cfg.FrontendOrigin,
		ReconcileAfter:  cfg.ReconcileAfter,
		SessionExpiry:   cfg.CheckoutExpiry,
		ProviderTimeout: cfg.PaymentTimeout,
	})
	sweeper := service.NewSweeper(ledger, reconciler, clk, cfg.SweepInterval, cfg.ReconcileAfter+cfg.SweepInterval)
	reminder := service.NewReminder(shows, publisher, users, clk, cfg.ReminderInterval, cfg.ReminderLead)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.FrontendOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	router.Register(e, router.Handlers{
		Auth:     handler.NewAuthHandler(cfg, users),
		Shows:    handler.NewShowHandler(shows, clk),
		Bookings: handler.NewBookingHandler(checkout, seats, ledger),
		Webhook:  handler.NewWebhookHandler(checkout),
		Admin:    handler.NewAdminHandler(bookings, users, shows, clk, cfg.Currency),
		Health: handler.Health(map[string]handler.Check{
			"mysql": db.PingContext,
			"rabbitmq": func(context.Context) error {
				if !broker.Healthy() {
					return errors.New("connection closed")
				}
				return nil
			},
		}),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		Cache:     config.LoadCacheConfig(),
		RateLimit: config.LoadRateLimitConfig(),
		Redis:     rdb,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env}).Info("listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return queue.NewReconcileConsumer(cfg.RabbitURL, reconciler.Reconcile, scheduler, cfg.ReconcileRetryDelay).Run(ctx)
	})
	g.Go(func() error {
		return queue.NewNotificationConsumer(cfg.RabbitURL, "logs").Run(ctx)
	})
	g.Go(func() error {
		return reminder.Run(ctx)
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	return g.Wait()
}
