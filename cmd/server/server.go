package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/course-checkout/api"
	"github.com/irsalhamdi/course-checkout/api/background"
	"github.com/irsalhamdi/course-checkout/config"
	"github.com/irsalhamdi/course-checkout/conversion"
	"github.com/irsalhamdi/course-checkout/core/heartbeat"
	"github.com/irsalhamdi/course-checkout/core/order"
	"github.com/irsalhamdi/course-checkout/core/user"
	"github.com/irsalhamdi/course-checkout/database"
	"github.com/irsalhamdi/course-checkout/idempotency"
	"github.com/irsalhamdi/course-checkout/metrics"
	"github.com/irsalhamdi/course-checkout/rate"
	"github.com/irsalhamdi/course-checkout/strapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var build = "develop"

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "COURSE"
	cfg := config.Config{
		Version: conf.Version{
			Build: build,
			Desc:  "course checkout and purchase fulfillment",
		},
	}
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	if out, err := conf.String(&cfg); err == nil {
		logger.WithField("build", build).Infof("config:\n%s", out)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(reg)

	bg := background.New(logger)

	ledger, closeLedger, err := openLedger(cfg, logger, bg)
	if err != nil {
		return fmt.Errorf("opening idempotency ledger: %w", err)
	}
	defer closeLedger()

	store := strapi.New(cfg.Strapi.URL, cfg.Strapi.Token, &http.Client{Timeout: cfg.Strapi.Timeout}, logger)

	conv := conversion.New(conversion.Config{
		PixelID:     cfg.Meta.PixelID,
		AccessToken: cfg.Meta.AccessToken,
		TestCode:    cfg.Meta.TestCode,
		BaseURL:     cfg.Meta.URL,
		APIVersion:  cfg.Meta.APIVersion,
		SourceURL:   cfg.App.URL,
	}, &http.Client{Timeout: cfg.Meta.Timeout}, logger)
	if !conv.Configured() {
		logger.Warn("conversion pixel not configured, events will not be reported")
	}

	strp := order.NewStripeAPI(cfg.Stripe.APISecret, cfg.Stripe.URL, nil)
	payments := order.NewPayments(strp)

	fulfiller := order.NewFulfiller(order.FulfillerConfig{
		Store:    store,
		Items:    payments,
		Reporter: conv,
		Ledger:   ledger,
		Metrics:  m,
		Log:      logger,
		Currency: cfg.App.Currency,
	})

	hb := heartbeat.New(conv, logger, m)

	limiter := rate.NewLimiter(cfg.RateLimit.Burst, cfg.RateLimit.Expiry, rate.Every(cfg.RateLimit.Interval))
	defer limiter.Stop()

	mux, err := api.APIMux(api.APIConfig{
		CorsOrigin:          cfg.Cors.Origin,
		Log:                 logger,
		Metrics:             m,
		Limiter:             limiter,
		Checkout:            payments,
		CheckoutCfg:         order.CheckoutConfig{AppURL: cfg.App.URL, Currency: cfg.App.Currency},
		Fulfiller:           fulfiller,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		Users:               user.NewService(store, logger),
		ClerkWebhookSecret:  cfg.Clerk.WebhookSecret,
		Conversions:         conv,
		Heartbeat:           hb,
	})
	if err != nil {
		return fmt.Errorf("building api: %w", err)
	}

	api := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		hb.Stop()
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		hb.Stop()

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}

// openLedger builds the idempotency ledger named by the configuration.
func openLedger(cfg config.Config, logger logrus.FieldLogger, bg *background.Background) (idempotency.Ledger, func(), error) {
	log := logger.WithField("driver", cfg.Ledger.Driver)

	switch cfg.Ledger.Driver {
	case "postgres":
		db, err := database.Open(cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open db connection: %w", err)
		}
		if err := database.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}

		pg := idempotency.NewPostgres(db)
		bg.Every("prune-ledger", time.Hour, func(ctx context.Context) error {
			n, err := pg.Prune(ctx, cfg.Ledger.TTL)
			if err == nil && n > 0 {
				log.WithField("pruned", n).Info("pruned processed events")
			}
			return err
		})
		log.Info("idempotency ledger ready")
		return pg, func() { db.Close() }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("pinging redis: %w", err)
		}
		log.Info("idempotency ledger ready")
		return idempotency.NewRedis(client, cfg.Ledger.TTL), func() { client.Close() }, nil
	}

	log.Warn("in-memory idempotency ledger is local to this instance")
	return idempotency.NewMemory(cfg.Ledger.TTL), func() {}, nil
}
