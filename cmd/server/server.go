package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/ardanlabs/conf/v3"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"
	stripecl "github.com/stripe/stripe-go/v74/client"
	"github.com/velmora/subshop/api"
	"github.com/velmora/subshop/api/background"
	"github.com/velmora/subshop/config"
	"github.com/velmora/subshop/database"
	"github.com/velmora/subshop/rate"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	logger.Infof("starting server")
	defer logger.Info("shutdown complete")

	const prefix = "SUBSHOP"
	var cfg config.Config
	if _, err := conf.Parse(prefix, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	db, err := database.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open db connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.StatusCheck(ctx, db); err != nil {
		return fmt.Errorf("database is not ready: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.Auth.SessionLifetime

	bg := background.New(logger)

	// Payment providers degrade to a configuration error on use when their
	// credentials are absent, so a dev setup can run without either.
	var pp *paypal.Client
	if cfg.Paypal.ClientID != "" {
		pp, err = paypal.NewClient(
			cfg.Paypal.ClientID,
			cfg.Paypal.Secret,
			cfg.Paypal.URL,
		)
		if err != nil {
			return fmt.Errorf("failed to build the paypal client: %w", err)
		}

		if _, err = pp.GetAccessToken(context.TODO()); err != nil {
			return fmt.Errorf("failed to get the first paypal access token: %w", err)
		}
	}

	strp := &stripecl.API{}
	strp.Init(cfg.Stripe.APISecret, nil)

	limiter := rate.NewLimiter(cfg.Rate.CallbackBurst, cfg.Rate.CallbackExpiry, cfg.Rate.CallbackRPS)

	mux := api.APIMux(api.APIConfig{
		CorsOrigin:   cfg.Cors.Origin,
		Log:          logger,
		DB:           db,
		Session:      sessionManager,
		Background:   bg,
		Paypal:       pp,
		Stripe:       strp,
		PaypalCfg:    cfg.Paypal,
		StripeCfg:    cfg.Stripe,
		OrderListURL: cfg.Web.OrderListURL,
		TaxRate:      cfg.Order.TaxRate,
		CallbackRate: limiter,
	})

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
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := bg.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not complete all background tasks: %w", err)
		}
	}
	return nil
}
