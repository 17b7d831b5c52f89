package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aquasentinel/aquasentinel/internal/alerting"
	api "github.com/aquasentinel/aquasentinel/internal/api/v2"
	"github.com/aquasentinel/aquasentinel/internal/conf"
	"github.com/aquasentinel/aquasentinel/internal/escalation"
	"github.com/aquasentinel/aquasentinel/internal/ingest"
	"github.com/aquasentinel/aquasentinel/internal/logger"
	"github.com/aquasentinel/aquasentinel/internal/telemetry"
)

const (
	shutdownTimeout = 15 * time.Second
	sentryFlush     = 2 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume readings, open incidents and serve the operations API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, log)
		},
	}
}

func serve(ctx context.Context, s *conf.Settings, log logger.Logger) error {
	reporter, err := telemetry.Init(telemetry.Config{
		DSN:         s.Sentry.DSN,
		Environment: s.Sentry.Environment,
		Release:     version,
	})
	if err != nil {
		log.Warn("sentry disabled", logger.Error(err))
	}
	if reporter != nil {
		defer reporter.Flush(sentryFlush)
	}

	a, err := newApp(ctx, s, log)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.startDelivery(ctx); err != nil {
		return err
	}

	bus := alerting.NewFactBus()
	defer bus.Stop()
	pipeline := alerting.NewPipeline(a.engine, alerting.NewFactTracker(), a.calculator, a.incidents, log,
		alerting.WithEscalator(a.escalation),
		alerting.WithPipelineMetrics(a.metrics))
	bus.Subscribe(pipeline.Handle)

	if s.MQTT.Enabled {
		consumer := ingest.NewConsumer(s.MQTT, bus, log, ingest.WithMetrics(a.metrics))
		if err := consumer.Connect(ctx); err != nil {
			return err
		}
		defer consumer.Disconnect()
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.Rules.File != "" && s.Rules.Watch {
		g.Go(func() error {
			return a.engine.WatchRuleFile(gctx, s.Rules.File)
		})
	}

	if s.HTTP.Enabled {
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		e.Use(middleware.Recover())
		e.Use(middleware.RequestID())
		api.New(e, api.Dependencies{
			Engine:        a.engine,
			Rules:         a.rules,
			Risk:          a.calculator,
			Policies:      escalation.NewPolicyService(a.policies, log),
			Escalation:    a.escalation,
			Incidents:     a.incidents,
			Notifications: a.notifications,
			Gatherer:      a.registry,
			Token:         s.HTTP.Token,
		}, log)

		g.Go(func() error {
			log.Info("operations api listening", logger.String("addr", s.HTTP.Listen))
			if err := e.Start(s.HTTP.Listen); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})
	}

	log.Info("aquasentinel started",
		logger.String("version", version),
		logger.Bool("mqtt", s.MQTT.Enabled),
		logger.Bool("http", s.HTTP.Enabled))

	<-gctx.Done()
	err = g.Wait()
	log.Info("aquasentinel stopping",
		logger.Int("active_escalations", a.escalation.ActiveCount()),
		logger.Uint64("dropped_readings", bus.Dropped()))
	return err
}
