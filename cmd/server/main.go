package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caseroute/backend/internal/amendment"
	"github.com/caseroute/backend/internal/config"
	"github.com/caseroute/backend/internal/db"
	"github.com/caseroute/backend/internal/directory"
	httpapi "github.com/caseroute/backend/internal/http"
	"github.com/caseroute/backend/internal/metrics"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/routing"
	"github.com/caseroute/backend/internal/rules"
	"github.com/caseroute/backend/internal/service"
	"github.com/caseroute/backend/internal/store"
	"github.com/caseroute/backend/internal/store/memory"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "caseroute").Logger()

	ctx := context.Background()

	var (
		st  store.Store
		dir directory.Directory
	)
	if cfg.DatabaseURL == "" {
		mem := memory.New()
		st, dir = mem, mem
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
	} else {
		pg, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate db")
		}
		st, dir = pg, pg
	}

	if cfg.DirectoryURL != "" {
		dir = directory.HTTPDirectory{
			BaseURL: cfg.DirectoryURL,
			Client:  &http.Client{Timeout: cfg.DirectoryClientTimeout},
		}
	} else {
		logger.Info().Msg("using store-backed reviewer directory")
	}

	if cfg.RulesFile != "" {
		cat, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to load rules")
		}
		var sum rules.ImportSummary
		err = st.WithTx(ctx, func(tx store.Tx) error {
			sum, err = rules.Import(ctx, tx, cat)
			return err
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to import rules")
		}
		logger.Info().
			Str("file", cfg.RulesFile).
			Int("teams", sum.Teams).
			Int("queues", sum.Queues).
			Int("rules", sum.Rules).
			Msg("rule catalogue imported")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := routing.NewEngine(st, dir, models.SystemActor(cfg.SystemActorID), m, logger)
	amendments := amendment.NewService(st, engine, m, logger, cfg.AmendmentRetryMaxWait)
	cases := service.NewCaseService(st, engine, amendments, logger)

	router := httpapi.Router(cfg, st, cases, reg, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
