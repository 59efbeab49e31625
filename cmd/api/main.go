package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/commonledger/internal/api"
	"github.com/punchamoorthee/commonledger/internal/config"
	"github.com/punchamoorthee/commonledger/internal/logging"
	"github.com/punchamoorthee/commonledger/internal/notify"
	"github.com/punchamoorthee/commonledger/internal/service"
	"github.com/punchamoorthee/commonledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("unable to open store", "driver", cfg.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Initialize Layers
	prefs := service.PreferencesFromConfig(cfg)
	notifier := notify.NewDispatcher(st, cfg.SystemPersonID, logger)
	exchanges := service.NewExchangeService(st, service.Policy{}, notifier, prefs, logger)
	memberships := service.NewMembershipService(st, notifier, prefs, logger)
	groups := service.NewGroupService(st, logger)

	if cfg.RecurringFees {
		recurring := service.NewRecurringFees(exchanges, prefs, logger)
		if err := recurring.Start(); err != nil {
			logger.Error("unable to schedule recurring fees", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			recurring.Stop(stopCtx)
		}()
	}

	handler := api.NewHandler(exchanges, memberships, groups, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "driver", st.Dialect(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg.Driver == config.DriverSQLite {
		return store.OpenSQLite(cfg.SQLitePath)
	}
	return store.OpenPostgres(ctx, cfg.DBSource)
}
