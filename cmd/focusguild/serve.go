package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/focusguild/focusguild/internal/common/logging"
	"github.com/focusguild/focusguild/internal/tracker/accrual"
	"github.com/focusguild/focusguild/internal/tracker/booking"
	"github.com/focusguild/focusguild/internal/tracker/config"
	"github.com/focusguild/focusguild/internal/tracker/db"
	"github.com/focusguild/focusguild/internal/tracker/economy"
	"github.com/focusguild/focusguild/internal/tracker/presence"
	"github.com/focusguild/focusguild/internal/tracker/session"
	"github.com/focusguild/focusguild/internal/tracker/status"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tracking daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	if err := config.LoadConfig(configFile); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}
	cfg := config.Config()
	logging.Init(cfg.Logging.Level, cfg.Logging.Pretty)

	slog := log.With().Str("state", "init").Logger()
	slog.Info().Str("config_file", configFile).Msg("configuration loaded")

	store, err := db.New(cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	ledger := economy.New(store)
	oracle := presence.NewOracle(store, nil)
	roster := presence.NewMemoryRoster()
	bus := presence.NewBus()
	defer bus.Shutdown()

	tracker := session.New(store, oracle)
	rooms := booking.NewRetryRooms(booking.NewLocalRooms(), 3)
	engine := booking.New(store, ledger, tracker, rooms, cfg.Tracker.GetMinLead())
	scanner := accrual.New(store, ledger, roster, oracle, cfg.Tracker.GetScanCeiling())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	// Subscribe before reconciliation so no event is missed; consumption
	// starts only after Resume has reconciled persisted sessions against
	// presence.
	events, unsubscribe := bus.Subscribe(presence.Topic(0), 1024)
	defer unsubscribe()

	if err := tracker.Resume(ctx, roster); err != nil {
		return fmt.Errorf("session reconciliation failed: %w", err)
	}
	slog.Info().Msg("session reconciliation complete")

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		consumeEvents(ctx, events, roster, tracker)
	}()
	go func() {
		defer wg.Done()
		scanner.Run(ctx, cfg.Tracker.GetScanInterval())
	}()
	go func() {
		defer wg.Done()
		engine.RunSweep(ctx, cfg.Tracker.GetSweepInterval())
	}()
	go func() {
		defer wg.Done()
		ledger.Run(ctx, cfg.Tracker.GetFlushInterval())
	}()

	statusErrors := make(chan error, 1)
	statusSrv := status.New(roster, tracker, scanner, store, cfg.HandleCORS)
	go func() {
		addr := cfg.ServerHostName + ":" + cfg.StatusPort
		slog.Info().Str("addr", addr).Msg("status server started")
		statusErrors <- status.ListenAndServe(ctx, addr, statusSrv)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-statusErrors:
		cancel()
		wg.Wait()
		return fmt.Errorf("status server error: %w", err)
	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	cancel()
	wg.Wait()

	// Open sessions stay persisted; the next run's reconciliation resumes
	// or closes them. Pending credits were flushed by the ledger loop on
	// the way out.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := ledger.Flush(flushCtx); err != nil {
		log.Error().Err(err).Msg("final credit flush failed")
	}

	slog.Info().Msg("daemon stopped")
	return nil
}

// consumeEvents drives the roster and the session engine from the presence
// stream. Events are handled in arrival order, one at a time.
func consumeEvents(ctx context.Context, events <-chan *presence.Update, roster *presence.MemoryRoster, tracker *session.Tracker) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-events:
			if !ok {
				return
			}
			roster.Apply(u)
			tracker.HandleUpdate(ctx, u)
		}
	}
}
