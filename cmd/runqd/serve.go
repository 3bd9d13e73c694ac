package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"runq/internal/admin"
	"runq/internal/job"
	"runq/internal/logging"
	"runq/internal/procmgr"
	"runq/internal/sched"
)

func newServeCmd() *cobra.Command {
	var (
		addr      string
		eventsCSV string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler with the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool := job.NewPool(job.DefaultStep, logger)
			defer pool.Close()

			m, err := procmgr.New(ctx, cfg, procmgr.Options{Executor: pool, Launcher: pool, Logger: logger})
			if err != nil {
				return err
			}

			consumed, err := startEventLog(m, eventsCSV)
			if err != nil {
				return err
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           admin.New(m, logger),
				ReadHeaderTimeout: 5 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("admin server starting", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-ctx.Done():
			case err = <-serveErr:
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			// scheduler first, so no process is resumed after the API is gone
			if cerr := m.Close(shutdownCtx); cerr != nil {
				logger.Error("scheduler shutdown", logging.ErrAttr(cerr))
			}
			<-consumed
			if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
				logger.Error("admin server shutdown", logging.ErrAttr(serr))
			}
			logger.Info("stopped")
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Admin API listen address")
	cmd.Flags().StringVar(&eventsCSV, "events-csv", "", "Append scheduler events to this CSV file")
	return cmd
}

// closeManager stops the scheduler task on an early-return path.
func closeManager(m *procmgr.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		logger.Error("scheduler shutdown", logging.ErrAttr(err))
	}
}

// startEventLog consumes the manager's event stream in the background. The
// returned channel is closed once the stream ends. If the CSV file cannot be
// opened the manager is closed, since nothing else will stop its task.
func startEventLog(m *procmgr.Manager, csvPath string) (<-chan struct{}, error) {
	consumed := make(chan struct{})
	events := m.Events()
	if events == nil {
		close(consumed)
		return consumed, nil
	}

	evlog := sched.NewEventLog(logger)
	if csvPath != "" {
		if err := evlog.EnableCSVLogging(csvPath); err != nil {
			closeManager(m)
			return nil, err
		}
	}
	go func() {
		defer close(consumed)
		evlog.Consume(events)
	}()
	return consumed, nil
}
