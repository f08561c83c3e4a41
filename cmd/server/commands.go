package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with scheduled warming and maintenance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, inMemory, err := setup(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, inMemory, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			warmer := a.warmer()
			warmer.Start(ctx)
			go a.maintenanceLoop(ctx)

			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           a.engine(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("starting server", "addr", cfg.Server.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					stop()
					warmer.Wait()
					return errors.Wrap(err, "http server")
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server forced to shutdown", "error", err)
			}
			warmer.Wait()
			logger.Info("server exited")
			return nil
		},
	}
}

func (a *app) maintenanceLoop(ctx context.Context) {
	interval := a.cfg.Cache.MaintenanceInterval
	if interval <= 0 {
		a.logger.Warn("maintenance interval not set, scheduled maintenance disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runMaintenance(ctx)
		}
	}
}

func warmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Run one warm pass over every target and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, inMemory, err := setup(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, inMemory, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			results := a.warmer().RunAll(cmd.Context())
			if err := printJSON(cmd, results); err != nil {
				return err
			}
			for _, r := range results {
				if r.Failed > 0 {
					return errors.Newf("warm target %s: %d of %d jobs failed", r.Target, r.Failed, r.Jobs)
				}
			}
			return nil
		},
	}
}

func maintainCmd() *cobra.Command {
	var analyze bool
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run cache maintenance once and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, inMemory, err := setup(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger, inMemory, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			out := map[string]any{"maintenance": a.runMaintenance(cmd.Context())}
			if analyze {
				analysis, err := a.analyzer.Analyze(cmd.Context())
				if err != nil {
					return errors.Wrap(err, "analyze cache")
				}
				out["analysis"] = analysis
			}
			return printJSON(cmd, out)
		},
	}
	cmd.Flags().BoolVar(&analyze, "analyze", false, "also print the key analysis")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
