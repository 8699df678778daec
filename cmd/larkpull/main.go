package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/larkpull/larkpull/internal/api"
	"github.com/larkpull/larkpull/internal/app"
	"github.com/larkpull/larkpull/internal/batch"
	"github.com/larkpull/larkpull/internal/domain"
	"github.com/larkpull/larkpull/internal/feishu"
	"github.com/larkpull/larkpull/internal/infra/config"
	"github.com/larkpull/larkpull/internal/infra/logger"
	"github.com/larkpull/larkpull/internal/ratelimit"
	"github.com/larkpull/larkpull/internal/store"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "larkpull",
		Short:         "Download Bitable attachments under a global request-rate ceiling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	root.AddCommand(newFetchCmd(), newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup wires the shared environment: config, logger, store, rate limiter,
// Feishu client and the batch manager.
func setup() (*app.Context, *feishu.Client, *batch.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	appCtx := app.NewContext(cfg, log)

	st, err := store.NewPersistentStore(cfg.Store.SQLitePath)
	if err != nil {
		return nil, nil, nil, err
	}
	appCtx.Store = st

	limiter := ratelimit.New(cfg.Download.MinInterval())
	client := feishu.NewClient(cfg.Feishu, limiter, log)
	runner := batch.NewManager(appCtx, client, limiter)

	return appCtx, client, runner, nil
}

func newFetchCmd() *cobra.Command {
	var tableID string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download all attachments of one table",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, client, runner, err := setup()
			if err != nil {
				return err
			}
			defer appCtx.Store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if tableID == "" {
				tables, err := client.ListTables(ctx)
				if err != nil {
					return fmt.Errorf("failed to list tables: %w", err)
				}
				if len(tables) == 0 {
					return fmt.Errorf("the configured app has no tables")
				}
				tableID = tables[0].ID
				appCtx.Logger.Info("No table given, using %s (%s)", tables[0].ID, tables[0].Name)
			}

			b, report, err := runner.Run(ctx, tableID)
			if err != nil {
				return err
			}

			printSummary(b, report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tableID, "table", "t", "", "table id (defaults to the app's first table)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the status and batch API",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, _, runner, err := setup()
			if err != nil {
				return err
			}
			defer appCtx.Store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e := echo.New()
			api.RegisterRoutes(e, appCtx, runner)

			srv := &http.Server{
				Addr:     ":" + appCtx.Config.Port,
				Handler:  e,
				ErrorLog: log.New(appCtx.Logger, "", 0),
			}

			errCh := make(chan error, 1)
			go func() {
				appCtx.Logger.Info("API listening on %s", srv.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// printSummary mirrors the finalized report for the terminal. External
// report generators consume the stored results instead.
func printSummary(b *domain.Batch, report domain.Report) {
	fmt.Printf("\n\nBatch %s finished\n", b.ID)
	fmt.Printf("  Total:     %d\n", report.Total)
	fmt.Printf("  Succeeded: %d\n", report.Succeeded)
	fmt.Printf("  Failed:    %d\n", report.Failed)

	if len(report.Fields) > 0 {
		fmt.Println("  By field:")
		names := make([]string, 0, len(report.Fields))
		for name := range report.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			tally := report.Fields[name]
			fmt.Printf("    %s: %d/%d\n", name, tally.Succeeded, tally.Total)
		}
	}

	for _, res := range report.Results {
		if !res.Success {
			fmt.Printf("  FAILED %s (%s): %s\n", res.Asset.Key(), res.Kind, res.Message)
		}
	}
}
