package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"NewsIngest/internal/app"
	"NewsIngest/internal/config"
	"NewsIngest/internal/logging"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "newsingest",
		Short:         "Fantasy football news ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("NEWSINGEST_CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config (overrides NEWSINGEST_CONFIG)")

	root.AddCommand(
		serveCmd(),
		ingestCmd(),
		ingestAllCmd(),
		reclassifyCmd(),
		sourcesCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp loads config, builds the application and runs fn with a context
// cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app.Application) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Error("close application", "error", err)
		}
	}()
	return fn(ctx, application)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.Application) error {
				return a.Serve(ctx)
			})
		},
	}
}

func ingestCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ingest <source-id>",
		Short: "Ingest one source and print its run summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.Application) error {
				summary, err := a.Pipeline().IngestSource(ctx, args[0], limit)
				if printErr := printJSON(summary); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum candidates to process (0 = configured default)")
	return cmd
}

func ingestAllCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ingest-all",
		Short: "Ingest every allowed source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.Application) error {
				summaries, err := a.Pipeline().IngestAll(ctx, limit)
				if printErr := printJSON(summaries); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum candidates per source (0 = configured default)")
	return cmd
}

func reclassifyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reclassify",
		Short: "Recompute topics for stored articles with missing or non-canonical tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.Application) error {
				summary, err := a.Pipeline().Reclassify(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 500, "maximum stored articles to scan (0 = all)")
	return cmd
}

func sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.Application) error {
				sources, err := a.Store().ListSources(ctx)
				if err != nil {
					return err
				}
				for _, s := range sources {
					state := "allowed"
					if !s.Allowed {
						state = "denied"
					}
					fmt.Printf("%-20s %-8s %-8s %s\n", s.ID, s.Adapter, state, s.FeedURL)
				}
				return nil
			})
		},
	}
}
