package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/06Faisal/EcoPulse/internal/app"
	"github.com/06Faisal/EcoPulse/internal/config"
	"github.com/06Faisal/EcoPulse/internal/eval"
	"github.com/06Faisal/EcoPulse/internal/logging"
	"github.com/06Faisal/EcoPulse/internal/seed"
	"github.com/06Faisal/EcoPulse/internal/wal"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ecopulse",
		Short:         "Train, forecast and cluster per-user carbon footprints",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (overrides "+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Debug logging")

	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(clusterCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run builds the application from config, runs fn and releases everything.
func run(fn func(ctx context.Context, a *app.App) error) error {
	path := configFile
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	cfg, err := config.LoadFrom(path, ".env")
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Dir: cfg.Log.Dir})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func trainCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train and store a user's model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Train(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func forecastCmd() *cobra.Command {
	var (
		userID string
		days   int
	)
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast a user's daily emissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Forecast(ctx, userID, days)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().IntVar(&days, "days", 7, "Forecast horizon in days (1-365)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func clusterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster",
		Short: "Group users into Eco-friendly, Moderate and High-emission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Cluster(ctx)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func evaluateCmd() *cobra.Command {
	var (
		retrain bool
		outDir  string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate every user's model and write a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				report, err := a.Service.Evaluate(ctx, retrain)
				if err != nil {
					return err
				}
				if err := eval.NewReportWriter(outDir).WriteAll(report); err != nil {
					return err
				}

				agg := report.Aggregate
				fmt.Printf("=== Evaluation ===\n")
				fmt.Printf("Users: %d (success %d, insufficient data %d, errors %d)\n",
					agg.TotalUsers, agg.SuccessfulEvaluations, agg.InsufficientData, agg.Errors)
				if agg.SuccessfulEvaluations > 0 {
					fmt.Printf("Test MAE: %.3f ± %.3f kg CO2\n", agg.Metrics["mae"].Mean, agg.Metrics["mae"].Std)
					fmt.Printf("Test R2:  %.3f\n", agg.Metrics["r2"].Mean)
				}
				fmt.Printf("Report written to %s\n", outDir)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&retrain, "retrain", false, "Retrain every model before scoring")
	cmd.Flags().StringVar(&outDir, "out", "evaluation_results", "Output directory")
	return cmd
}

func seedCmd() *cobra.Command {
	var (
		days  int
		seedN int64
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert synthetic users into the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				users := seed.DefaultUsers()
				if days > 0 {
					for i := range users {
						users[i].Days = days
					}
				}

				g := seed.NewGenerator(seedN, time.Now().UTC().Truncate(24*time.Hour))
				sum, err := g.Load(ctx, a.Records, users)
				if err != nil {
					return err
				}
				fmt.Printf("Created %d trips and %d bills for %d users\n", sum.Trips, sum.Bills, sum.Users)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Days of history per user (0 keeps each user's default)")
	cmd.Flags().Int64Var(&seedN, "seed", seed.DefaultSeed, "Random seed")
	return cmd
}

func replayCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "replay-wal",
		Short: "Re-insert records from an ingestion WAL file",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := wal.Replay(file)
			if err != nil {
				return fmt.Errorf("failed to read WAL: %w", err)
			}
			return run(func(ctx context.Context, a *app.App) error {
				n, err := a.Service.Replay(ctx, entries)
				if err != nil {
					return err
				}
				fmt.Printf("Replayed %d of %d entries from %s\n", n, len(entries), file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "WAL file to replay")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
