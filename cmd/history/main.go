// Command history prints the persisted round history and engine state.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"buymax/internal/config"
	"buymax/internal/domain"
	"buymax/internal/storage"
	chstore "buymax/internal/storage/clickhouse"
	"buymax/internal/storage/file"
	pgstore "buymax/internal/storage/postgres"
)

// Output formats accepted by --output.
const (
	outputPlain = "plain"
	outputJSON  = "json"
)

type options struct {
	dataDir       string
	postgresDSN   string
	clickhouseDSN string
	output        string
	timeout       time.Duration
}

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "history",
		Short:         "Inspect persisted rounds and engine state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", envOr("DATA_DIR", "data"), "Directory holding gamestate.json and history.json")
	root.PersistentFlags().StringVar(&opts.postgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "Read state and history from PostgreSQL")
	root.PersistentFlags().StringVar(&opts.clickhouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "Read history from ClickHouse")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", outputPlain, "Output format: plain|json")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for store access")

	root.AddCommand(newRoundsCmd(opts), newStateCmd(opts))
	return root
}

func newRoundsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "List closed rounds, newest first",
		Example: `  history rounds --limit 10
  history rounds --postgres-dsn postgres://localhost/buymax -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			_, history, cleanup, err := openStores(ctx, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := history.Recent(ctx, limit)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			if opts.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), nonNil(results))
			}
			return writeRounds(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of rounds to print, 0 for all retained")
	return cmd
}

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the persisted engine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			states, _, cleanup, err := openStores(ctx, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := states.LoadState(ctx)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("load state: %w", err)
			}
			if opts.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), state)
			}
			return writeState(cmd.OutOrStdout(), state)
		},
	}
}

func openStores(ctx context.Context, opts *options) (storage.StateStore, storage.HistoryStore, func(), error) {
	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	var (
		states  storage.StateStore
		history storage.HistoryStore
	)

	if opts.postgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("connect postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		states = pgstore.NewStateStore(pool)
		history = pgstore.NewHistoryStore(pool, storage.DefaultHistoryCap)
	} else {
		states = file.NewStateStore(filepath.Join(opts.dataDir, file.StateFileName))
		history = file.NewHistoryStore(filepath.Join(opts.dataDir, file.HistoryFileName), storage.DefaultHistoryCap)
	}

	if opts.clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, opts.clickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, func() {}, fmt.Errorf("connect clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		history = chstore.NewHistoryStore(conn, storage.DefaultHistoryCap)
	}

	return states, history, cleanup, nil
}

func nonNil(results []domain.RoundResult) []domain.RoundResult {
	if results == nil {
		return []domain.RoundResult{}
	}
	return results
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeState(w io.Writer, state *domain.EngineState) error {
	if state == nil {
		_, err := fmt.Fprintln(w, "No engine state stored")
		return err
	}

	fmt.Fprintf(w, "Next round:    %d\n", state.RoundNumber)
	fmt.Fprintf(w, "Total payouts: %s SOL\n", state.TotalPayouts.StringFixed(9))
	fmt.Fprintf(w, "Winners kept:  %d\n", len(state.Winners))
	if lw := state.LastWinner; lw != nil {
		fmt.Fprintf(w, "Last winner:   %s (round %d, %d buys)\n", lw.Wallet, lw.RoundNumber, lw.BuyCount)
	}
	return nil
}

func writeRounds(w io.Writer, results []domain.RoundResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No rounds recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tCLOSED\tWINNER\tBUYS\tREWARD\tSTATUS")
	for _, r := range results {
		winner, status := "-", "no participants"
		if r.HasWinner() {
			winner = r.Wallet
			status = "paid " + r.Signature
			if !r.Success {
				status = "failed: " + r.Error
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.RoundNumber,
			time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339),
			winner,
			r.BuyCount,
			r.Reward.StringFixed(9),
			status,
		)
	}
	return tw.Flush()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
