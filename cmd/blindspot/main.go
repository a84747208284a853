package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/klyrlabs/blindspot/internal/app"
	"github.com/klyrlabs/blindspot/internal/models"
)

var hundred = decimal.NewFromInt(100)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "history":
		os.Exit(cmdHistory(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: blindspot <command> [flags]

Commands:
  run       Run a full analysis and append a net-worth snapshot
  history   Show recent snapshots for a portfolio
`)
}

// cmdRun executes one analysis run and prints the resulting snapshot.
func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	portfolioID := fs.String("portfolio", "", "portfolio id (default from config)")
	timeout := fs.Duration("timeout", 10*time.Minute, "overall run timeout")
	fs.Parse(args)

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer a.Close()

	id := *portfolioID
	if id == "" {
		id = a.DefaultPortfolio
	}

	ctx, cancel := signalContext(*timeout)
	defer cancel()

	snapshot, err := a.AuditorService.RunAnalysis(ctx, id, a.Config.Analysis.RunConfig())
	if err != nil {
		a.Logger.Error().Err(err).Str("portfolio", id).Msg("Analysis run failed")
		return 1
	}

	printSnapshot(snapshot)
	return 0
}

// cmdHistory prints recent snapshots, newest first.
func cmdHistory(args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	portfolioID := fs.String("portfolio", "", "portfolio id (default from config)")
	limit := fs.Int("n", 10, "number of snapshots to show")
	asJSON := fs.Bool("json", false, "emit full snapshots as JSON")
	fs.Parse(args)

	a, err := app.NewApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer a.Close()

	id := *portfolioID
	if id == "" {
		id = a.DefaultPortfolio
	}

	ctx, cancel := signalContext(time.Minute)
	defer cancel()

	snapshots, err := a.AuditorService.History(ctx, id, *limit)
	if err != nil {
		a.Logger.Error().Err(err).Str("portfolio", id).Msg("Failed to load history")
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(snapshots)
		return 0
	}

	for _, s := range snapshots {
		fmt.Printf("%s  equity %s  (assets %s, liabilities %s)  alerts %d  warnings %d\n",
			s.Timestamp.Format(time.RFC3339),
			s.TotalEquity.Display(), s.TotalAssets.Display(), s.TotalLiabilities.Display(),
			len(s.Alerts), len(s.Warnings))
	}
	return 0
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or timeout.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sigCtx, sigCancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return sigCtx, func() {
		sigCancel()
		cancel()
	}
}

func printSnapshot(s *models.NetWorthSnapshot) {
	fmt.Printf("Snapshot %s  %s\n", s.ID, s.Timestamp.Format(time.RFC3339))
	fmt.Printf("  Assets      %s\n", s.TotalAssets.Display())
	fmt.Printf("  Liabilities %s\n", s.TotalLiabilities.Display())
	fmt.Printf("  Equity      %s\n", s.TotalEquity.Display())

	if len(s.CategoryTotals) > 0 {
		fmt.Println("  By category:")
		for _, c := range s.CategoryTotals {
			fmt.Printf("    %-10s %s\n", c.Category, c.Amount.Display())
		}
	}

	if len(s.Buckets) > 0 {
		fmt.Println("  Exposure:")
		for _, b := range s.Buckets {
			fmt.Printf("    %-12s %-24s %6s%%  %s\n",
				b.Key.Dimension, b.Key.Value,
				b.Percent.Mul(hundred).StringFixed(1), b.Amount.Display())
		}
	}

	if len(s.Alerts) > 0 {
		fmt.Println("  Alerts:")
		for _, a := range s.Alerts {
			fmt.Printf("    [%s] %s: %s at %s%% (threshold %s%%)\n",
				a.Severity, a.RuleID, a.Bucket,
				a.Observed.Mul(hundred).StringFixed(1),
				a.Threshold.Mul(hundred).StringFixed(1))
		}
	}

	if len(s.HiddenTwins) > 0 {
		fmt.Println("  Hidden twins:")
		for _, t := range s.HiddenTwins {
			fmt.Printf("    %s ~ %s  r=%.2f\n", t.SymbolA, t.SymbolB, t.Correlation)
			if t.Explanation != "" {
				fmt.Printf("      %s\n", t.Explanation)
			}
		}
	}

	if len(s.Warnings) > 0 {
		fmt.Println("  Warnings:")
		for _, w := range s.Warnings {
			fmt.Printf("    %s (%s): %s\n", w.Symbol, w.Kind, w.Message)
		}
	}
}
