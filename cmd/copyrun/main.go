// Command copyrun evaluates prediction-market wallets for copy trading:
// it ingests venue activity, classifies wallets into followable
// personas, paper-mirrors their trades under a two-level risk budget
// and keeps composite scores current.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "copyrun"
	version = "v1.0.0"
)

var (
	flagConfig   string
	flagGuards   string
	flagJobsFile string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Prediction-market wallet copy-trading evaluator",
		Version: version,
		Long: `copyrun watches prediction-market wallets, classifies them into
followable personas, mirrors their trades on paper under strict risk
budgets and scores them for copy-worthiness. It never places real
orders.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(flagLogLevel)
		},
		SilenceUsage: true,
	}

	// Accept snake_case flag spellings so flags mirror the yaml keys.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config/copyrun.yaml", "Path to the app config file")
	rootCmd.PersistentFlags().StringVar(&flagGuards, "guards", "", "Optional risk-guard profile file overlaid on the config")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, book recorder and HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagJobsFile, "jobs", "config/jobs.yaml", "Path to the scheduler jobs file")

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one full classification and scoring pass",
		Long:  "Computes features, classifies every active wallet, then recomputes composite scores. One-shot version of the scheduled cycle.",
		RunE:  runEvaluate,
	}

	settleCmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle a resolved market's open paper trades",
		RunE:  runSettle,
	}
	settleCmd.Flags().String("market", "", "Condition ID of the resolved market (required)")
	settleCmd.Flags().Float64("price", -1, "Terminal YES price, 0.0 or 1.0 (required)")
	_ = settleCmd.MarkFlagRequired("market")
	_ = settleCmd.MarkFlagRequired("price")

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Recompute wallet scores for one window",
		RunE:  runScore,
	}
	scoreCmd.Flags().Int("window", 30, "Score window in days")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one wallet discovery pass",
		RunE:  runDiscover,
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check store connectivity",
		RunE:  runHealth,
	}

	rootCmd.AddCommand(serveCmd, evaluateCmd, settleCmd, scoreCmd, discoverCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging configures zerolog: console writer on a terminal, JSON
// otherwise.
func setupLogging(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339

	if term.IsTerminal(int(os.Stdout.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return nil
}
