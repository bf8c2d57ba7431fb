// Package cli wires the denue-census command line surface.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mxstats/denue-census/pkg/client"
	"github.com/mxstats/denue-census/pkg/codes"
	"github.com/mxstats/denue-census/pkg/dispatch"
	"github.com/mxstats/denue-census/pkg/logging"
	"github.com/mxstats/denue-census/pkg/ratelimit"
	"github.com/mxstats/denue-census/pkg/report"
	"github.com/mxstats/denue-census/pkg/token"
)

// TokensEnvVar names the environment fallback for API credentials, so
// tokens can stay out of shell history.
const TokensEnvVar = "DENUE_TOKENS"

type options struct {
	ramos    string
	area     string
	estratos string
	tokens   string
	output   string
	workers  int

	baseURL         string
	timeout         time.Duration
	maxRetries      int
	backoff         time.Duration
	rate            float64
	metricsAddr     string
	discoverSectors bool
	logLevel        string
	logPretty       bool
}

// NewRootCmd builds the denue-census command. All behavior hangs off the
// single root command; there are no subcommands.
func NewRootCmd() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:   "denue-census",
		Short: "Count DENUE economic units per municipality, sector and size stratum",
		Long: `denue-census queries the INEGI DENUE Cuantificar API and aggregates
economic-unit counts into a CSV table: one row per municipality (or per
municipality and sector), one column per requested size stratum plus a
total column.

Lookups fan out over a bounded worker pool. Credentials rotate on every
retry, so a throttled or expired token never stalls the run; a cell whose
retries are exhausted is recorded as zero and logged, and the run
continues.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.ramos, "ramos", "r", "", "'0' for aggregate-all, or comma-separated 2-digit sector codes")
	flags.StringVarP(&o.area, "area", "a", "", "comma-separated 5-digit municipality codes, or path to a code-list file")
	flags.StringVarP(&o.estratos, "estratos", "e", "1,2,3,4,5,6,7", "comma-separated size strata (1-7)")
	flags.StringVarP(&o.tokens, "tokens", "t", "", "comma-separated API tokens (default: $"+TokensEnvVar+")")
	flags.IntVarP(&o.workers, "workers", "w", dispatch.DefaultWorkers, "worker pool size")
	flags.StringVarP(&o.output, "output", "o", "", "output CSV file path")

	flags.StringVar(&o.baseURL, "base-url", client.DefaultBaseURL, "Cuantificar endpoint base URL")
	flags.DurationVar(&o.timeout, "timeout", 60*time.Second, "timeout per HTTP attempt")
	flags.IntVar(&o.maxRetries, "max-retries", 3, "retries per combination after the initial attempt")
	flags.DurationVar(&o.backoff, "backoff", 0, "fixed delay before each retry")
	flags.Float64Var(&o.rate, "rate", 0, "outbound requests per second across all workers (0 = unlimited)")
	flags.StringVar(&o.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address during the run")
	flags.BoolVar(&o.discoverSectors, "discover-sectors", false, "fetch the 2-digit sector catalog from the API instead of --ramos")
	flags.StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&o.logPretty, "log-pretty", false, "human-readable console logs instead of JSON")

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func run(ctx context.Context, o *options) error {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(o.logLevel),
		Pretty: o.logPretty,
		Output: os.Stderr,
	}).With().Str("component", "denue-census").Logger()

	if ctx == nil {
		ctx = context.Background()
	}

	if o.output == "" {
		return fmt.Errorf("--output is required")
	}
	if o.area == "" {
		return fmt.Errorf("--area is required")
	}
	if o.ramos == "" && !o.discoverSectors {
		return fmt.Errorf("--ramos is required (or use --discover-sectors)")
	}

	ring, err := buildRing(o.tokens)
	if err != nil {
		return err
	}

	municipalities, err := loadMunicipalities(o.area)
	if err != nil {
		return err
	}

	strata, err := codes.ParseStrata(o.estratos)
	if err != nil {
		return fmt.Errorf("parse strata: %w", err)
	}

	cfg := client.Config{
		BaseURL:      o.baseURL,
		UserAgent:    "denue-census/1.0",
		Tokens:       ring,
		Timeout:      o.timeout,
		MaxRetries:   o.maxRetries,
		RetryBackoff: o.backoff,
		Pacer:        ratelimit.NewPacer(o.rate, 1),
	}
	cl, err := client.New(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	sectors, err := resolveSectors(ctx, cl, o)
	if err != nil {
		return err
	}

	if o.metricsAddr != "" {
		startMetricsServer(o.metricsAddr)
	}

	logger.Info().
		Int("municipalities", len(municipalities)).
		Int("sectors", len(sectors)).
		Ints("strata", strata).
		Int("workers", o.workers).
		Int("tokens", ring.Len()).
		Msg("Starting run")

	rep, err := dispatch.New(cl, o.workers).Run(ctx, dispatch.Job{
		Municipalities: municipalities,
		Sectors:        sectors,
		Strata:         strata,
	})
	if err != nil {
		return err
	}

	if err := writeReport(rep, o.output); err != nil {
		return err
	}

	logger.Info().
		Str("output", o.output).
		Int("rows", len(rep.Rows())).
		Int("failed_cells", rep.FailedCells()).
		Msg("Report written")

	return nil
}

// buildRing assembles the credential ring from the flag value or the
// environment fallback.
func buildRing(tokensFlag string) (*token.Ring, error) {
	raw := tokensFlag
	if raw == "" {
		raw = os.Getenv(TokensEnvVar)
	}
	if raw == "" {
		return nil, fmt.Errorf("no API tokens: pass --tokens or set $%s", TokensEnvVar)
	}

	ring, err := token.NewRing(strings.Split(raw, ","))
	if err != nil {
		return nil, fmt.Errorf("build token ring: %w", err)
	}
	return ring, nil
}

// loadMunicipalities resolves the --area spec into normalized codes.
func loadMunicipalities(spec string) ([]string, error) {
	raw, err := codes.Load(spec)
	if err != nil {
		return nil, fmt.Errorf("load municipalities: %w", err)
	}

	municipalities := codes.PadMunicipalities(raw)
	if len(municipalities) == 0 {
		return nil, fmt.Errorf("load municipalities: %w: no valid codes in %q", codes.ErrEmptyList, spec)
	}
	return municipalities, nil
}

// resolveSectors turns the --ramos flag (or the live catalog) into the
// sector dimension of the run.
func resolveSectors(ctx context.Context, cl *client.Client, o *options) ([]string, error) {
	if o.discoverSectors {
		sectors, err := cl.Sectors(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover sectors: %w", err)
		}
		if len(sectors) == 0 {
			return nil, fmt.Errorf("discover sectors: catalog returned no 2-digit codes")
		}
		return sectors, nil
	}

	if o.ramos == codes.AggregateAll {
		return []string{codes.AggregateAll}, nil
	}

	var sectors []string
	for _, s := range strings.Split(o.ramos, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !codes.ValidSector(s) || s == codes.AggregateAll {
			return nil, fmt.Errorf("invalid sector code %q in --ramos", s)
		}
		sectors = append(sectors, s)
	}
	if len(sectors) == 0 {
		return nil, fmt.Errorf("parse sectors: %w", codes.ErrEmptyList)
	}
	return sectors, nil
}

func writeReport(rep *report.Report, path string) error {
	if err := rep.WriteFile(path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// startMetricsServer exposes the Prometheus registry for the duration of
// the run. Long runs over thousands of municipalities are worth scraping.
func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger := logging.NewLogger("metrics")
			logger.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()
}
