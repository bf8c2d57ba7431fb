// Package dispatch fans DENUE lookups out over a bounded worker pool and
// aggregates the results into a report.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mxstats/denue-census/pkg/codes"
	"github.com/mxstats/denue-census/pkg/report"
)

// Prometheus metrics for dispatch operations.
var (
	denueCombinationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "denue_combinations_total",
		Help: "Total query combinations submitted to the worker pool",
	})

	denueCellsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "denue_cells_failed_total",
		Help: "Total cells recorded as zero after exhausting retries",
	})
)

// ErrBadConfig is returned for invalid run configuration. It always fires
// before any lookup is issued.
var ErrBadConfig = errors.New("invalid dispatch configuration")

// DefaultWorkers is the default worker pool size.
const DefaultWorkers = 50

// Fetcher performs the remote lookup for one combination.
// *client.Client satisfies it.
type Fetcher interface {
	Count(ctx context.Context, municipality, sector string, stratum int) (int, error)
}

// Job describes one full quantification run.
type Job struct {
	// Municipalities in output row order.
	Municipalities []string

	// Sectors in output row order, or exactly ["0"] for aggregate-all.
	Sectors []string

	// Strata column order. Duplicates are removed before dispatch.
	Strata []int
}

// Dispatcher owns the worker pool for a run.
type Dispatcher struct {
	fetcher Fetcher
	workers int
	logger  zerolog.Logger
}

// New creates a dispatcher with the given pool size.
func New(f Fetcher, workers int) *Dispatcher {
	return &Dispatcher{
		fetcher: f,
		workers: workers,
		logger:  log.With().Str("component", "dispatcher").Logger(),
	}
}

type combination struct {
	municipality string
	sector       string
	stratum      int
}

type outcome struct {
	combination
	count int
	err   error
}

// Run enumerates municipalities x sectors x strata, submits every
// combination to the pool, and aggregates the counts. A combination whose
// retries are exhausted is recorded as a zero cell and logged; the run
// continues. Run returns once every combination has completed or
// permanently failed.
func (d *Dispatcher) Run(ctx context.Context, job Job) (*report.Report, error) {
	if err := d.validate(job); err != nil {
		return nil, err
	}

	strata := dedupeStrata(job.Strata)
	aggregated := len(job.Sectors) == 1 && job.Sectors[0] == codes.AggregateAll

	rep := report.New(strata, aggregated)

	// Pre-register rows in enumeration order so completion order cannot
	// influence the output.
	combos := make([]combination, 0, len(job.Municipalities)*len(job.Sectors)*len(strata))
	for _, muni := range job.Municipalities {
		for _, sector := range job.Sectors {
			rep.Ensure(muni, sector)
			for _, stratum := range strata {
				combos = append(combos, combination{muni, sector, stratum})
			}
		}
	}

	total := len(combos)
	denueCombinationsTotal.Add(float64(total))

	start := time.Now()
	d.logger.Info().
		Int("combinations", total).
		Int("workers", d.workers).
		Bool("aggregated", aggregated).
		Msg("Starting quantification run")

	queue := make(chan combination, total)
	results := make(chan outcome, total)

	for _, c := range combos {
		queue <- c
	}
	close(queue)

	var wg sync.WaitGroup
	workers := d.workers
	if workers > total {
		workers = total
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go d.worker(ctx, queue, results, &wg, i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	processed := 0
	for res := range results {
		if res.err != nil {
			denueCellsFailedTotal.Inc()
			rep.MarkFailed()
			d.logger.Warn().
				Err(res.err).
				Str("municipality", res.municipality).
				Str("sector", res.sector).
				Int("stratum", res.stratum).
				Msg("Cell permanently failed, recording zero")
			rep.Add(res.municipality, res.sector, res.stratum, 0)
		} else {
			rep.Add(res.municipality, res.sector, res.stratum, res.count)
		}

		processed++
		if processed%100 == 0 || processed == total {
			d.logger.Info().
				Int("processed", processed).
				Int("total", total).
				Msg("Run progress")
		}
	}

	d.logger.Info().
		Int("combinations", total).
		Int("failed_cells", rep.FailedCells()).
		Dur("duration", time.Since(start)).
		Msg("Quantification run complete")

	return rep, nil
}

// worker drains the combination queue. Cancellation stops pickup of new
// combinations; in-flight lookups finish via their own context handling.
func (d *Dispatcher) worker(ctx context.Context, queue <-chan combination, results chan<- outcome, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for c := range queue {
		select {
		case <-ctx.Done():
			d.logger.Debug().
				Int("worker_id", workerID).
				Int("processed", processed).
				Msg("Worker stopping (context cancelled)")
			results <- outcome{combination: c, err: ctx.Err()}
			continue
		default:
		}

		count, err := d.fetcher.Count(ctx, c.municipality, c.sector, c.stratum)
		results <- outcome{combination: c, count: count, err: err}
		processed++
	}

	if processed > 0 {
		d.logger.Debug().
			Int("worker_id", workerID).
			Int("processed", processed).
			Msg("Worker completed")
	}
}

func (d *Dispatcher) validate(job Job) error {
	if d.fetcher == nil {
		return fmt.Errorf("%w: nil fetcher", ErrBadConfig)
	}
	if d.workers <= 0 {
		return fmt.Errorf("%w: worker count must be positive (got %d)", ErrBadConfig, d.workers)
	}
	if len(job.Municipalities) == 0 {
		return fmt.Errorf("%w: no municipalities", ErrBadConfig)
	}
	if len(job.Sectors) == 0 {
		return fmt.Errorf("%w: no sectors", ErrBadConfig)
	}
	if len(job.Strata) == 0 {
		return fmt.Errorf("%w: no strata", ErrBadConfig)
	}

	for _, s := range job.Sectors {
		if s == codes.AggregateAll && len(job.Sectors) > 1 {
			return fmt.Errorf("%w: aggregate-all sector cannot be mixed with explicit sectors", ErrBadConfig)
		}
		if !codes.ValidSector(s) {
			return fmt.Errorf("%w: invalid sector code %q", ErrBadConfig, s)
		}
	}
	for _, m := range job.Municipalities {
		if !codes.ValidMunicipality(m) {
			return fmt.Errorf("%w: invalid municipality code %q", ErrBadConfig, m)
		}
	}
	for _, e := range job.Strata {
		if e < 1 || e > 7 {
			return fmt.Errorf("%w: stratum %d outside range [1,7]", ErrBadConfig, e)
		}
	}
	return nil
}

// dedupeStrata removes duplicate strata preserving first-seen order.
// A duplicate stratum would double-count its cell.
func dedupeStrata(strata []int) []int {
	seen := make(map[int]struct{}, len(strata))
	out := make([]int, 0, len(strata))
	for _, e := range strata {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
