// Command validate loads every series the service serves and checks it for
// structural problems: row counts, negative cells, cumulative regressions,
// missing days and boundary joins.
//
// Usage:
//
//	go run ./cmd/validate                  # against the in-process mock tree
//	go run ./cmd/validate -remote          # against SOURCE_BASE_URL / BOUNDARIES_URL
//	go run ./cmd/validate -remote -last-date 2021-06-30
//
// Exits 0 when every phase passes (warnings allowed), 1 otherwise.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/adapter/csse"
	"github.com/couchcryptid/covid-series-etl/internal/cache"
	"github.com/couchcryptid/covid-series-etl/internal/config"
	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/couchcryptid/covid-series-etl/internal/mockdata"
	"github.com/couchcryptid/covid-series-etl/internal/observability"
	"github.com/couchcryptid/covid-series-etl/internal/pipeline"
	"github.com/lmittmann/tint"
	"github.com/olekukonko/tablewriter"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"

	maxListed = 10
)

func main() {
	os.Exit(run())
}

// phase collects the findings of one validation step. Errors fail the run;
// warnings are reported for legitimate upstream quirks such as corrections.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func (p *phase) status() string {
	switch {
	case !p.passed():
		return colorRed + "FAIL" + colorReset
	case len(p.warnings) > 0:
		return colorYellow + "WARN" + colorReset
	default:
		return colorGreen + "PASS" + colorReset
	}
}

type options struct {
	remote   bool
	lastDate time.Time
	workers  int
	verbose  bool
	timeout  time.Duration
}

func parseFlags() (options, error) {
	remote := flag.Bool("remote", false, "validate the configured upstream instead of the mock tree")
	lastDate := flag.String("last-date", "", "series horizon (YYYY-MM-DD); defaults to the newest published day")
	workers := flag.Int("workers", 4, "concurrent daily report fetches")
	verbose := flag.Bool("v", false, "log loader activity to stderr")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall deadline")
	flag.Parse()

	opts := options{remote: *remote, workers: *workers, verbose: *verbose, timeout: *timeout}
	switch {
	case *lastDate != "":
		d, err := domain.ParseDay(*lastDate)
		if err != nil {
			return opts, err
		}
		opts.lastDate = d
	case *remote:
		// Resolved from the published series once the service exists.
		return opts, nil
	default:
		opts.lastDate = mockdata.DefaultEnd
	}
	if err := domain.ValidateHorizon(opts.lastDate); err != nil {
		return opts, err
	}
	return opts, nil
}

func run() int {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "validate: %v\n", err)
		return 2
	}
	cfg.FetchWorkers = opts.workers
	if !opts.remote {
		srv, err := mockdata.Server(opts.lastDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "validate: build mock tree: %v\n", err)
			return 2
		}
		defer srv.Close()
		cfg.SourceBaseURL = srv.URL + mockdata.SourceRoot
		cfg.BoundariesURL = srv.URL + mockdata.BoundariesPath
		cfg.StatesURL = srv.URL + mockdata.StatesPath
		cfg.FetchRetries = 1
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.verbose {
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug, TimeFormat: time.Kitchen}))
	}

	metrics := observability.NewMetricsForTesting()
	store := cache.New(cfg.CacheCapacity, cfg.RecentCacheTTL, metrics)
	client := csse.NewClient(cfg, metrics, logger)
	svc := pipeline.New(client, store, nil, pipeline.OptionsFromConfig(cfg), logger, metrics)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if opts.lastDate.IsZero() {
		opts.lastDate, err = svc.Horizon(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "validate: resolve horizon: %v\n", err)
			return 2
		}
	}

	fmt.Printf("Validating %s through %s\n\n", cfg.SourceBaseURL, opts.lastDate.Format(domain.DateLayout))

	var phases []*phase
	tables := make(map[string]*domain.TimeSeriesTable)
	for _, kind := range []domain.SeriesKind{domain.SeriesGlobal, domain.SeriesUSStates} {
		for _, m := range domain.Metrics {
			name := string(kind) + "/" + m.Slug()
			p := &phase{name: "load " + name}
			start := time.Now()
			t, err := load(ctx, svc, kind, m, opts.lastDate)
			if err != nil {
				p.errorf("%v", err)
			} else {
				tables[name] = t
				logger.Info("loaded", "series", name, "entities", len(t.Entities), "took", time.Since(start))
			}
			phases = append(phases, p)
		}
	}

	phases = append(phases,
		checkShape(tables, opts.lastDate),
		checkNonNegative(tables),
		checkMonotonic(tables),
		checkMissingDays(tables),
		checkDeathsBelowConfirmed(tables),
	)

	boundaries, err := svc.LoadBoundaries(ctx)
	bp := &phase{name: "load boundaries"}
	if err != nil {
		bp.errorf("%v", err)
	}
	phases = append(phases, bp)
	if err == nil {
		phases = append(phases,
			checkBoundaryJoin(tables["global/confirmed"], boundaries),
			checkColorize(ctx, svc, opts.lastDate),
		)
	}

	return report(phases)
}

func load(ctx context.Context, svc *pipeline.Service, kind domain.SeriesKind, m domain.Metric, lastDate time.Time) (*domain.TimeSeriesTable, error) {
	if kind == domain.SeriesUSStates {
		return svc.LoadUSStates(ctx, m, lastDate)
	}
	return svc.LoadGlobal(ctx, m, lastDate)
}

// ── Checks ──

func checkShape(tables map[string]*domain.TimeSeriesTable, lastDate time.Time) *phase {
	p := &phase{name: "row and column counts"}
	want := domain.DaysInRange(domain.StartDate, lastDate)
	for _, name := range seriesNames(tables) {
		t := tables[name]
		if t.Len() != want {
			p.errorf("%s: %d rows, want %d", name, t.Len(), want)
		}
		if len(t.Entities) == 0 {
			p.errorf("%s: no entities", name)
		}
		for _, e := range t.Entities {
			col, ok := t.Column(e)
			if !ok {
				p.errorf("%s: entity %q listed without a column", name, e)
				continue
			}
			if len(col) != t.Len() {
				p.errorf("%s: %q has %d values, want %d", name, e, len(col), t.Len())
			}
		}
		if !t.LastDate().Equal(lastDate) {
			p.errorf("%s: last date %s, want %s", name, t.LastDate().Format(domain.DateLayout), lastDate.Format(domain.DateLayout))
		}
	}
	return p
}

func checkNonNegative(tables map[string]*domain.TimeSeriesTable) *phase {
	p := &phase{name: "non-negative cells"}
	for _, name := range seriesNames(tables) {
		t := tables[name]
		for _, e := range t.Entities {
			col, _ := t.Column(e)
			for i, v := range col {
				if v < 0 {
					p.errorf("%s: %q on %s is %d", name, e, t.Dates[i].Format(domain.DateLayout), v)
				}
			}
		}
	}
	return p
}

func checkMonotonic(tables map[string]*domain.TimeSeriesTable) *phase {
	p := &phase{name: "cumulative counts never decrease"}
	for _, name := range seriesNames(tables) {
		t := tables[name]
		regs := t.Regressions()
		for i, r := range regs {
			if i == maxListed {
				p.warnf("%s: %d more regressions", name, len(regs)-maxListed)
				break
			}
			p.warnf("%s: %s", name, r)
		}
	}
	return p
}

func checkMissingDays(tables map[string]*domain.TimeSeriesTable) *phase {
	p := &phase{name: "daily reports present"}
	for _, name := range seriesNames(tables) {
		t := tables[name]
		for _, d := range t.MissingDays {
			p.warnf("%s: %s zero-filled", name, d.Format(domain.DateLayout))
		}
		if len(t.MissingDays) == t.Len() {
			p.errorf("%s: every day is missing", name)
		}
	}
	return p
}

func checkDeathsBelowConfirmed(tables map[string]*domain.TimeSeriesTable) *phase {
	p := &phase{name: "deaths never exceed confirmed"}
	for _, kind := range []domain.SeriesKind{domain.SeriesGlobal, domain.SeriesUSStates} {
		confirmed := tables[string(kind)+"/"+domain.MetricConfirmed.Slug()]
		deaths := tables[string(kind)+"/"+domain.MetricDeaths.Slug()]
		if confirmed == nil || deaths == nil {
			continue
		}
		for _, e := range deaths.Entities {
			dc, _ := deaths.Column(e)
			cc, ok := confirmed.Column(e)
			if !ok {
				p.warnf("%s: %q has deaths but no confirmed column", kind, e)
				continue
			}
			for i := range dc {
				if i < len(cc) && dc[i] > cc[i] {
					p.warnf("%s: %q on %s reports %d deaths over %d confirmed",
						kind, e, deaths.Dates[i].Format(domain.DateLayout), dc[i], cc[i])
					break
				}
			}
		}
	}
	return p
}

func checkBoundaryJoin(global *domain.TimeSeriesTable, boundaries []domain.GeometryRecord) *phase {
	p := &phase{name: "boundaries join the global series"}
	if len(boundaries) == 0 {
		p.errorf("no boundary polygons")
		return p
	}
	if global == nil {
		p.errorf("global confirmed series not loaded")
		return p
	}

	named := make(map[string]bool, len(boundaries))
	for _, b := range boundaries {
		named[b.Name] = true
	}
	var unjoined []string
	for _, e := range global.Entities {
		if !named[domain.Reconcile(e)] {
			unjoined = append(unjoined, e)
		}
	}
	if len(unjoined) == len(global.Entities) {
		p.errorf("no series country matches a boundary name")
	}
	for i, e := range unjoined {
		if i == maxListed {
			p.warnf("%d more countries without a boundary", len(unjoined)-maxListed)
			break
		}
		p.warnf("%q has no boundary", e)
	}
	return p
}

func checkColorize(ctx context.Context, svc *pipeline.Service, date time.Time) *phase {
	p := &phase{name: "colorized map buckets"}
	for _, m := range domain.Metrics {
		regions, err := svc.ColorizeForDate(ctx, date, m)
		if err != nil {
			p.errorf("%s: %v", m, err)
			continue
		}
		if len(regions) == 0 {
			p.errorf("%s: no colorized regions", m)
			continue
		}
		for _, r := range regions {
			if r.ColorIndex < 0 || r.ColorIndex >= len(domain.Palette) {
				p.errorf("%s: %q bucket %d outside palette", m, r.Name, r.ColorIndex)
			}
		}
	}
	return p
}

func seriesNames(tables map[string]*domain.TimeSeriesTable) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ── Reporting ──

func report(phases []*phase) int {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Phase", "Status", "Errors", "Warnings"})
	table.SetAutoWrapText(false)

	allPassed := true
	for _, p := range phases {
		if !p.passed() {
			allPassed = false
		}
		table.Append([]string{p.name, p.status(), strconv.Itoa(len(p.errors)), strconv.Itoa(len(p.warnings))})
	}
	table.Render()

	for _, p := range phases {
		if len(p.errors) == 0 && len(p.warnings) == 0 {
			continue
		}
		fmt.Printf("\n── %s ──\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [E%d] %s\n", i+1, e)
		}
		for i, w := range p.warnings {
			fmt.Printf("  [W%d] %s\n", i+1, w)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}
