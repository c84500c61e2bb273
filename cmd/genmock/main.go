// Command genmock writes or serves the deterministic mock upstream tree used
// by the test suites. The tree mirrors the real repository layout, so
// pointing SOURCE_BASE_URL and BOUNDARIES_URL at it exercises the service
// end to end without network access.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock
//	go run ./cmd/genmock -serve :8000 -end 2020-03-25
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/couchcryptid/covid-series-etl/internal/domain"
	"github.com/couchcryptid/covid-series-etl/internal/mockdata"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "directory to write the mock tree into")
	serve := flag.String("serve", "", "address to serve the mock tree on, e.g. :8000")
	endFlag := flag.String("end", mockdata.DefaultEnd.Format(domain.DateLayout), "last published day (YYYY-MM-DD)")
	flag.Parse()

	if *out == "" && *serve == "" {
		flag.Usage()
		return fmt.Errorf("one of -out or -serve is required")
	}

	end, err := domain.ParseDay(*endFlag)
	if err != nil {
		return err
	}
	if err := domain.ValidateHorizon(end); err != nil {
		return err
	}

	files, err := mockdata.Files(end)
	if err != nil {
		return fmt.Errorf("build mock tree: %w", err)
	}
	log.Printf("built %d files through %s", len(files), end.Format(domain.DateLayout))

	if *out != "" {
		if err := writeTree(*out, files); err != nil {
			return fmt.Errorf("write mock tree: %w", err)
		}
		log.Printf("wrote mock tree: %s", *out)
		if err := printStats(files, end); err != nil {
			return err
		}
	}

	if *serve != "" {
		return serveTree(*serve, files)
	}
	return nil
}

func writeTree(dir string, files map[string][]byte) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		dst := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, files[p], 0o600); err != nil {
			return err
		}
	}
	return nil
}

func serveTree(addr string, files map[string][]byte) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           mockdata.Handler(files),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("serving mock upstream on %s", addr)
	log.Printf("  SOURCE_BASE_URL=http://localhost%s%s", addr, mockdata.SourceRoot)
	log.Printf("  BOUNDARIES_URL=http://localhost%s%s", addr, mockdata.BoundariesPath)
	log.Printf("  STATES_URL=http://localhost%s%s", addr, mockdata.StatesPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// printStats parses the generated tree with the real domain code and prints
// the figures the test assertions depend on.
func printStats(files map[string][]byte, end time.Time) error {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Days: %d (%s through %s)\n", domain.DaysInRange(domain.StartDate, end),
		domain.StartDate.Format(domain.DateLayout), end.Format(domain.DateLayout))

	for _, m := range domain.Metrics {
		data := files[mockdata.SourceRoot+"/csse_covid_19_time_series/time_series_covid19_"+m.Slug()+"_global.csv"]
		table, stats, err := domain.ParseGlobalSeries(bytes.NewReader(data), end)
		if err != nil {
			return fmt.Errorf("parse %s series: %w", m.Slug(), err)
		}
		row, _ := table.Row(end)
		fmt.Printf("Global %s: rows=%d countries=%d last=%v\n", m.Slug(), stats.Rows, stats.Countries, row)
	}

	records, stats := domain.ExplodeBoundaries(mockdata.Boundaries(), domain.DefaultBoundaryNameProperty)
	fmt.Printf("Boundaries: features=%d records=%d exploded=%d skipped=%d rings=%d\n",
		stats.Features, len(records), stats.Exploded, stats.Skipped, domain.RingCount(records))

	eras := map[domain.Era]int{}
	for d := domain.StartDate; !d.After(end); d = d.AddDate(0, 0, 1) {
		eras[domain.ClassifyEra(d)]++
	}
	fmt.Printf("Daily reports by era: %s=%d %s=%d %s=%d\n",
		domain.EraFullNameEarly, eras[domain.EraFullNameEarly],
		domain.EraCountyAbbrev, eras[domain.EraCountyAbbrev],
		domain.EraFullNameLate, eras[domain.EraFullNameLate])
	fmt.Printf("Absent: %s  Corrupt: %s\n",
		mockdata.AbsentDay.Format(domain.DateLayout), mockdata.CorruptDay.Format(domain.DateLayout))
	return nil
}
