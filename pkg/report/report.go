// Package report assembles aggregated DENUE counts into rows and
// serializes them as a delimited table.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Row is one output line: a municipality (optionally split by sector) with
// one count per requested stratum and a running total.
type Row struct {
	Municipality string
	Sector       string
	Counts       map[int]int
	Total        int
}

// Report is the in-memory aggregation table. Rows keep the order in which
// they were first registered, so output order never depends on the order
// lookups happen to complete in.
type Report struct {
	strata     []int
	aggregated bool
	rows       []*Row
	index      map[string]*Row
	failed     int
}

// New creates an empty report for the given strata. When aggregated is
// true the sector dimension is collapsed and rows carry no sector column.
func New(strata []int, aggregated bool) *Report {
	return &Report{
		strata:     append([]int(nil), strata...),
		aggregated: aggregated,
		index:      make(map[string]*Row),
	}
}

func rowKey(municipality, sector string) string {
	return municipality + "|" + sector
}

// Ensure registers the row for the given aggregation key, creating it with
// zeroed counts if it does not exist yet, and returns it.
func (r *Report) Ensure(municipality, sector string) *Row {
	key := rowKey(municipality, sector)
	if row, ok := r.index[key]; ok {
		return row
	}

	row := &Row{
		Municipality: municipality,
		Sector:       sector,
		Counts:       make(map[int]int, len(r.strata)),
	}
	r.index[key] = row
	r.rows = append(r.rows, row)
	return row
}

// Add writes a stratum count into the row for the given key and updates
// the row total. Counts for the same cell accumulate.
func (r *Report) Add(municipality, sector string, stratum, count int) {
	row := r.Ensure(municipality, sector)
	row.Counts[stratum] += count
	row.Total += count
}

// MarkFailed records a permanently failed cell. The cell stays at zero;
// the failure is only counted so callers can report it.
func (r *Report) MarkFailed() {
	r.failed++
}

// FailedCells returns the number of cells whose lookups permanently failed.
func (r *Report) FailedCells() int {
	return r.failed
}

// Rows returns all rows in first-registered order.
func (r *Report) Rows() []*Row {
	return r.rows
}

// Aggregated reports whether the sector dimension is collapsed.
func (r *Report) Aggregated() bool {
	return r.aggregated
}

// Strata returns the requested strata in output column order.
func (r *Report) Strata() []int {
	return r.strata
}

// WriteCSV serializes the report. The header names the identifying
// columns, one column per stratum in requested order, and a total column.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"municipio"}
	if !r.aggregated {
		header = append(header, "sector")
	}
	for _, e := range r.strata {
		header = append(header, strconv.Itoa(e))
	}
	header = append(header, "total")

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, row := range r.rows {
		fields := []string{row.Municipality}
		if !r.aggregated {
			fields = append(fields, row.Sector)
		}
		for _, e := range r.strata {
			fields = append(fields, strconv.Itoa(row.Counts[e]))
		}
		fields = append(fields, strconv.Itoa(row.Total))

		if err := cw.Write(fields); err != nil {
			return fmt.Errorf("write row %s: %w", row.Municipality, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

// WriteFile writes the report to the given path, creating or truncating it.
func (r *Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open output %s: %w", path, err)
	}

	if err := r.WriteCSV(f); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close output %s: %w", path, err)
	}
	return nil
}
