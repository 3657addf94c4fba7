// Package catalog defines the read-only statistics-gateway contract the
// synthesizer consumes: per-column distinct/null/correlation statistics,
// live row counts, existing index definitions, and per-relation read/write
// counters. It ships two implementations — PgGateway, a thin adapter over a
// Postgres connection pool, and StaticGateway, an in-memory double used in
// tests.
package catalog

import (
	"context"
	"math"
	"strings"

	"github.com/Sami-hat/query-optimiser/planwalk"
)

// ColumnStats holds per-relation, per-column statistics. A missing or failed
// lookup degrades to DefaultColumnStats rather than propagating an error:
// the synthesizer's plan-derived fallback is always safe.
type ColumnStats struct {
	Distinct     int64
	NullFraction float64
	Correlation  float64
	RowCount     int64
	HasStats     bool
}

// DefaultColumnStats is returned whenever the catalog has no row for a
// column, or the lookup itself failed.
func DefaultColumnStats() ColumnStats {
	return ColumnStats{Distinct: -1, NullFraction: 0, Correlation: 0, RowCount: 0, HasStats: false}
}

// NormalizeDistinct converts a raw n_distinct value (as Postgres's pg_stats
// exposes it) into an absolute distinct-value count. Postgres reports a
// negative value as -1 * (distinct / rowCount); such fractions are
// multiplied back out and made absolute.
func NormalizeDistinct(nDistinct float64, rowCount int64) int64 {
	if nDistinct < 0 {
		return int64(math.Abs(nDistinct * float64(rowCount)))
	}
	return int64(nDistinct)
}

// IndexDef describes one existing index, used only for already-indexed
// filtering.
type IndexDef struct {
	Schema   string
	Relation string
	Name     string
	Columns  []string
}

// ParseIndexColumns extracts a column list from a raw index definition
// string (e.g. Postgres's pg_indexes.indexdef: "CREATE INDEX idx ON public.t
// USING btree (a, b)"): the text between the first matched parentheses,
// split on commas, each column stripped of a trailing type-cast suffix and
// trimmed.
func ParseIndexColumns(indexdef string) []string {
	open := strings.Index(indexdef, "(")
	if open < 0 {
		return nil
	}
	depth := 0
	close := -1
	for i := open; i < len(indexdef); i++ {
		switch indexdef[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				close = i
			}
		}
		if close >= 0 {
			break
		}
	}
	if close < 0 {
		return nil
	}

	inner := indexdef[open+1 : close]
	parts := strings.Split(inner, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		c := strings.TrimSpace(p)
		if idx := strings.Index(c, "::"); idx >= 0 {
			c = c[:idx]
		}
		c = strings.TrimSpace(c)
		if c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// QueryStat is one row from the RDBMS's query-statistics view (e.g.
// pg_stat_statements), before the administrative-pattern and threshold
// filtering the batch layer's query-source helper applies.
type QueryStat struct {
	Query       string
	Calls       int64
	MeanTimeMs  float64
	TotalTimeMs float64
}

// Gateway is the statistics-gateway contract. All operations must be safe
// to invoke concurrently; the gateway itself is stateless beyond the
// underlying connection pool.
type Gateway interface {
	// ColumnStats returns statistics for one column, or DefaultColumnStats
	// when absent or on internal error — it never returns an error to the
	// caller; the synthesizer's plan-based fallback handles that case.
	ColumnStats(ctx context.Context, relation, column string) ColumnStats

	// RowCount returns the relation's live row count, or 0 if unknown.
	RowCount(ctx context.Context, relation string) int64

	// ExistingIndexes returns every known index on relation, or on every
	// relation when relation is empty.
	ExistingIndexes(ctx context.Context, relation string) []IndexDef

	// TableIOCounters returns writes = inserts+updates+deletes and
	// reads = sequential_scans+index_scans. Unknown counters are zero.
	TableIOCounters(ctx context.Context, relation string) (writes, reads int64)

	// Plan obtains a structured plan for sql without executing it for
	// effect. Implementations must enforce the read-only/rollback/
	// statement-timeout discipline described in the concurrency model;
	// callers only see the resulting plan or a PlanUnavailable error.
	Plan(ctx context.Context, sql string) (planwalk.Plan, error)

	// TopQueries returns recent query-statistics rows, most expensive
	// first, before the batch layer's administrative-pattern exclusion and
	// threshold filtering are applied.
	TopQueries(ctx context.Context, limit int) ([]QueryStat, error)
}
