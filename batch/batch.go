// Package batch fans the analyzer core out over many queries with a bounded
// worker pool, deduplicates proposals across the set, and produces an
// aggregate report.
package batch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	optimiser "github.com/Sami-hat/query-optimiser"
	"github.com/Sami-hat/query-optimiser/catalog"
	"github.com/Sami-hat/query-optimiser/errs"
	"github.com/Sami-hat/query-optimiser/synth"
)

const (
	maxTopProposals = 20
	truncateAt      = 120
)

// FailureEntry records one per-query failure inside a batch run.
type FailureEntry struct {
	TruncatedQuery string
	Error          string
}

// BatchReport is the aggregate result of analyzing a set of queries.
type BatchReport struct {
	RunID         string
	TotalQueries  int
	FailedQueries int

	Proposals []synth.IndexProposal
	ByRelation map[string][]synth.IndexProposal

	TotalCurrentCost        float64
	TotalEstimatedCost      float64
	EstimatedImprovementPct float64
	RelationsTouched        int

	TopProposals []synth.IndexProposal
	Failures     []FailureEntry
}

// Summary renders a plain-text overview of the report, the Go equivalent of
// the reference implementation's get_summary() rendering.
func (r BatchReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch analysis %s\n", r.RunID)
	fmt.Fprintf(&b, "  queries analyzed:   %d\n", r.TotalQueries)
	fmt.Fprintf(&b, "  queries failed:     %d\n", r.FailedQueries)
	fmt.Fprintf(&b, "  unique recommendations: %d across %d relations\n", len(r.Proposals), r.RelationsTouched)
	fmt.Fprintf(&b, "  potential cost reduction: %.1f%%\n", r.EstimatedImprovementPct)
	return b.String()
}

// ProgressFunc is invoked once per completed query under a mutex; the
// completed value is monotonic but arrival order is not necessarily
// sequential because of parallel completion.
type ProgressFunc func(completed, total int)

// Analyzer drives Engine.Analyze across a query set with bounded
// concurrency.
type Analyzer struct {
	Engine  *optimiser.Engine
	Workers int
}

// NewAnalyzer builds an Analyzer with workers clamped to [1, 20], defaulting
// to 10 when unset.
func NewAnalyzer(engine *optimiser.Engine, workers int) *Analyzer {
	if workers <= 0 {
		workers = 10
	}
	if workers > 20 {
		workers = 20
	}
	return &Analyzer{Engine: engine, Workers: workers}
}

// Analyse submits every query to the bounded worker pool. A worker failure
// is captured into that query's result and never raised across the batch
// boundary — the pass always produces a full report. Cancellation is
// best-effort: once ctx is done, queued workers are skipped, but workers
// already running finish their in-flight round trip.
func (a *Analyzer) Analyse(ctx context.Context, queries []string, progress ProgressFunc) BatchReport {
	results := make([]optimiser.AnalysisResult, len(queries))

	var mu sync.Mutex
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Workers)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			res, err := a.Engine.Analyze(gctx, q)
			if err != nil {
				res.Err = errs.AnalysisFailure.New(err.Error())
			}
			results[i] = res

			mu.Lock()
			completed++
			if progress != nil {
				progress(completed, len(queries))
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return aggregate(queries, results)
}

func aggregate(queries []string, results []optimiser.AnalysisResult) BatchReport {
	var failures []FailureEntry
	var allProposals []synth.IndexProposal
	failed := 0

	for _, r := range results {
		if r.Err != nil {
			failed++
			failures = append(failures, FailureEntry{TruncatedQuery: truncate(r.Query, truncateAt), Error: r.Err.Error()})
			continue
		}
		allProposals = append(allProposals, r.Proposals...)
	}

	deduped := synth.Dedupe(allProposals)
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Priority > deduped[j].Priority
	})

	byRelation := map[string][]synth.IndexProposal{}
	relations := map[string]struct{}{}
	var totalCurrent, totalEstimated float64
	for _, p := range deduped {
		byRelation[p.Relation] = append(byRelation[p.Relation], p)
		relations[p.Relation] = struct{}{}
		totalCurrent += p.CurrentCost
		totalEstimated += p.EstimatedCost
	}

	improvementPct := 0.0
	if totalCurrent > 0 {
		if pct := (totalCurrent - totalEstimated) / totalCurrent * 100; pct > 0 {
			improvementPct = pct
		}
	}

	top := deduped
	if len(top) > maxTopProposals {
		top = top[:maxTopProposals]
	}

	return BatchReport{
		RunID:                   uuid.NewString(),
		TotalQueries:            len(queries),
		FailedQueries:           failed,
		Proposals:               deduped,
		ByRelation:              byRelation,
		TotalCurrentCost:        totalCurrent,
		TotalEstimatedCost:      totalEstimated,
		EstimatedImprovementPct: improvementPct,
		RelationsTouched:        len(relations),
		TopProposals:            top,
		Failures:                failures,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// FilterByExistingIndexes drops any proposal whose full column set is
// already entirely covered (case-insensitive) by some existing index on the
// same relation.
func FilterByExistingIndexes(ctx context.Context, gw catalog.Gateway, proposals []synth.IndexProposal) []synth.IndexProposal {
	cache := map[string][]catalog.IndexDef{}
	var out []synth.IndexProposal
	for _, p := range proposals {
		defs, ok := cache[p.Relation]
		if !ok {
			defs = gw.ExistingIndexes(ctx, p.Relation)
			cache[p.Relation] = defs
		}
		if coveredByExisting(p.Columns, defs) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func coveredByExisting(columns []string, defs []catalog.IndexDef) bool {
	for _, d := range defs {
		if columnSetCoveredCaseInsensitive(columns, d.Columns) {
			return true
		}
	}
	return false
}

func columnSetCoveredCaseInsensitive(want, have []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, h := range have {
		haveSet[strings.ToLower(h)] = struct{}{}
	}
	for _, w := range want {
		if _, ok := haveSet[strings.ToLower(w)]; !ok {
			return false
		}
	}
	return true
}

// FetchQueries implements the query-source helper: pull query-statistics
// rows from the gateway, filter by calls/mean-time thresholds, exclude
// administrative patterns, order by total execution time descending, and
// limit the result to L entries.
func FetchQueries(ctx context.Context, gw catalog.Gateway, minCalls int64, minMeanMs float64, limit int) ([]string, error) {
	fetchCap := limit*4 + 20
	raw, err := gw.TopQueries(ctx, fetchCap)
	if err != nil {
		return nil, err
	}

	filtered := make([]catalog.QueryStat, 0, len(raw))
	for _, q := range raw {
		if q.Calls < minCalls {
			continue
		}
		if q.MeanTimeMs < minMeanMs {
			continue
		}
		if isAdministrative(q.Query) {
			continue
		}
		filtered = append(filtered, q)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].TotalTimeMs > filtered[j].TotalTimeMs
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	out := make([]string, len(filtered))
	for i, q := range filtered {
		out[i] = q.Query
	}
	return out, nil
}

func isAdministrative(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	switch {
	case strings.HasPrefix(upper, "SET "),
		strings.HasPrefix(upper, "SHOW "),
		strings.HasPrefix(upper, "EXPLAIN "),
		strings.HasPrefix(upper, "BEGIN"),
		strings.HasPrefix(upper, "COMMIT"),
		strings.HasPrefix(upper, "ROLLBACK"),
		strings.Contains(upper, "PG_CATALOG"),
		strings.Contains(upper, "INFORMATION_SCHEMA"):
		return true
	}
	return false
}
