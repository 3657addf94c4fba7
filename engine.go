// Package optimiser wires the AST walker, plan walker, statistics gateway,
// and recommendation synthesizer together into the single-query analysis
// entrypoint the batch layer fans out over.
package optimiser

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Sami-hat/query-optimiser/astwalk"
	"github.com/Sami-hat/query-optimiser/catalog"
	"github.com/Sami-hat/query-optimiser/planwalk"
	"github.com/Sami-hat/query-optimiser/synth"
)

// Config controls the engine's defaults for batch sizing and the
// query-statistics query-source helper. NewEngine clamps Workers to [1, 20]
// and stores the rest unmodified; the engine itself reads none of these
// fields, and batch.NewAnalyzer and batch.FetchQueries take their worker
// count and thresholds as arguments.
type Config struct {
	Workers   int
	MinCalls  int64
	MinMeanMs float64
	Limit     int
}

// DefaultConfig mirrors the reference's defaults: a worker pool of 10.
func DefaultConfig() Config {
	return Config{Workers: 10, MinCalls: 5, MinMeanMs: 10, Limit: 100}
}

// AnalysisResult is the per-query output: the extracted query shape, the
// scans the plan walker found, the plan's top-level metrics, the
// synthesized proposals, and — for a failed query — the error that
// aborted it.
type AnalysisResult struct {
	Query     string
	Parsed    *astwalk.ParsedQuery
	Scans     []planwalk.PlanScan
	Metrics   planwalk.Metrics
	Proposals []synth.IndexProposal
	Err       error
}

// Engine is the analyzer core: a statistics gateway plus the Config it was
// built with.
type Engine struct {
	Gateway catalog.Gateway
	Config  Config
	log     *logrus.Entry
}

// NewEngine builds an Engine around an already-configured Gateway. log may
// be nil, in which case a standard logrus entry is used.
func NewEngine(gw catalog.Gateway, cfg Config, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.Workers > 20 {
		cfg.Workers = 20
	}
	return &Engine{Gateway: gw, Config: cfg, log: log}
}

// Analyze runs the full per-query pipeline: AST walk, placeholder rewrite,
// plan request, plan walk, and synthesis. An InvalidQuery error from the
// AST walker, or a PlanUnavailable error from the gateway, is surfaced
// directly to the caller — single-query analysis does not degrade these
// away, only a batch run captures them into AnalysisResult.Err instead of
// propagating.
func (e *Engine) Analyze(ctx context.Context, sql string) (AnalysisResult, error) {
	result := AnalysisResult{Query: sql}

	pq, err := astwalk.Walk(sql)
	if err != nil {
		e.log.WithFields(logrus.Fields{"error": err}).Debug("query failed to parse")
		return result, err
	}
	result.Parsed = pq

	rewritten, err := astwalk.RewritePlaceholders(sql)
	if err != nil {
		return result, err
	}

	plan, err := e.Gateway.Plan(ctx, rewritten)
	if err != nil {
		e.log.WithFields(logrus.Fields{"error": err}).Debug("plan unavailable")
		return result, err
	}

	scans, metrics := planwalk.Walk(plan)
	result.Scans = scans
	result.Metrics = metrics
	result.Proposals = synth.Synthesize(ctx, pq, scans, e.Gateway)

	return result, nil
}
