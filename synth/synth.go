// Package synth merges the AST walker's column intent with the plan
// walker's scan evidence and the statistics gateway's catalog data into a
// deduplicated, prioritized, cost-annotated list of index proposals.
package synth

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Sami-hat/query-optimiser/astwalk"
	"github.com/Sami-hat/query-optimiser/catalog"
	"github.com/Sami-hat/query-optimiser/planwalk"
)

// DefaultKind is the only index kind the synthesizer ever emits. gin/gist
// are modeled in IndexProposal.Kind but no rule here ever sets them.
const DefaultKind = "btree"

// IndexProposal is a candidate secondary index, annotated with an expected
// improvement and a priority the batch layer and callers can rank by.
type IndexProposal struct {
	Relation         string
	Columns          []string
	Kind             string
	PartialPredicate string
	IncludeColumns   []string
	Reason           string
	Improvement      float64
	CurrentCost      float64
	EstimatedCost    float64
	Priority         int
	Warning          string

	joinDriven bool
}

// IdentityKey is (relation, sorted(columns), partial_predicate,
// tuple(include_columns)) — the deduplication key used within a single
// query and across a batch.
func (p IndexProposal) IdentityKey() string {
	cols := append([]string(nil), p.Columns...)
	sort.Strings(cols)
	return strings.Join([]string{
		p.Relation,
		strings.Join(cols, ","),
		p.PartialPredicate,
		strings.Join(p.IncludeColumns, ","),
	}, "|")
}

// Synthesize runs the full per-query algorithm: column selection per scan,
// join-driven proposals, the cost model, per-query deduplication, and the
// over-indexing warning pass.
func Synthesize(ctx context.Context, pq *astwalk.ParsedQuery, scans []planwalk.PlanScan, gw catalog.Gateway) []IndexProposal {
	var proposals []IndexProposal

	for _, scan := range scans {
		if p, ok := proposeForScan(pq, scan); ok {
			proposals = append(proposals, p)
		}
	}
	proposals = append(proposals, joinDrivenProposals(pq)...)

	for i := range proposals {
		applyCostModel(ctx, gw, &proposals[i], findScanForRelation(scans, proposals[i].Relation))
	}

	proposals = dedupeKeepHighestPriority(proposals)
	sort.SliceStable(proposals, func(i, j int) bool {
		return proposals[i].Priority > proposals[j].Priority
	})

	applyOverIndexingWarnings(ctx, gw, proposals)

	return proposals
}

func findScanForRelation(scans []planwalk.PlanScan, relation string) *planwalk.PlanScan {
	for i := range scans {
		if scans[i].Relation == relation {
			return &scans[i]
		}
	}
	return nil
}

func containsStr(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// reorderByPredicateClass implements step 3's composite-index ordering:
// equality first, then range, then other, stable within class.
func reorderByPredicateClass(pq *astwalk.ParsedQuery, cols []string) []string {
	var eq, rng, other []string
	for _, c := range cols {
		class, ok := pq.PredicateTypes[c]
		if !ok {
			class = astwalk.PredOther
		}
		switch class {
		case astwalk.PredEquality:
			eq = append(eq, c)
		case astwalk.PredRange:
			rng = append(rng, c)
		default:
			other = append(other, c)
		}
	}
	out := make([]string, 0, len(cols))
	out = append(out, eq...)
	out = append(out, rng...)
	out = append(out, other...)
	return out
}

func orderByColumnsForRelation(pq *astwalk.ParsedQuery, relation string) []string {
	var cols []string
	for _, c := range pq.OrderByExprOrder {
		rel, ok := pq.ColumnTable[astwalk.ColumnTableKey{Role: astwalk.RoleOrderBy, Column: c}]
		resolvesHere := (ok && rel == relation) || (!ok && len(pq.Tables) == 1)
		if resolvesHere {
			cols = append(cols, c)
		}
	}
	return cols
}

// proposeForScan implements spec steps 1-4 for a single detected scan.
func proposeForScan(pq *astwalk.ParsedQuery, scan planwalk.PlanScan) (IndexProposal, bool) {
	relation := scan.Relation

	// Step 1: column selection.
	var selected []string
	seen := map[string]bool{}
	for _, c := range pq.WhereColumnOrder {
		rel, ok := pq.ColumnTable[astwalk.ColumnTableKey{Role: astwalk.RoleWhere, Column: c}]
		if ok && rel == relation && !seen[c] {
			selected = append(selected, c)
			seen[c] = true
		}
	}
	if len(selected) == 0 && len(pq.Tables) == 1 {
		for _, c := range pq.WhereColumnOrder {
			if !seen[c] {
				selected = append(selected, c)
				seen[c] = true
			}
		}
	}

	var constantCols, indexCols []string
	for _, c := range selected {
		if _, isConstant := pq.ConstantFilters[c]; isConstant {
			constantCols = append(constantCols, c)
		} else {
			indexCols = append(indexCols, c)
		}
	}

	// Step 2: partial predicate, in constant-filter discovery order.
	partial := ""
	if len(constantCols) > 0 {
		inSet := map[string]bool{}
		for _, c := range constantCols {
			inSet[c] = true
		}
		var parts []string
		for _, c := range pq.ConstantFilterOrder {
			if inSet[c] {
				parts = append(parts, fmt.Sprintf("%s = %s", c, pq.ConstantFilters[c]))
			}
		}
		partial = strings.Join(parts, " AND ")
	}

	// Step 3: column ordering, then append unused ORDER BY columns.
	if len(indexCols) > 1 {
		indexCols = reorderByPredicateClass(pq, indexCols)
	}
	if len(indexCols) >= 1 {
		for _, c := range orderByColumnsForRelation(pq, relation) {
			if !containsStr(indexCols, c) {
				indexCols = append(indexCols, c)
			}
		}
	}

	hasIndexCols := len(indexCols) > 0
	hasConstantCols := len(constantCols) > 0
	hasSelected := len(selected) > 0

	switch {
	case hasIndexCols:
		return IndexProposal{
			Relation:         relation,
			Columns:          indexCols,
			Kind:             DefaultKind,
			PartialPredicate: partial,
			Reason:           reasonForColumns(indexCols, partial),
		}, true

	case !hasConstantCols && hasSelected:
		cols := selected
		if len(cols) > 1 {
			cols = reorderByPredicateClass(pq, cols)
		}
		return IndexProposal{
			Relation: relation,
			Columns:  cols,
			Kind:     DefaultKind,
			Reason:   reasonForColumns(cols, ""),
		}, true

	case len(selected) == 0:
		obCols := orderByColumnsForRelation(pq, relation)
		if len(obCols) == 0 {
			return IndexProposal{}, false
		}
		return IndexProposal{
			Relation: relation,
			Columns:  obCols,
			Kind:     DefaultKind,
			Reason:   "ORDER BY on " + strings.Join(obCols, ", "),
		}, true

	default:
		// Only constant-filter columns exist: an equality index on a single
		// constant value provides no selectivity benefit over a partial
		// predicate on a better column, so no proposal is emitted.
		return IndexProposal{}, false
	}
}

func reasonForColumns(cols []string, partial string) string {
	if partial != "" {
		return fmt.Sprintf("WHERE filter on %s (partial: %s)", strings.Join(cols, ", "), partial)
	}
	return "WHERE filter on " + strings.Join(cols, ", ")
}

// joinDrivenProposals implements step 5: group join columns by relation,
// excluding the literal column name "id", one proposal per relation.
func joinDrivenProposals(pq *astwalk.ParsedQuery) []IndexProposal {
	grouped := map[string][]string{}
	seen := map[string]map[string]bool{}
	var relOrder []string

	for _, ref := range pq.JoinColumnOrder {
		if ref.Column == "id" {
			continue
		}
		if seen[ref.Relation] == nil {
			seen[ref.Relation] = map[string]bool{}
			relOrder = append(relOrder, ref.Relation)
		}
		if !seen[ref.Relation][ref.Column] {
			seen[ref.Relation][ref.Column] = true
			grouped[ref.Relation] = append(grouped[ref.Relation], ref.Column)
		}
	}

	out := make([]IndexProposal, 0, len(relOrder))
	for _, rel := range relOrder {
		out = append(out, IndexProposal{
			Relation:   rel,
			Columns:    grouped[rel],
			Kind:       DefaultKind,
			Reason:     fmt.Sprintf("JOIN condition on %s", rel),
			Priority:   2,
			joinDriven: true,
		})
	}
	return out
}

// selectivityStep maps a selectivity estimate to an improvement fraction via
// the coarse step function spec 4.4 step 6 mandates be replicated exactly.
func selectivityStep(selectivity float64) float64 {
	switch {
	case selectivity < 0.001:
		return 0.98
	case selectivity < 0.01:
		return 0.95
	case selectivity < 0.05:
		return 0.85
	case selectivity < 0.1:
		return 0.70
	case selectivity < 0.2:
		return 0.50
	default:
		return 0.20
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// applyCostModel implements step 6 for one proposal. scan is nil when the
// proposal's relation was never observed as a full-table scan (a
// join-driven proposal on a relation the plan never scanned); the plan
// selectivity then defaults to 0.1 and current cost to 0, same as an
// unscanned relation with no plan evidence at all.
func applyCostModel(ctx context.Context, gw catalog.Gateway, p *IndexProposal, scan *planwalk.PlanScan) {
	planSelectivity := 0.1
	currentCost := 0.0
	correlation := 0.0

	if scan != nil {
		currentCost = scan.Cost
		rowsScanned := scan.ActualRows
		if rowsScanned < 1 {
			rowsScanned = 1
		}
		planSelectivity = 1 - float64(scan.RowsRemovedByFilter)/float64(rowsScanned)
	}

	leadingColumn := ""
	if len(p.Columns) > 0 {
		leadingColumn = p.Columns[0]
	}

	catalogSelectivity := 0.0
	if leadingColumn != "" && gw != nil {
		stats := gw.ColumnStats(ctx, p.Relation, leadingColumn)
		if stats.HasStats && stats.Distinct > 0 {
			catalogSelectivity = (1.0 / float64(stats.Distinct)) * (1 - stats.NullFraction)
		}
		correlation = stats.Correlation
	}

	selectivity := clamp(0.6*planSelectivity+0.4*catalogSelectivity, 0.001, 1.0)
	if p.PartialPredicate != "" {
		selectivity *= 0.8
	}

	improvement := selectivityStep(selectivity)
	improvement *= 1 - 0.15*math.Abs(correlation)
	improvement = clamp(improvement, 0.05, 0.98)

	if len(p.IncludeColumns) > 0 {
		improvement = clamp(improvement*1.15, 0.05, 0.98)
	}

	p.CurrentCost = currentCost
	p.EstimatedCost = currentCost * (1 - improvement)
	p.Improvement = improvement

	if !p.joinDriven {
		p.Priority = int(math.Floor(currentCost * improvement))
	}
}

// Dedupe applies the same identity-key deduplication step 7 uses within a
// single query to an arbitrary proposal set; the batch layer reuses it
// across an entire batch's pooled results.
func Dedupe(proposals []IndexProposal) []IndexProposal {
	return dedupeKeepHighestPriority(proposals)
}

// dedupeKeepHighestPriority implements step 7's per-query deduplication.
func dedupeKeepHighestPriority(proposals []IndexProposal) []IndexProposal {
	best := map[string]int{}
	var order []string
	for i, p := range proposals {
		key := p.IdentityKey()
		if existing, ok := best[key]; ok {
			if proposals[i].Priority > proposals[existing].Priority {
				best[key] = i
			}
		} else {
			best[key] = i
			order = append(order, key)
		}
	}

	out := make([]IndexProposal, 0, len(order))
	for _, key := range order {
		out = append(out, proposals[best[key]])
	}
	return out
}

// applyOverIndexingWarnings implements step 8. The existing-index counter
// increments between sibling proposals on the same relation within this
// pass, so later proposals for the same relation see progressively higher
// counts.
func applyOverIndexingWarnings(ctx context.Context, gw catalog.Gateway, proposals []IndexProposal) {
	if gw == nil {
		return
	}
	counted := map[string]int{}
	for i := range proposals {
		rel := proposals[i].Relation
		if _, ok := counted[rel]; !ok {
			counted[rel] = len(gw.ExistingIndexes(ctx, rel))
		}
		existingCount := counted[rel]

		writes, reads := gw.TableIOCounters(ctx, rel)
		writeRatio := 0.3
		if writes+reads > 0 {
			writeRatio = float64(writes) / float64(writes+reads)
		}

		var warnings []string
		if existingCount >= 5 {
			warnings = append(warnings, fmt.Sprintf("relation %s already has %d indexes", rel, existingCount))
		}
		if writeRatio > 0.5 && (float64(existingCount+1)*0.15 > 0.30) {
			warnings = append(warnings, fmt.Sprintf("relation %s is write-heavy (write ratio %.2f)", rel, writeRatio))
		}
		proposals[i].Warning = strings.Join(warnings, "; ")

		counted[rel] = existingCount + 1
	}
}
