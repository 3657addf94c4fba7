package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Sami-hat/query-optimiser/errs"
	"github.com/Sami-hat/query-optimiser/planwalk"
)

// StaticGateway is an in-memory Gateway double for tests: a fixed snapshot of column statistics, row counts, index
// definitions, IO counters, canned plans, and query-statistics rows, all
// keyed by relation/column name. Safe for concurrent use.
type StaticGateway struct {
	mu sync.RWMutex

	columnStats map[string]map[string]ColumnStats
	rowCounts   map[string]int64
	indexes     map[string][]IndexDef
	writes      map[string]int64
	reads       map[string]int64
	plans       map[string]planwalk.Plan
	topQueries  []QueryStat
}

// NewStaticGateway returns an empty StaticGateway; populate it with the
// With* builder methods before use.
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{
		columnStats: map[string]map[string]ColumnStats{},
		rowCounts:   map[string]int64{},
		indexes:     map[string][]IndexDef{},
		writes:      map[string]int64{},
		reads:       map[string]int64{},
		plans:       map[string]planwalk.Plan{},
	}
}

// WithColumnStats registers stats for relation.column.
func (g *StaticGateway) WithColumnStats(relation, column string, stats ColumnStats) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.columnStats[relation] == nil {
		g.columnStats[relation] = map[string]ColumnStats{}
	}
	g.columnStats[relation][column] = stats
	return g
}

// WithRowCount registers relation's live row count.
func (g *StaticGateway) WithRowCount(relation string, rows int64) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rowCounts[relation] = rows
	return g
}

// WithIndex registers an existing index on relation.
func (g *StaticGateway) WithIndex(def IndexDef) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.indexes[def.Relation] = append(g.indexes[def.Relation], def)
	return g
}

// WithIOCounters registers relation's write/read counters directly (already
// summed, unlike PgGateway which sums raw pg_stat_user_tables columns).
func (g *StaticGateway) WithIOCounters(relation string, writes, reads int64) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.writes[relation] = writes
	g.reads[relation] = reads
	return g
}

// WithPlan registers the canned plan returned for sql. Lookup normalizes
// whitespace and case so a caller that rewrites placeholders (and thereby
// reformats the query through the parser's printer) still matches.
func (g *StaticGateway) WithPlan(sql string, plan planwalk.Plan) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plans[normalizeSQL(sql)] = plan
	return g
}

func normalizeSQL(sql string) string {
	return strings.ToUpper(strings.Join(strings.Fields(sql), " "))
}

// WithTopQuery appends a query-statistics row.
func (g *StaticGateway) WithTopQuery(stat QueryStat) *StaticGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topQueries = append(g.topQueries, stat)
	return g
}

func (g *StaticGateway) ColumnStats(_ context.Context, relation, column string) ColumnStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if cols, ok := g.columnStats[relation]; ok {
		if stats, ok := cols[column]; ok {
			return stats
		}
	}
	return DefaultColumnStats()
}

func (g *StaticGateway) RowCount(_ context.Context, relation string) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rowCounts[relation]
}

func (g *StaticGateway) ExistingIndexes(_ context.Context, relation string) []IndexDef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if relation == "" {
		var all []IndexDef
		for _, defs := range g.indexes {
			all = append(all, defs...)
		}
		return all
	}
	return g.indexes[relation]
}

func (g *StaticGateway) TableIOCounters(_ context.Context, relation string) (writes, reads int64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.writes[relation], g.reads[relation]
}

func (g *StaticGateway) Plan(_ context.Context, sql string) (planwalk.Plan, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !isReadOnlySelect(sql) {
		return planwalk.Plan{}, errs.InvalidQuery.New("only SELECT statements may be planned")
	}
	plan, ok := g.plans[normalizeSQL(sql)]
	if !ok {
		return planwalk.Plan{}, errs.PlanUnavailable.New("no canned plan registered for query")
	}
	return plan, nil
}

func (g *StaticGateway) TopQueries(_ context.Context, limit int) ([]QueryStat, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ordered := append([]QueryStat(nil), g.topQueries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TotalTimeMs > ordered[j].TotalTimeMs
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return ordered, nil
}

var _ Gateway = (*StaticGateway)(nil)
var _ Gateway = (*PgGateway)(nil)
