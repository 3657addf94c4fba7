package batch_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	optimiser "github.com/Sami-hat/query-optimiser"
	"github.com/Sami-hat/query-optimiser/batch"
	"github.com/Sami-hat/query-optimiser/catalog"
	"github.com/Sami-hat/query-optimiser/planwalk"
	"github.com/Sami-hat/query-optimiser/synth"
)

func gatewayWithPlan(sql string, relation string, actualRows, removed int64, cost float64) *catalog.StaticGateway {
	return catalog.NewStaticGateway().WithPlan(sql, planwalk.Plan{
		Plan: planwalk.PlanNode{
			NodeType:            "Seq Scan",
			RelationName:        relation,
			TotalCost:           cost,
			ActualRows:          &actualRows,
			RowsRemovedByFilter: &removed,
		},
	})
}

func TestAnalyse_Scenario5_DuplicateQueriesDedupeToSingleProposal(t *testing.T) {
	sql := "SELECT * FROM users WHERE email = 'u@x.com'"
	gw := gatewayWithPlan(sql, "users", 500000, 499999, 9000).
		WithColumnStats("users", "email", catalog.ColumnStats{Distinct: 500000, HasStats: true})

	engine := optimiser.NewEngine(gw, optimiser.Config{Workers: 8}, nil)
	analyzer := batch.NewAnalyzer(engine, 8)

	queries := make([]string, 30)
	for i := range queries {
		queries[i] = sql
	}

	report := analyzer.Analyse(context.Background(), queries, nil)

	require.Equal(t, 30, report.TotalQueries)
	require.Zero(t, report.FailedQueries)
	require.Len(t, report.Proposals, 1)
	assert.Equal(t, "users", report.Proposals[0].Relation)
}

func TestAnalyse_FailuresAreCapturedNotRaised(t *testing.T) {
	okSQL := "SELECT * FROM users WHERE id = 1"
	gw := gatewayWithPlan(okSQL, "users", 1, 999999, 10)
	engine := optimiser.NewEngine(gw, optimiser.Config{Workers: 4}, nil)
	analyzer := batch.NewAnalyzer(engine, 4)

	report := analyzer.Analyse(context.Background(), []string{
		"",
		okSQL,
	}, nil)

	require.Equal(t, 2, report.TotalQueries)
	assert.Equal(t, 1, report.FailedQueries)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Error, "invalid query")
}

func TestAnalyse_ProgressCallbackReachesTotal(t *testing.T) {
	sql := "SELECT * FROM users WHERE email = 'u@x.com'"
	gw := gatewayWithPlan(sql, "users", 100, 50, 10)
	engine := optimiser.NewEngine(gw, optimiser.Config{Workers: 4}, nil)
	analyzer := batch.NewAnalyzer(engine, 4)

	var mu sync.Mutex
	var last int
	queries := []string{sql, sql, sql, sql}

	analyzer.Analyse(context.Background(), queries, func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, len(queries), total)
		if completed > last {
			last = completed
		}
	})

	assert.Equal(t, len(queries), last)
}

func TestFilterByExistingIndexes_DropsFullyCoveredProposal(t *testing.T) {
	gw := catalog.NewStaticGateway().WithIndex(catalog.IndexDef{
		Relation: "users",
		Name:     "idx_users_email",
		Columns:  []string{"email"},
	})

	proposals := []synth.IndexProposal{
		{Relation: "users", Columns: []string{"email"}},
		{Relation: "users", Columns: []string{"created_at"}},
	}

	kept := batch.FilterByExistingIndexes(context.Background(), gw, proposals)
	require.Len(t, kept, 1)
	assert.Equal(t, []string{"created_at"}, kept[0].Columns)
}

func TestFetchQueries_ExcludesAdministrativeAndAppliesThresholds(t *testing.T) {
	gw := catalog.NewStaticGateway().
		WithTopQuery(catalog.QueryStat{Query: "SELECT * FROM users", Calls: 100, MeanTimeMs: 50, TotalTimeMs: 5000}).
		WithTopQuery(catalog.QueryStat{Query: "SET statement_timeout = 1000", Calls: 1000, MeanTimeMs: 1, TotalTimeMs: 1000}).
		WithTopQuery(catalog.QueryStat{Query: "SELECT * FROM pg_catalog.pg_class", Calls: 50, MeanTimeMs: 20, TotalTimeMs: 1000}).
		WithTopQuery(catalog.QueryStat{Query: "SELECT 1", Calls: 2, MeanTimeMs: 100, TotalTimeMs: 200})

	out, err := batch.FetchQueries(context.Background(), gw, 5, 10, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "SELECT * FROM users", out[0])
}
