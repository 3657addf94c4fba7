package synth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sami-hat/query-optimiser/astwalk"
	"github.com/Sami-hat/query-optimiser/catalog"
	"github.com/Sami-hat/query-optimiser/planwalk"
	"github.com/Sami-hat/query-optimiser/synth"
)

func mustWalk(t *testing.T, sql string) *astwalk.ParsedQuery {
	t.Helper()
	pq, err := astwalk.Walk(sql)
	require.NoError(t, err)
	return pq
}

func TestSynthesize_Scenario1_SingleColumnEquality(t *testing.T) {
	pq := mustWalk(t, "SELECT * FROM users WHERE email = 'u@x.com'")
	scans := []planwalk.PlanScan{
		{Relation: "users", ActualRows: 500000, RowsRemovedByFilter: 499999, Cost: 9000},
	}
	gw := catalog.NewStaticGateway().
		WithColumnStats("users", "email", catalog.ColumnStats{Distinct: 500000, HasStats: true})

	proposals := synth.Synthesize(context.Background(), pq, scans, gw)

	require.Len(t, proposals, 1)
	p := proposals[0]
	assert.Equal(t, "users", p.Relation)
	assert.Equal(t, []string{"email"}, p.Columns)
	assert.Empty(t, p.PartialPredicate)
	assert.GreaterOrEqual(t, p.Improvement, 0.95)
}

func TestSynthesize_Scenario2_EqualityBeforeRangeWithPartialPredicate(t *testing.T) {
	pq := mustWalk(t, "SELECT * FROM orders WHERE status = 'pending' AND total > 500")
	scans := []planwalk.PlanScan{
		{Relation: "orders", ActualRows: 100000, RowsRemovedByFilter: 80000, Cost: 4000},
	}
	gw := catalog.NewStaticGateway().
		WithColumnStats("orders", "status", catalog.ColumnStats{Distinct: 5, HasStats: true})

	proposals := synth.Synthesize(context.Background(), pq, scans, gw)

	require.Len(t, proposals, 1)
	p := proposals[0]
	assert.Equal(t, []string{"status", "total"}, p.Columns)
	assert.Equal(t, "status = 'pending'", p.PartialPredicate)
}

func TestSynthesize_Scenario3_OrderByFallbackNoWhere(t *testing.T) {
	pq := mustWalk(t, "SELECT * FROM users ORDER BY created_at DESC LIMIT 10")
	scans := []planwalk.PlanScan{
		{Relation: "users", ActualRows: 20000, RowsRemovedByFilter: 0, Cost: 500},
	}
	gw := catalog.NewStaticGateway()

	proposals := synth.Synthesize(context.Background(), pq, scans, gw)

	require.Len(t, proposals, 1)
	assert.Equal(t, []string{"created_at"}, proposals[0].Columns)
	assert.Contains(t, proposals[0].Reason, "ORDER BY")
}

func TestSynthesize_Scenario4_JoinAndWhereProposals(t *testing.T) {
	pq := mustWalk(t,
		"SELECT u.name, o.total FROM users u JOIN orders o ON u.id = o.user_id WHERE o.status = 'completed'")
	scans := []planwalk.PlanScan{
		{Relation: "orders", ActualRows: 50000, RowsRemovedByFilter: 49000, Cost: 3000},
	}
	gw := catalog.NewStaticGateway()

	proposals := synth.Synthesize(context.Background(), pq, scans, gw)

	var sawJoin, sawStatus bool
	for _, p := range proposals {
		if p.Relation == "orders" && len(p.Columns) == 1 && p.Columns[0] == "user_id" {
			sawJoin = true
			assert.Contains(t, p.Reason, "JOIN condition on orders")
		}
		if p.Relation == "orders" && len(p.Columns) == 1 && p.Columns[0] == "status" {
			sawStatus = true
			assert.Equal(t, "status = 'completed'", p.PartialPredicate)
		}
	}
	assert.True(t, sawJoin, "expected a join-driven proposal on orders(user_id)")
	assert.True(t, sawStatus, "expected a where-driven proposal on orders(status)")
}

func TestSynthesize_PrimaryKeyLookupYieldsNoProposal(t *testing.T) {
	pq := mustWalk(t, "SELECT * FROM users WHERE id = 42")
	scans := []planwalk.PlanScan{
		{Relation: "users", ActualRows: 1, RowsRemovedByFilter: 999999, Cost: 10},
	}
	gw := catalog.NewStaticGateway()

	proposals := synth.Synthesize(context.Background(), pq, scans, gw)
	assert.Empty(t, proposals)
}

func TestSynthesize_Scenario6_OverIndexingWarningWhenFiveIndexesExist(t *testing.T) {
	pq := mustWalk(t, "SELECT * FROM orders WHERE status = 'pending' AND total > 500")
	scans := []planwalk.PlanScan{
		{Relation: "orders", ActualRows: 100000, RowsRemovedByFilter: 80000, Cost: 4000},
	}
	gw := catalog.NewStaticGateway()
	for i := 0; i < 5; i++ {
		gw.WithIndex(catalog.IndexDef{Relation: "orders", Name: "idx_existing"})
	}

	proposals := synth.Synthesize(context.Background(), pq, scans, gw)
	require.NotEmpty(t, proposals)
	for _, p := range proposals {
		assert.NotEmpty(t, p.Warning)
	}
}

func TestSynthesize_DeduplicatesByIdentityKeyKeepingHighestPriority(t *testing.T) {
	pq := mustWalk(t, "SELECT * FROM users WHERE email = 'u@x.com'")
	scans := []planwalk.PlanScan{
		{Relation: "users", ActualRows: 500000, RowsRemovedByFilter: 499999, Cost: 9000},
		{Relation: "users", ActualRows: 500000, RowsRemovedByFilter: 499999, Cost: 9000},
	}
	gw := catalog.NewStaticGateway()

	proposals := synth.Synthesize(context.Background(), pq, scans, gw)
	require.Len(t, proposals, 1)
}

func TestSynthesize_EveryProposalRespectsImprovementBounds(t *testing.T) {
	pq := mustWalk(t, "SELECT * FROM orders WHERE status = 'pending' AND total > 500")
	scans := []planwalk.PlanScan{
		{Relation: "orders", ActualRows: 100000, RowsRemovedByFilter: 80000, Cost: 4000},
	}
	gw := catalog.NewStaticGateway()

	for _, p := range synth.Synthesize(context.Background(), pq, scans, gw) {
		assert.GreaterOrEqual(t, p.Improvement, 0.05)
		assert.LessOrEqual(t, p.Improvement, 0.98)
		assert.InDelta(t, p.CurrentCost*(1-p.Improvement), p.EstimatedCost, 0.0001)
	}
}
