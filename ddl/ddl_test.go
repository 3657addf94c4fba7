package ddl_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sami-hat/query-optimiser/ddl"
	"github.com/Sami-hat/query-optimiser/synth"
)

func TestRender_Scenario1SingleColumn(t *testing.T) {
	p := synth.IndexProposal{Relation: "users", Columns: []string{"email"}, Kind: "btree"}
	assert.Equal(t, "CREATE INDEX idx_users_email ON users (email);", ddl.Render(p))
}

func TestRender_PartialPredicateNamedAndRendered(t *testing.T) {
	p := synth.IndexProposal{
		Relation:         "orders",
		Columns:          []string{"status", "total"},
		Kind:             "btree",
		PartialPredicate: "status = 'pending'",
	}
	name := ddl.Name(p)
	assert.True(t, strings.HasSuffix(name, "_partial"))
	assert.Contains(t, ddl.Render(p), "WHERE status = 'pending'")
}

func TestRender_CoveringIndexNamedAndRendered(t *testing.T) {
	p := synth.IndexProposal{
		Relation:       "orders",
		Columns:        []string{"user_id"},
		Kind:           "btree",
		IncludeColumns: []string{"total"},
	}
	assert.True(t, strings.HasSuffix(ddl.Name(p), "_covering"))
	assert.Contains(t, ddl.Render(p), "INCLUDE (total)")
}

func TestRender_PartialAndCoveringOrder(t *testing.T) {
	p := synth.IndexProposal{
		Relation:         "orders",
		Columns:          []string{"status"},
		PartialPredicate: "status = 'pending'",
		IncludeColumns:   []string{"total"},
	}
	name := ddl.Name(p)
	assert.True(t, strings.HasSuffix(name, "_partial_covering"))
}

func TestRender_RoundTripColumnList(t *testing.T) {
	p := synth.IndexProposal{Relation: "orders", Columns: []string{"status", "total"}, Kind: "btree"}
	rendered := ddl.Render(p)

	open := strings.Index(rendered, "(")
	close := strings.Index(rendered, ")")
	inner := rendered[open+1 : close]
	var cols []string
	for _, c := range strings.Split(inner, ",") {
		cols = append(cols, strings.TrimSpace(c))
	}
	assert.Equal(t, p.Columns, cols)
}

func TestRenderBatch_ListsEveryProposal(t *testing.T) {
	out := ddl.RenderBatch([]synth.IndexProposal{
		{Relation: "users", Columns: []string{"email"}, Kind: "btree"},
		{Relation: "orders", Columns: []string{"status"}, Kind: "btree"},
	})
	assert.Contains(t, out, "CREATE INDEX STATEMENTS")
	assert.Contains(t, out, "idx_users_email")
	assert.Contains(t, out, "idx_orders_status")
}
