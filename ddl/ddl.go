// Package ddl renders an IndexProposal to executable CREATE INDEX DDL.
package ddl

import (
	"fmt"
	"strings"

	"github.com/Sami-hat/query-optimiser/synth"
)

// Name generates the canonical index name: idx_<relation>_<col1_col2_...>,
// with _partial appended when a partial predicate is present and _covering
// when include columns are present, partial before covering when both apply.
func Name(p synth.IndexProposal) string {
	var b strings.Builder
	b.WriteString("idx_")
	b.WriteString(p.Relation)
	for _, c := range p.Columns {
		b.WriteString("_")
		b.WriteString(c)
	}
	if p.PartialPredicate != "" {
		b.WriteString("_partial")
	}
	if len(p.IncludeColumns) > 0 {
		b.WriteString("_covering")
	}
	return b.String()
}

// Render produces the canonical DDL statement for one proposal:
//
//	CREATE INDEX <name> ON <relation> [USING <kind>] (<col1, col2, ...>)
//	  [INCLUDE (<inc1, inc2, ...>)]
//	  [WHERE <partial_predicate>];
//
// USING btree is omitted since btree is the server's default index kind.
func Render(p synth.IndexProposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE INDEX %s ON %s ", Name(p), p.Relation)
	if p.Kind != "" && p.Kind != "btree" {
		fmt.Fprintf(&b, "USING %s ", p.Kind)
	}
	fmt.Fprintf(&b, "(%s)", strings.Join(p.Columns, ", "))
	if len(p.IncludeColumns) > 0 {
		fmt.Fprintf(&b, " INCLUDE (%s)", strings.Join(p.IncludeColumns, ", "))
	}
	if p.PartialPredicate != "" {
		fmt.Fprintf(&b, " WHERE %s", p.PartialPredicate)
	}
	b.WriteString(";")
	return b.String()
}

// RenderBatch concatenates every proposal's DDL, in the order given, under a
// fixed banner — the Go equivalent of the --show-ddl listing the reference
// implementation prints ("CREATE INDEX STATEMENTS" header followed by each
// recommendation's DDL).
func RenderBatch(proposals []synth.IndexProposal) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\nCREATE INDEX STATEMENTS\n")
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\n-- Copy and paste to apply recommendations:\n\n")
	for _, p := range proposals {
		b.WriteString(Render(p))
		b.WriteString("\n")
	}
	return b.String()
}
