// Package astwalk extracts a ParsedQuery from a SQL SELECT statement: the
// relations it touches, their aliases, and the columns referenced in each
// clause together with the predicate class each one appears under. It is
// pure — it never touches the network or the database — and depends only on
// a SQL parser.
package astwalk

import (
	"strings"

	"github.com/freeeve/machparse"
	"github.com/freeeve/machparse/ast"
	"github.com/freeeve/machparse/token"

	"github.com/Sami-hat/query-optimiser/errs"
)

// Role identifies which clause a column reference was found in.
type Role int

const (
	RoleWhere Role = iota
	RoleOrderBy
	RoleJoin
)

// PredicateClass classifies the binary operator dominating a column
// reference inside a WHERE predicate.
type PredicateClass int

const (
	PredEquality PredicateClass = iota
	PredRange
	PredOther
)

func (p PredicateClass) String() string {
	switch p {
	case PredEquality:
		return "equality"
	case PredRange:
		return "range"
	default:
		return "other"
	}
}

// ColumnTableKey is the composite key of the per-role column-to-relation map.
type ColumnTableKey struct {
	Role   Role
	Column string
}

// ParsedQuery is the AST walker's output: the relations a SELECT touches,
// their aliases, and per-clause column sets annotated with predicate class
// and constant-filter literals.
type ParsedQuery struct {
	Tables []string
	Aliases map[string]string

	WhereColumns    map[string]struct{}
	OrderByColumns  map[string]struct{}
	JoinColumns     map[string]struct{}
	ColumnTable     map[ColumnTableKey]string
	PredicateTypes  map[string]PredicateClass
	ConstantFilters map[string]string
	// ConstantFilterOrder preserves the order constant filters were first
	// discovered in, for building the partial predicate in synth.
	ConstantFilterOrder []string

	// WhereColumnOrder preserves first-discovery order of WHERE columns,
	// since the synthesizer's column-selection step needs a deterministic
	// starting order before its own class-based reordering runs.
	WhereColumnOrder []string

	// JoinColumnOrder preserves the traversal order join columns were
	// discovered in, paired with the relation they resolved to, for
	// deterministic join-driven proposal emission (spec 4.4 step 5).
	JoinColumnOrder []JoinColumnRef

	// OrderByExprOrder preserves the declared ORDER BY column order for
	// appending columns not already present in a composite index.
	OrderByExprOrder []string
}

// JoinColumnRef pairs a join column with the relation it was resolved to,
// in the order the AST walker encountered it.
type JoinColumnRef struct {
	Column   string
	Relation string
}

func newParsedQuery() *ParsedQuery {
	return &ParsedQuery{
		Aliases:         map[string]string{},
		WhereColumns:    map[string]struct{}{},
		OrderByColumns:  map[string]struct{}{},
		JoinColumns:     map[string]struct{}{},
		ColumnTable:     map[ColumnTableKey]string{},
		PredicateTypes:  map[string]PredicateClass{},
		ConstantFilters: map[string]string{},
	}
}

type walker struct {
	pq *ParsedQuery
}

// Walk parses sql as a SELECT statement and extracts a ParsedQuery. An
// empty string, an unparseable string, or a statement outside the supported
// subset (SELECT with FROM/WHERE/ORDER BY/JOIN) fails with errs.InvalidQuery.
func Walk(sql string) (*ParsedQuery, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, errs.InvalidQuery.New("empty query")
	}

	stmt, err := machparse.Parse(sql)
	if err != nil {
		return nil, errs.InvalidQuery.New(err.Error())
	}

	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return nil, errs.InvalidQuery.New("only SELECT statements are supported")
	}

	w := &walker{pq: newParsedQuery()}

	if sel.With != nil {
		for _, cte := range sel.With.CTEs {
			if inner, ok := cte.Query.(*ast.SelectStmt); ok {
				w.walkSelect(inner)
			}
		}
	}
	w.walkSelect(sel)

	return w.pq, nil
}

// walkSelect feeds one SELECT's FROM/WHERE/ORDER BY into the walker's
// accumulating ParsedQuery. Called once for the outer statement and once
// per CTE whose body is itself a plain SELECT, so a query's own predicates
// and its CTEs' predicates land in the same column sets.
func (w *walker) walkSelect(sel *ast.SelectStmt) {
	if sel.From != nil {
		w.walkFrom(sel.From)
	}
	if sel.Where != nil {
		w.walkWhere(sel.Where, PredOther)
	}
	for _, ob := range sel.OrderBy {
		w.walkOrderBy(ob.Expr)
	}
}

func (w *walker) addTable(name, alias string) {
	if name == "" {
		return
	}
	w.pq.Tables = append(w.pq.Tables, name)
	if alias == "" {
		w.pq.Aliases[name] = name
	} else {
		w.pq.Aliases[alias] = name
	}
}

func (w *walker) resolveAlias(qualifier string) string {
	if rel, ok := w.pq.Aliases[qualifier]; ok {
		return rel
	}
	return qualifier
}

// walkFrom enumerates every relation reachable from a FROM item, recursing
// into JOIN expressions (step 5: push a join context onto ON/USING, a from
// context onto both sides) and parenthesized/list table expressions.
func (w *walker) walkFrom(te ast.TableExpr) {
	switch t := te.(type) {
	case *ast.AliasedTableExpr:
		if tn, ok := t.Expr.(*ast.TableName); ok {
			w.addTable(tn.Name(), t.Alias)
		} else {
			w.walkFrom(t.Expr)
		}
	case *ast.TableName:
		w.addTable(t.Name(), "")
	case *ast.JoinExpr:
		w.walkFrom(t.Left)
		w.walkFrom(t.Right)
		if t.On != nil {
			w.walkJoinCond(t.On)
		}
		if len(t.Using) > 0 {
			left := relationName(t.Left)
			right := relationName(t.Right)
			for _, col := range t.Using {
				w.pq.JoinColumns[col] = struct{}{}
				for _, rel := range []string{left, right} {
					if rel == "" {
						continue
					}
					w.pq.ColumnTable[ColumnTableKey{RoleJoin, col}] = rel
					w.pq.JoinColumnOrder = append(w.pq.JoinColumnOrder, JoinColumnRef{Column: col, Relation: rel})
				}
			}
		}
	case *ast.ParenTableExpr:
		w.walkFrom(t.Expr)
	case *ast.TableList:
		for _, sub := range t.Tables {
			w.walkFrom(sub)
		}
	default:
		// Subqueries and other table expressions carry no relation name the
		// core can index; skip silently rather than failing the walk.
	}
}

// relationName best-effort resolves the underlying table name of one side
// of a JOIN, for attributing a USING(...) column to both relations it
// joins. Returns "" for anything that isn't ultimately a plain table
// reference (a subquery or a nested join has no single owning relation).
func relationName(te ast.TableExpr) string {
	switch t := te.(type) {
	case *ast.AliasedTableExpr:
		if tn, ok := t.Expr.(*ast.TableName); ok {
			return tn.Name()
		}
		return relationName(t.Expr)
	case *ast.TableName:
		return t.Name()
	case *ast.ParenTableExpr:
		return relationName(t.Expr)
	default:
		return ""
	}
}

// classifyOp maps a binary operator to the predicate class it establishes
// for its operands (spec step 3).
func classifyOp(op token.Token) PredicateClass {
	switch op {
	case token.EQ:
		return PredEquality
	case token.LT, token.GT, token.LTE, token.GTE, token.NEQ:
		return PredRange
	default:
		return PredOther
	}
}

func (w *walker) recordWhereColumn(col *ast.ColName, ctx PredicateClass) {
	c := col.Name()
	if _, seen := w.pq.WhereColumns[c]; !seen {
		w.pq.WhereColumnOrder = append(w.pq.WhereColumnOrder, c)
	}
	w.pq.WhereColumns[c] = struct{}{}

	if tbl := col.Table(); tbl != "" {
		w.pq.ColumnTable[ColumnTableKey{RoleWhere, c}] = w.resolveAlias(tbl)
	} else if len(w.pq.Tables) == 1 {
		w.pq.ColumnTable[ColumnTableKey{RoleWhere, c}] = w.pq.Tables[0]
	}

	if _, seen := w.pq.PredicateTypes[c]; !seen {
		w.pq.PredicateTypes[c] = ctx
	}
}

func renderLiteral(lit *ast.Literal) string {
	if lit.Type == ast.LiteralString {
		return "'" + lit.Value + "'"
	}
	return lit.Value
}

// walkWhere carries the operator context down the expression tree (step 3)
// and detects the asymmetric column = literal constant-filter shape (step 4).
func (w *walker) walkWhere(e ast.Expr, ctx PredicateClass) {
	switch n := e.(type) {
	case *ast.BinaryExpr:
		next := classifyOp(n.Op)
		w.walkWhere(n.Left, next)
		w.walkWhere(n.Right, next)

		if n.Op == token.EQ {
			if col, ok := n.Left.(*ast.ColName); ok {
				if lit, ok2 := n.Right.(*ast.Literal); ok2 {
					c := col.Name()
					if _, exists := w.pq.ConstantFilters[c]; !exists {
						w.pq.ConstantFilters[c] = renderLiteral(lit)
						w.pq.ConstantFilterOrder = append(w.pq.ConstantFilterOrder, c)
					}
				}
			}
		}
	case *ast.ColName:
		w.recordWhereColumn(n, ctx)
	case *ast.ParenExpr:
		w.walkWhere(n.Expr, ctx)
	case *ast.UnaryExpr:
		w.walkWhere(n.Operand, ctx)
	case *ast.InExpr:
		w.walkWhere(n.Expr, ctx)
		for _, v := range n.Values {
			w.walkWhere(v, ctx)
		}
	case *ast.BetweenExpr:
		w.walkWhere(n.Expr, PredRange)
		w.walkWhere(n.Low, PredRange)
		w.walkWhere(n.High, PredRange)
	case *ast.LikeExpr:
		w.walkWhere(n.Expr, PredOther)
		w.walkWhere(n.Pattern, PredOther)
	case *ast.IsExpr:
		w.walkWhere(n.Expr, PredOther)
	default:
		// Literals, params, subqueries: nothing further to record.
	}
}

// walkJoinCond extracts column references from a JOIN's ON condition into
// join_columns, resolving qualifiers through the alias map built so far.
// Per spec, join conditions do not feed predicate_types/constant_filters —
// those are WHERE-only.
func (w *walker) walkJoinCond(e ast.Expr) {
	switch n := e.(type) {
	case *ast.BinaryExpr:
		w.walkJoinCond(n.Left)
		w.walkJoinCond(n.Right)
	case *ast.ColName:
		c := n.Name()
		w.pq.JoinColumns[c] = struct{}{}

		var rel string
		if tbl := n.Table(); tbl != "" {
			rel = w.resolveAlias(tbl)
		} else if len(w.pq.Tables) == 1 {
			rel = w.pq.Tables[0]
		}
		if rel != "" {
			w.pq.ColumnTable[ColumnTableKey{RoleJoin, c}] = rel
			w.pq.JoinColumnOrder = append(w.pq.JoinColumnOrder, JoinColumnRef{Column: c, Relation: rel})
		}
	case *ast.ParenExpr:
		w.walkJoinCond(n.Expr)
	default:
	}
}

func (w *walker) walkOrderBy(e ast.Expr) {
	col, ok := e.(*ast.ColName)
	if !ok {
		return
	}
	c := col.Name()
	if _, seen := w.pq.OrderByColumns[c]; !seen {
		w.pq.OrderByExprOrder = append(w.pq.OrderByExprOrder, c)
	}
	w.pq.OrderByColumns[c] = struct{}{}

	if tbl := col.Table(); tbl != "" {
		w.pq.ColumnTable[ColumnTableKey{RoleOrderBy, c}] = w.resolveAlias(tbl)
	} else if len(w.pq.Tables) == 1 {
		w.pq.ColumnTable[ColumnTableKey{RoleOrderBy, c}] = w.pq.Tables[0]
	}
}

// RewritePlaceholders substitutes every positional placeholder ($N, ?, :name)
// with a syntactically valid bare integer literal so the query can be
// planned without leaking placeholders to the gateway. The rewrite is never
// persisted; callers discard the rewritten string after obtaining a plan.
func RewritePlaceholders(sql string) (string, error) {
	stmt, err := machparse.Parse(sql)
	if err != nil {
		return "", errs.InvalidQuery.New(err.Error())
	}

	rewritten := machparse.Rewrite(stmt, func(n ast.Node) ast.Node {
		if _, ok := n.(*ast.Param); ok {
			return &ast.Literal{Type: ast.LiteralInt, Value: "1"}
		}
		return n
	})

	return machparse.String(rewritten), nil
}
