package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/freeeve/machparse"
	"github.com/freeeve/machparse/ast"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/Sami-hat/query-optimiser/errs"
	"github.com/Sami-hat/query-optimiser/planwalk"
)

// PgGateway is the Gateway implementation backed by a live Postgres
// connection pool. It never holds a connection longer than one method call:
// every method acquires from the pool, issues its query (Plan issues its
// statements inside one transaction), and returns the connection on every
// exit path including errors.
type PgGateway struct {
	pool            *pgxpool.Pool
	log             *logrus.Entry
	statementTimeout time.Duration
}

// NewPgGateway wraps an already-configured pool. statementTimeout bounds
// every plan request issued through this gateway; zero disables the bound.
func NewPgGateway(pool *pgxpool.Pool, log *logrus.Entry, statementTimeout time.Duration) *PgGateway {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PgGateway{pool: pool, log: log, statementTimeout: statementTimeout}
}

func (g *PgGateway) ColumnStats(ctx context.Context, relation, column string) ColumnStats {
	var nullFrac, nDistinct, correlation float64
	err := g.pool.QueryRow(ctx, `
		SELECT null_frac, n_distinct, correlation
		FROM pg_stats
		WHERE tablename = $1 AND attname = $2
	`, relation, column).Scan(&nullFrac, &nDistinct, &correlation)
	if err != nil {
		g.log.WithFields(logrus.Fields{"relation": relation, "column": column, "error": err}).
			Debug("column stats unavailable, degrading to default")
		return DefaultColumnStats()
	}

	rowCount := g.RowCount(ctx, relation)
	return ColumnStats{
		Distinct:     NormalizeDistinct(nDistinct, rowCount),
		NullFraction: nullFrac,
		Correlation:  correlation,
		RowCount:     rowCount,
		HasStats:     true,
	}
}

func (g *PgGateway) RowCount(ctx context.Context, relation string) int64 {
	var rows int64
	err := g.pool.QueryRow(ctx, `
		SELECT GREATEST(n_live_tup, 0) FROM pg_stat_user_tables WHERE relname = $1
	`, relation).Scan(&rows)
	if err != nil {
		return 0
	}
	return rows
}

func (g *PgGateway) ExistingIndexes(ctx context.Context, relation string) []IndexDef {
	var rows pgx.Rows
	var err error
	if relation == "" {
		rows, err = g.pool.Query(ctx, `SELECT schemaname, tablename, indexname, indexdef FROM pg_indexes`)
	} else {
		rows, err = g.pool.Query(ctx, `
			SELECT schemaname, tablename, indexname, indexdef FROM pg_indexes WHERE tablename = $1
		`, relation)
	}
	if err != nil {
		g.log.WithFields(logrus.Fields{"relation": relation, "error": err}).Debug("existing indexes unavailable")
		return nil
	}
	defer rows.Close()

	var defs []IndexDef
	for rows.Next() {
		var d IndexDef
		var indexdef string
		if err := rows.Scan(&d.Schema, &d.Relation, &d.Name, &indexdef); err != nil {
			continue
		}
		d.Columns = ParseIndexColumns(indexdef)
		defs = append(defs, d)
	}
	return defs
}

func (g *PgGateway) TableIOCounters(ctx context.Context, relation string) (writes, reads int64) {
	var inserts, updates, deletes, seqScans, idxScans int64
	err := g.pool.QueryRow(ctx, `
		SELECT n_tup_ins, n_tup_upd, n_tup_del, seq_scan, idx_scan
		FROM pg_stat_user_tables WHERE relname = $1
	`, relation).Scan(&inserts, &updates, &deletes, &seqScans, &idxScans)
	if err != nil {
		return 0, 0
	}
	return inserts + updates + deletes, seqScans + idxScans
}

// Plan obtains a structured plan via EXPLAIN (FORMAT JSON, ANALYZE), issued
// inside a transaction that is always rolled back and bounded by a
// statement timeout, per the read-only-with-rollback safety rule. Only
// SELECT (or WITH ... SELECT) is accepted; anything else is refused
// outright with InvalidQuery.
func (g *PgGateway) Plan(ctx context.Context, sql string) (planwalk.Plan, error) {
	if !isReadOnlySelect(sql) {
		return planwalk.Plan{}, errs.InvalidQuery.New("only SELECT statements may be planned")
	}

	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return planwalk.Plan{}, errs.PlanUnavailable.New(err.Error())
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if g.statementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", g.statementTimeout.Milliseconds())); err != nil {
			return planwalk.Plan{}, errs.PlanUnavailable.New(err.Error())
		}
	}

	var raw string
	err = tx.QueryRow(ctx, "EXPLAIN (FORMAT JSON, ANALYZE) "+sql).Scan(&raw)
	if err != nil {
		return planwalk.Plan{}, errs.PlanUnavailable.New(err.Error())
	}

	var docs []planwalk.Plan
	if err := json.Unmarshal([]byte(raw), &docs); err != nil || len(docs) == 0 {
		return planwalk.Plan{}, errs.PlanUnavailable.New("could not parse EXPLAIN output")
	}
	return docs[0], nil
}

func (g *PgGateway) TopQueries(ctx context.Context, limit int) ([]QueryStat, error) {
	rows, err := g.pool.Query(ctx, `
		SELECT query, calls, mean_exec_time, total_exec_time
		FROM pg_stat_statements
		ORDER BY total_exec_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errs.CatalogUnavailable.New(err.Error())
	}
	defer rows.Close()

	var stats []QueryStat
	for rows.Next() {
		var q QueryStat
		if err := rows.Scan(&q.Query, &q.Calls, &q.MeanTimeMs, &q.TotalTimeMs); err != nil {
			continue
		}
		stats = append(stats, q)
	}
	if err := rows.Err(); err != nil {
		return stats, errs.CatalogUnavailable.New(err.Error())
	}
	return stats, nil
}

// isReadOnlySelect parses sql and reports whether it is a plain SELECT, or
// a WITH clause whose outer statement is a SELECT. A textual WITH/SELECT
// prefix isn't enough on its own: `WITH x AS (...) DELETE FROM t ...` starts
// with WITH but is a write, so the outer statement type is what decides it.
func isReadOnlySelect(sql string) bool {
	stmt, err := machparse.Parse(sql)
	if err != nil {
		return false
	}
	_, ok := stmt.(*ast.SelectStmt)
	return ok
}
