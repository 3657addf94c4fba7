// Command indexadvisor is a thin demo binary wiring a live Postgres pool
// into the analyzer core. It is a caller of the core, not part of it: the
// HTTP surface, auth, and rate limiting spec.md declares out of scope stay
// out of scope here too.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	optimiser "github.com/Sami-hat/query-optimiser"
	"github.com/Sami-hat/query-optimiser/batch"
	"github.com/Sami-hat/query-optimiser/catalog"
	"github.com/Sami-hat/query-optimiser/ddl"
)

type queryFlags []string

func (q *queryFlags) String() string { return strings.Join(*q, ", ") }
func (q *queryFlags) Set(v string) error {
	*q = append(*q, v)
	return nil
}

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
		workers   = flag.Int("workers", 10, "bounded worker pool size, clamped to [1, 20]")
		minCalls  = flag.Int64("min-calls", 5, "minimum pg_stat_statements calls when pulling from the query source")
		minMeanMs = flag.Float64("min-mean-ms", 10, "minimum mean execution time (ms) when pulling from the query source")
		limit     = flag.Int("limit", 100, "max queries to pull from the query source")
		timeout   = flag.Duration("statement-timeout", 5*time.Second, "per-plan-request statement timeout")
		showDDL   = flag.Bool("ddl", false, "print CREATE INDEX statements for the top proposals")
	)
	var queries queryFlags
	flag.Var(&queries, "query", "a SQL query to analyze (repeatable); when omitted, queries are pulled from the query-statistics view")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	if strings.TrimSpace(*dsn) == "" {
		log.Fatal("-dsn (or DATABASE_URL) is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer pool.Close()

	gw := catalog.NewPgGateway(pool, log, *timeout)
	engine := optimiser.NewEngine(gw, optimiser.Config{
		Workers:   *workers,
		MinCalls:  *minCalls,
		MinMeanMs: *minMeanMs,
		Limit:     *limit,
	}, log)

	if len(queries) == 0 {
		queries, err = batch.FetchQueries(ctx, gw, *minCalls, *minMeanMs, *limit)
		if err != nil {
			log.WithError(err).Fatal("failed to pull queries from the query-statistics view")
		}
	}
	if len(queries) == 0 {
		log.Fatal("no queries to analyze: pass -query or populate the query-statistics view")
	}

	analyzer := batch.NewAnalyzer(engine, *workers)
	report := analyzer.Analyse(ctx, queries, func(completed, total int) {
		log.WithFields(logrus.Fields{"completed": completed, "total": total}).Debug("batch progress")
	})

	fmt.Println(report.Summary())
	for _, p := range report.TopProposals {
		line := fmt.Sprintf("  [%d] %s(%s): %s", p.Priority, p.Relation, strings.Join(p.Columns, ", "), p.Reason)
		if p.Warning != "" {
			line += " — " + p.Warning
		}
		fmt.Println(line)
	}

	if *showDDL {
		fmt.Println()
		fmt.Println(ddl.RenderBatch(report.TopProposals))
	}
}
