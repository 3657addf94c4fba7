// Package errs defines the error kinds shared across the analyzer core.
package errs

import (
	errors "gopkg.in/src-d/go-errors.v1"
)

// InvalidQuery is raised by the AST walker for an empty, unparseable or
// non-SELECT SQL string, and by a gateway's Plan when a non-SELECT statement
// is submitted for planning.
var InvalidQuery = errors.NewKind("invalid query: %s")

// PlanUnavailable is raised when the database gateway could not obtain a
// structured plan for a query.
var PlanUnavailable = errors.NewKind("plan unavailable: %s")

// CatalogUnavailable is raised when a query against the catalog fails
// outright. PgGateway.TopQueries returns it to its caller; the per-column
// statistics lookups do not use it and degrade to the "no stats" default
// instead.
var CatalogUnavailable = errors.NewKind("catalog unavailable: %s")

// AnalysisFailure wraps a per-query failure inside a batch result. It never
// crosses the batch boundary as a returned error; it is captured into the
// failing AnalysisResult's Err field.
var AnalysisFailure = errors.NewKind("analysis failed: %s")
