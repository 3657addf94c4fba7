// Package planwalk locates full-table scans inside a structured execution
// plan tree shaped like Postgres's EXPLAIN (FORMAT JSON) output. It is pure:
// it never issues a plan request itself, only walks one already obtained
// from the database gateway.
package planwalk

// SeqScanNodeType is the canonical plan node type name for a full-table scan.
const SeqScanNodeType = "Seq Scan"

// PlanNode mirrors the shape of a single node in Postgres's
// EXPLAIN (FORMAT JSON) output closely enough to carry everything the
// synthesizer needs, without requiring the gateway to produce Postgres JSON
// verbatim — any gateway adapter can populate this struct from its own
// plan representation.
type PlanNode struct {
	NodeType     string `json:"Node Type"`
	RelationName string `json:"Relation Name,omitempty"`
	Alias        string `json:"Alias,omitempty"`

	StartupCost float64 `json:"Startup Cost"`
	TotalCost   float64 `json:"Total Cost"`
	PlanRows    int64   `json:"Plan Rows"`
	PlanWidth   int64   `json:"Plan Width"`

	ActualStartupTime   *float64 `json:"Actual Startup Time,omitempty"`
	ActualTotalTime     *float64 `json:"Actual Total Time,omitempty"`
	ActualRows          *int64   `json:"Actual Rows,omitempty"`
	ActualLoops         *int64   `json:"Actual Loops,omitempty"`
	RowsRemovedByFilter *int64   `json:"Rows Removed by Filter,omitempty"`
	Filter              string   `json:"Filter,omitempty"`

	Plans []PlanNode `json:"Plans,omitempty"`
}

// Plan is the top-level document a gateway's plan request returns: a root
// node plus planner/executor metrics that sit outside the node tree.
type Plan struct {
	Plan          PlanNode `json:"Plan"`
	PlanningTime  *float64 `json:"Planning Time,omitempty"`
	ExecutionTime *float64 `json:"Execution Time,omitempty"`
}

// PlanScan is emitted for each full-table scan found during traversal.
type PlanScan struct {
	Relation            string
	Alias               string
	ActualRows          int64
	RowsRemovedByFilter int64
	Cost                float64
	StartupCost         float64
	Filter              string
	Time                float64
	HasTime             bool
}

// Metrics carries the top-level execution metrics extracted alongside the
// scan list: execution time, planning time, top-level cost, node type, and
// top-level actual rows.
type Metrics struct {
	NodeType           string
	TopLevelCost       float64
	TopLevelActualRows int64
	PlanningTimeMs      float64
	ExecutionTimeMs     float64
	HasPlanningTime     bool
	HasExecutionTime    bool
}

// Walk performs a depth-first, pre-order traversal of the plan tree rooted
// at p.Plan, emitting a PlanScan for every "Seq Scan" node encountered. Every
// node is recursed into regardless of its type; the same relation may
// surface more than once (self-joins) and each occurrence is emitted
// independently.
func Walk(p Plan) ([]PlanScan, Metrics) {
	metrics := Metrics{
		NodeType:     p.Plan.NodeType,
		TopLevelCost: p.Plan.TotalCost,
	}
	if p.Plan.ActualRows != nil {
		metrics.TopLevelActualRows = *p.Plan.ActualRows
	}
	if p.PlanningTime != nil {
		metrics.PlanningTimeMs = *p.PlanningTime
		metrics.HasPlanningTime = true
	}
	if p.ExecutionTime != nil {
		metrics.ExecutionTimeMs = *p.ExecutionTime
		metrics.HasExecutionTime = true
	}

	var scans []PlanScan
	walkNode(p.Plan, &scans)
	return scans, metrics
}

func walkNode(n PlanNode, scans *[]PlanScan) {
	if n.NodeType == SeqScanNodeType {
		scan := PlanScan{
			Relation:    n.RelationName,
			Alias:       n.Alias,
			Cost:        n.TotalCost,
			StartupCost: n.StartupCost,
			Filter:      n.Filter,
		}
		if n.ActualRows != nil {
			scan.ActualRows = *n.ActualRows
		}
		if n.RowsRemovedByFilter != nil {
			scan.RowsRemovedByFilter = *n.RowsRemovedByFilter
		}
		if n.ActualTotalTime != nil {
			scan.Time = *n.ActualTotalTime
			scan.HasTime = true
		}
		*scans = append(*scans, scan)
	}

	for _, child := range n.Plans {
		walkNode(child, scans)
	}
}
