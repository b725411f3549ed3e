package eval

import (
	"encoding/json"
	"fmt"
	"io"

	"gonum.org/v1/gonum/stat"

	"github.com/vexsearch/vexroute/internal/metrics"
	"github.com/vexsearch/vexroute/internal/query"
	"github.com/vexsearch/vexroute/internal/vector"
)

// FailedQuery identifies a query that produced no answer.
type FailedQuery struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Report summarizes one evaluation run.
type Report struct {
	RunID      string        `json:"run_id,omitempty"`
	Router     string        `json:"router,omitempty"`
	K          int           `json:"k"`
	ProbeWidth int           `json:"probe_width,omitempty"`
	Queries    int           `json:"queries"`
	Succeeded  int           `json:"succeeded"`
	Failed     []FailedQuery `json:"failed,omitempty"`
	Recall     float64       `json:"recall"`
	MRR        float64       `json:"mrr"`
	MeanProbed float64       `json:"mean_probed"`
	// RoutingAccuracy is set only when training labels were supplied.
	RoutingAccuracy *float64 `json:"routing_accuracy,omitempty"`
}

// Evaluate scores a batch of query results against ground truth. Results are
// matched to ground truth rows by position. Failed queries, and queries with
// an empty ground truth row, are listed in Report.Failed and left out of every
// mean.
func Evaluate(results []query.Result, groundTruth [][]int32, k int) (*Report, error) {
	if err := checkShape(len(results), len(groundTruth), k); err != nil {
		return nil, err
	}

	report := &Report{K: k, Queries: len(results)}
	answers := make([][]int32, 0, len(results))
	truth := make([][]int32, 0, len(results))
	probed := make([]float64, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			report.Failed = append(report.Failed, FailedQuery{Index: r.Index, Error: r.Err.Error()})
			continue
		}
		if len(groundTruth[i]) == 0 {
			report.Failed = append(report.Failed, FailedQuery{Index: r.Index, Error: "no ground truth neighbors"})
			continue
		}
		answers = append(answers, r.Ordinals)
		truth = append(truth, groundTruth[i])
		probed = append(probed, float64(len(r.Probed)))
	}
	report.Succeeded = len(answers)
	if report.Succeeded == 0 {
		return report, nil
	}

	var err error
	if report.Recall, err = RecallAtK(answers, truth, k); err != nil {
		return nil, err
	}
	if report.MRR, err = MRRAtK(answers, truth, k); err != nil {
		return nil, err
	}
	report.MeanProbed = stat.Mean(probed, nil)
	return report, nil
}

// ScoreRouting records the routing accuracy of results against labels, one
// per result.
func (r *Report) ScoreRouting(results []query.Result, labels []int32) error {
	if len(results) != len(labels) {
		return fmt.Errorf("%w: %d results for %d labels", vector.ErrInvalidInput, len(results), len(labels))
	}
	routes := make([][]int, 0, len(results))
	kept := make([]int32, 0, len(labels))
	for i, res := range results {
		if res.Err != nil {
			continue
		}
		routes = append(routes, res.Probed)
		kept = append(kept, labels[i])
	}
	acc, err := RoutingAccuracy(routes, kept)
	if err != nil {
		return err
	}
	r.RoutingAccuracy = &acc
	return nil
}

// Publish exports recall and MRR as gauges labeled by router.
func (r *Report) Publish() {
	metrics.SetEvaluation(r.Router, r.Recall, r.MRR)
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
