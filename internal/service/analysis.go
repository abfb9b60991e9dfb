package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/phenomap/server/internal/jobstore"
	"github.com/phenomap/server/internal/selector"
)

// Analyzer runs pairwise analysis jobs submitted through the job manager.
type Analyzer struct {
	registry interface {
		Get(datasetID string) *Dataset
	}
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(registry interface{ Get(datasetID string) *Dataset }) *Analyzer {
	return &Analyzer{registry: registry}
}

// ExecuteAnalysisJob runs the pairwise analysis for a job (called by the
// JobManager worker).
func (a *Analyzer) ExecuteAnalysisJob(ctx context.Context, store *jobstore.Store, jobID string) error {
	job, err := store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	ds := a.registry.Get(job.Params.DatasetID)
	if ds == nil {
		return fmt.Errorf("dataset not found: %s", job.Params.DatasetID)
	}
	if len(job.Params.Pairs) == 0 {
		return &ConfigError{Reason: "job has no phenotype pairs"}
	}

	// Job-supplied rules extend the dataset's rule set; on a name clash the
	// job wins for this run only.
	rules := ds.Rules()
	if len(job.Params.Rules) > 0 {
		jobRules, err := selector.ParseRuleSet(job.Params.Rules)
		if err != nil {
			return err
		}
		merged := make(selector.RuleSet, len(rules)+len(jobRules))
		for k, v := range rules {
			merged[k] = v
		}
		for k, v := range jobRules {
			merged[k] = v
		}
		rules = merged
	}

	pairs := make([]PhenotypePair, len(job.Params.Pairs))
	for i, p := range job.Params.Pairs {
		pairs[i] = PhenotypePair{From: p.From, To: p.To}
	}

	opts := PairOptions{
		PixelsPerMicron: ds.PixelsPerMicron(),
		IncludeMutual:   job.Params.Mutual,
		Radii:           job.Params.Radii,
		Colors:          ds.Colors(),
	}

	// Pairs run one at a time here so progress is visible per pair; the
	// in-request path uses the worker pool instead.
	rows := make([]*jobstore.PairResultRow, 0, len(pairs))
	for i, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		store.UpdateJobProgress(jobID, "computing_pairs", i, len(pairs))

		results, err := RunPairs(ctx, ds.Table(), pairs[i:i+1], rules, opts)
		if err != nil {
			return err
		}
		row, err := resultRow(i, pair, results[0])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	store.UpdateJobProgress(jobID, "storing_results", len(pairs), len(pairs))
	if err := store.InsertPairResults(jobID, rows); err != nil {
		return fmt.Errorf("failed to store results: %w", err)
	}

	store.UpdateJobProgress(jobID, "done", len(pairs), len(pairs))
	return nil
}

// resultRow summarizes one pair result for storage.
func resultRow(index int, pair PhenotypePair, res PairResult) (*jobstore.PairResultRow, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pair result: %w", err)
	}

	row := &jobstore.PairResultRow{
		PairIndex:     index,
		FromPhenotype: pair.From,
		ToPhenotype:   pair.To,
		FromCount:     res.FromCount,
		ToCount:       res.ToCount,
		Matched:       res.Nearest.MatchedCount(),
		ResultJSON:    string(payload),
	}

	minD := math.Inf(1)
	maxD := math.Inf(-1)
	sum := 0.0
	n := 0
	for _, row := range res.Nearest {
		if row.Distance == nil {
			continue
		}
		d := *row.Distance
		sum += d
		n++
		if d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
	}
	if n > 0 {
		row.MeanDistance = sum / float64(n)
		row.MinDistance = minD
		row.MaxDistance = maxD
	}
	return row, nil
}
