// Package service provides business logic for the cell analysis server.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/phenomap/server/internal/data/cellseg"
	"github.com/phenomap/server/internal/nn"
	"github.com/phenomap/server/internal/selector"
)

// PhenotypePair is an ordered (from, to) pair of phenotype names. Each name
// resolves either to a literal phenotype label or to a virtual phenotype
// rule.
type PhenotypePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PairOptions control a pairwise analysis run.
type PairOptions struct {
	// PixelsPerMicron converts output distances from pixel units to
	// microns when > 0. Positions stay in native units.
	PixelsPerMicron float64

	// IncludeMutual adds the mutual nearest-neighbor relation per pair.
	IncludeMutual bool

	// Radii requests count-within-radius summaries, in output distance
	// units.
	Radii []float64

	// Colors, when non-nil, must cover every phenotype name referenced by
	// the pairs. Validated before any distance computation so that a
	// downstream visualization never fails late.
	Colors map[string]string

	// Workers bounds the number of pairs computed concurrently. Defaults
	// to the number of CPUs.
	Workers int
}

// RadiusSummary reports count-within-radius results for one pair and radius.
type RadiusSummary struct {
	Radius     float64 `json:"radius"`
	FromCount  int     `json:"from_count"`
	ToCount    int     `json:"to_count"`
	FromWith   int     `json:"from_with"`
	WithinMean float64 `json:"within_mean"`
	Counts     []int   `json:"counts"`
}

// PairResult holds the distance relations computed for one phenotype pair.
type PairResult struct {
	Pair      PhenotypePair   `json:"pair"`
	FromCount int             `json:"from_count"`
	ToCount   int             `json:"to_count"`
	Nearest   nn.Relation     `json:"nearest"`
	Mutual    nn.Relation     `json:"mutual,omitempty"`
	Radii     []RadiusSummary `json:"radii,omitempty"`
}

// ConfigError reports a pair/color/phenotype-name mismatch detected before
// any distance computation.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// RunPairs computes one PairResult per phenotype pair. Pairs are independent
// and run on a bounded worker pool; results keep the input pair order. The
// table is shared read-only across workers. An error in any pair aborts the
// run and is surfaced to the caller.
func RunPairs(ctx context.Context, t *cellseg.Table, pairs []PhenotypePair, rules selector.RuleSet, opts PairOptions) ([]PairResult, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	names := pairNames(pairs)
	resolved, err := selector.Resolve(names, rules)
	if err != nil {
		return nil, err
	}

	if opts.Colors != nil {
		for _, name := range names {
			if _, ok := opts.Colors[name]; !ok {
				return nil, &ConfigError{Reason: fmt.Sprintf("no color defined for phenotype %q", name)}
			}
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(pairs) {
		workers = len(pairs)
	}

	results := make([]PairResult, len(pairs))
	jobs := make(chan int)

	var mu sync.Mutex
	var firstErr error
	setErr := func(e error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = e
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if failed() {
					continue
				}
				if err := ctx.Err(); err != nil {
					setErr(err)
					continue
				}
				res, err := runPair(t, pairs[i], resolved, opts)
				if err != nil {
					setErr(err)
					continue
				}
				results[i] = res
			}
		}()
	}

	for i := range pairs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

func runPair(t *cellseg.Table, pair PhenotypePair, rules selector.RuleSet, opts PairOptions) (PairResult, error) {
	fromMask, err := selector.Evaluate(t, rules[pair.From])
	if err != nil {
		return PairResult{}, fmt.Errorf("pair %s -> %s: %w", pair.From, pair.To, err)
	}
	toMask, err := selector.Evaluate(t, rules[pair.To])
	if err != nil {
		return PairResult{}, fmt.Errorf("pair %s -> %s: %w", pair.From, pair.To, err)
	}

	fromPts := nn.PointsFrom(t, fromMask)
	toPts := nn.PointsFrom(t, toMask)

	// Output distances are scaled here; the engine itself is unit-agnostic.
	scale := 1.0
	if opts.PixelsPerMicron > 0 {
		scale = 1.0 / opts.PixelsPerMicron
	}

	res := PairResult{
		Pair:      pair,
		FromCount: len(fromPts),
		ToCount:   len(toPts),
		Nearest:   nn.Nearest(fromPts, toPts).ScaleDistances(scale),
	}

	if opts.IncludeMutual {
		res.Mutual = nn.Mutual(fromPts, toPts).ScaleDistances(scale)
	}

	for _, radius := range opts.Radii {
		// Radii arrive in output units; the engine works in pixels.
		counts := nn.CountWithin(fromPts, toPts, radius/scale)
		res.Radii = append(res.Radii, summarizeCounts(radius, counts, len(toPts)))
	}

	return res, nil
}

// summarizeCounts aggregates per-cell radius counts. WithinMean is the mean
// count over from-cells that have at least one to-cell in range.
func summarizeCounts(radius float64, counts []int, toCount int) RadiusSummary {
	s := RadiusSummary{
		Radius:    radius,
		FromCount: len(counts),
		ToCount:   toCount,
		Counts:    counts,
	}
	total := 0
	for _, c := range counts {
		if c > 0 {
			s.FromWith++
			total += c
		}
	}
	if s.FromWith > 0 {
		s.WithinMean = float64(total) / float64(s.FromWith)
	}
	return s
}

// pairNames returns the distinct phenotype names referenced by pairs, in
// first-occurrence order.
func pairNames(pairs []PhenotypePair) []string {
	seen := make(map[string]bool, len(pairs)*2)
	var names []string
	for _, p := range pairs {
		for _, n := range []string{p.From, p.To} {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}
