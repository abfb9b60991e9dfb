package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/phenomap/server/internal/jobstore"
)

type mapRegistry map[string]*Dataset

func (m mapRegistry) Get(datasetID string) *Dataset {
	return m[datasetID]
}

func testStore(t *testing.T) *jobstore.Store {
	t.Helper()
	store, err := jobstore.NewStore(filepath.Join(t.TempDir(), "jobs.sqlite"))
	if err != nil {
		t.Fatalf("failed to open job store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestJob(t *testing.T, store *jobstore.Store, params jobstore.AnalysisJobParams) string {
	t.Helper()
	job := &jobstore.AnalysisJob{
		ID:        "job-" + t.Name(),
		Status:    jobstore.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := store.CreateJob(job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	return job.ID
}

func TestExecuteAnalysisJob(t *testing.T) {
	store := testStore(t)
	analyzer := NewAnalyzer(mapRegistry{"test": testDataset(t)})

	jobID := createTestJob(t, store, jobstore.AnalysisJobParams{
		DatasetID: "test",
		Pairs: []jobstore.Pair{
			{From: "CK+", To: "CD8+"},
			{From: "CD8+", To: "CK+"},
		},
		Mutual: true,
		Radii:  []float64{1.5},
	})

	if err := analyzer.ExecuteAnalysisJob(context.Background(), store, jobID); err != nil {
		t.Fatalf("ExecuteAnalysisJob failed: %v", err)
	}

	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Progress.Phase != "done" || job.Progress.Done != 2 {
		t.Errorf("unexpected progress: %+v", job.Progress)
	}

	rows, err := store.QueryPairResults(jobID)
	if err != nil {
		t.Fatalf("QueryPairResults failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 result rows, got %d", len(rows))
	}

	row := rows[0]
	if row.PairIndex != 0 || row.FromPhenotype != "CK+" || row.ToPhenotype != "CD8+" {
		t.Errorf("unexpected first row: %+v", row)
	}
	if row.FromCount != 2 || row.ToCount != 2 || row.Matched != 2 {
		t.Errorf("unexpected summary: %+v", row)
	}
	// Pixel distances 3 and 4 at 2 px/um: 1.5 um and 2 um.
	if row.MinDistance != 1.5 || row.MaxDistance != 2 || row.MeanDistance != 1.75 {
		t.Errorf("unexpected distance summary: %+v", row)
	}

	var res PairResult
	if err := json.Unmarshal([]byte(row.ResultJSON), &res); err != nil {
		t.Fatalf("stored result does not decode: %v", err)
	}
	if len(res.Nearest) != 2 || len(res.Mutual) != 2 || len(res.Radii) != 1 {
		t.Errorf("unexpected stored result: %+v", res)
	}
}

func TestExecuteAnalysisJob_JobRulesWin(t *testing.T) {
	store := testStore(t)
	analyzer := NewAnalyzer(mapRegistry{"test": testDataset(t)})

	// The dataset defines "PDL1 High" as CK+ with PDL1 >= 4 (one cell); the
	// job redefines it as plain CK+ for this run.
	jobID := createTestJob(t, store, jobstore.AnalysisJobParams{
		DatasetID: "test",
		Pairs:     []jobstore.Pair{{From: "PDL1 High", To: "CD8+"}},
		Rules: map[string]interface{}{
			"PDL1 High": "CK+",
		},
	})

	if err := analyzer.ExecuteAnalysisJob(context.Background(), store, jobID); err != nil {
		t.Fatalf("ExecuteAnalysisJob failed: %v", err)
	}

	rows, err := store.QueryPairResults(jobID)
	if err != nil {
		t.Fatalf("QueryPairResults failed: %v", err)
	}
	if rows[0].FromCount != 2 {
		t.Errorf("job rule should override the dataset rule, got %d from-cells", rows[0].FromCount)
	}
}

func TestExecuteAnalysisJob_Errors(t *testing.T) {
	store := testStore(t)
	analyzer := NewAnalyzer(mapRegistry{"test": testDataset(t)})

	t.Run("unknownJob", func(t *testing.T) {
		if err := analyzer.ExecuteAnalysisJob(context.Background(), store, "missing"); err == nil {
			t.Fatal("expected error for unknown job")
		}
	})

	t.Run("unknownDataset", func(t *testing.T) {
		jobID := createTestJob(t, store, jobstore.AnalysisJobParams{
			DatasetID: "nope",
			Pairs:     []jobstore.Pair{{From: "CK+", To: "CD8+"}},
		})
		if err := analyzer.ExecuteAnalysisJob(context.Background(), store, jobID); err == nil {
			t.Fatal("expected error for unknown dataset")
		}
	})

	t.Run("noPairs", func(t *testing.T) {
		jobID := createTestJob(t, store, jobstore.AnalysisJobParams{DatasetID: "test"})
		if err := analyzer.ExecuteAnalysisJob(context.Background(), store, jobID); err == nil {
			t.Fatal("expected error for job without pairs")
		}
	})

	t.Run("badJobRule", func(t *testing.T) {
		jobID := createTestJob(t, store, jobstore.AnalysisJobParams{
			DatasetID: "test",
			Pairs:     []jobstore.Pair{{From: "X", To: "Y"}},
			Rules:     map[string]interface{}{"X": 12},
		})
		if err := analyzer.ExecuteAnalysisJob(context.Background(), store, jobID); err == nil {
			t.Fatal("expected error for malformed rule")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		jobID := createTestJob(t, store, jobstore.AnalysisJobParams{
			DatasetID: "test",
			Pairs:     []jobstore.Pair{{From: "CK+", To: "CD8+"}},
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := analyzer.ExecuteAnalysisJob(ctx, store, jobID); err == nil {
			t.Fatal("expected error for cancelled context")
		}
	})
}
