package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phenomap/server/internal/service"
)

// minimalRouter builds a router with only a registry wired: no cache, no
// renderer, no job manager.
func minimalRouter(t *testing.T) http.Handler {
	t.Helper()

	ds := service.NewDataset(service.DatasetConfig{
		ID:    "default",
		Table: testCellTable(t),
	})
	registry := NewDatasetRegistry("default", []string{"default"}, "")
	registry.Register("default", ds)

	return NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func TestRouter_NoListen(t *testing.T) {
	router := minimalRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/d/default/api/phenotypes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if got, _ := payload["total"].(float64); got != 3 {
		t.Fatalf("unexpected legend size: got %v", payload["total"])
	}
}

func TestRouter_OptionalComponentsMissing(t *testing.T) {
	router := minimalRouter(t)

	t.Run("mapsNeedRenderer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/d/default/maps/phenotypes.png", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected %d, got %d", http.StatusInternalServerError, rec.Code)
		}
	})

	t.Run("jobsNeedManager", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/d/default/api/analysis/jobs/abc", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("expected %d, got %d", http.StatusNotImplemented, rec.Code)
		}
	})

	t.Run("statsWithoutCache", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/d/default/api/stats", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
		}
		var payload map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("failed to decode JSON: %v", err)
		}
		if _, ok := payload["cache"]; ok {
			t.Error("cache stats should be absent without a cache")
		}
	})
}
