package api

import (
	"github.com/phenomap/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CellCount int    `json:"cell_count"`
}

// DatasetRegistry holds loaded datasets for all configured sources.
type DatasetRegistry struct {
	datasets       map[string]*service.Dataset
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		datasets:       make(map[string]*service.Dataset),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds a dataset.
func (r *DatasetRegistry) Register(datasetID string, ds *service.Dataset) {
	r.datasets[datasetID] = ds
}

// Get returns the dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.Dataset {
	return r.datasets[datasetID]
}

// Default returns the default dataset.
func (r *DatasetRegistry) Default() *service.Dataset {
	return r.datasets[r.defaultDataset]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "PhenoMap"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		// Use the config ID as the display name (user-defined in server.yaml)
		info := DatasetInfo{ID: id, Name: id}
		if ds := r.datasets[id]; ds != nil {
			info.CellCount = ds.Table().NumRows()
		}
		infos = append(infos, info)
	}
	return infos
}
