package api

import (
	"github.com/wormcells-viz/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	NCells int    `json:"n_cells"`
	NGenes int    `json:"n_genes"`
}

// DatasetRegistry holds query services for all configured datasets.
type DatasetRegistry struct {
	services       map[string]*service.QueryService
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.QueryService),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds a query service for a dataset.
func (r *DatasetRegistry) Register(datasetID string, svc *service.QueryService) {
	r.services[datasetID] = svc
}

// Get returns the query service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.QueryService {
	return r.services[datasetID]
}

// Default returns the default dataset's query service.
func (r *DatasetRegistry) Default() *service.QueryService {
	return r.services[r.defaultDataset]
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
	return "wormcells-viz"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		svc := r.services[id]
		if svc == nil {
			continue
		}
		infos = append(infos, DatasetInfo{
			ID:     id,
			Name:   id,
			NCells: len(svc.Cells()),
			NGenes: len(svc.Genes()),
		})
	}
	return infos
}
