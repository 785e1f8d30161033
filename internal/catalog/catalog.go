package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"insecurity-insight-pipeline/internal/model"
)

// ErrNotFound is returned when a dataset has never been published
var ErrNotFound = errors.New("dataset not found")

// Client is the subset of the catalog platform the pipeline uses
type Client interface {
	// Show reads a dataset by name
	Show(ctx context.Context, name string) (*model.Dataset, error)
	// Publish creates or updates a dataset and uploads every resource with a local file
	Publish(ctx context.Context, ds *model.Dataset) (*model.Dataset, error)
	// ReorderResources sets the resource order of a dataset by resource id
	ReorderResources(ctx context.Context, datasetID string, resourceIDs []string) error
}

// FetchDatasets reads every named dataset into a cache. A dataset not found under its
// name is looked up under its legacy names in order; when found it is cached under the
// current name with its id kept, so publishing renames it. Datasets that were never
// published are left out; any other error stops the read.
func FetchDatasets(ctx context.Context, c Client, names []string, legacy map[string][]string) (*model.DatasetCache, []string, error) {
	var found []*model.Dataset
	var missing []string
	for _, name := range names {
		ds, err := showAny(ctx, c, append([]string{name}, legacy[name]...))
		if errors.Is(err, ErrNotFound) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read dataset %s: %w", name, err)
		}
		ds.Name = name
		found = append(found, ds)
	}
	return model.NewDatasetCache(found...), missing, nil
}

func showAny(ctx context.Context, c Client, names []string) (*model.Dataset, error) {
	for _, name := range names {
		ds, err := c.Show(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return ds, err
	}
	return nil, fmt.Errorf("%s: %w", names[0], ErrNotFound)
}

// GeneratedFirst returns the resource ids of ds with the named resources first, in the
// order of names, followed by the remaining resources in their current order.
func GeneratedFirst(ds *model.Dataset, names []string) []string {
	ids := make([]string, 0, len(ds.Resources))
	used := make(map[string]bool)
	for _, name := range names {
		for _, r := range ds.Resources {
			if r.Name == name && !used[r.ID] {
				ids = append(ids, r.ID)
				used[r.ID] = true
			}
		}
	}
	for _, r := range ds.Resources {
		if !used[r.ID] {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// ------------------- In-memory catalog -------------------

// Memory is a Client backed by a map, used for offline runs and tests
type Memory struct {
	mu       sync.RWMutex
	datasets map[string]*model.Dataset
	uploads  map[string]int64 // resource id -> uploaded size
}

// NewMemory returns a catalog holding copies of the given datasets
func NewMemory(datasets ...*model.Dataset) *Memory {
	m := &Memory{
		datasets: make(map[string]*model.Dataset),
		uploads:  make(map[string]int64),
	}
	for _, ds := range datasets {
		m.datasets[ds.Name] = ds.Clone()
	}
	return m
}

// Show returns a copy of a stored dataset
func (m *Memory) Show(ctx context.Context, name string) (*model.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return ds.Clone(), nil
}

// Publish stores a copy of ds, assigning ids and recording the size of uploaded files
func (m *Memory) Publish(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := ds.Clone()
	if prev, ok := m.datasets[ds.Name]; ok {
		stored.ID = prev.ID
	} else if ds.ID != "" {
		// a dataset read under a legacy name is renamed
		for name, prev := range m.datasets {
			if prev.ID == ds.ID {
				delete(m.datasets, name)
			}
		}
	}
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	for i := range stored.Resources {
		r := &stored.Resources[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.FilePath != "" {
			info, err := os.Stat(r.FilePath)
			if err != nil {
				return nil, fmt.Errorf("failed to upload %s: %w", r.Name, err)
			}
			m.uploads[r.ID] = info.Size()
			r.FilePath = ""
		}
	}
	m.datasets[stored.Name] = stored
	return stored.Clone(), nil
}

// ReorderResources rearranges the resources of a dataset. Every id must belong to it.
func (m *Memory) ReorderResources(ctx context.Context, datasetID string, resourceIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ds := range m.datasets {
		if ds.ID != datasetID {
			continue
		}
		if len(resourceIDs) != len(ds.Resources) {
			return fmt.Errorf("reorder of %s lists %d of %d resources", ds.Name, len(resourceIDs), len(ds.Resources))
		}
		byID := make(map[string]model.Resource, len(ds.Resources))
		for _, r := range ds.Resources {
			byID[r.ID] = r
		}
		ordered := make([]model.Resource, 0, len(resourceIDs))
		for _, id := range resourceIDs {
			r, ok := byID[id]
			if !ok {
				return fmt.Errorf("resource %s is not part of %s", id, ds.Name)
			}
			ordered = append(ordered, r)
		}
		ds.Resources = ordered
		return nil
	}
	return fmt.Errorf("dataset id %s: %w", datasetID, ErrNotFound)
}

// UploadedSize reports the size of the file uploaded for a resource id
func (m *Memory) UploadedSize(resourceID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.uploads[resourceID]
	return n, ok
}
