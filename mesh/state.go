package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FitTracker keeps the latest report and fitted meshes per request ID for the HTTP endpoints
type FitTracker struct {
	mu        sync.RWMutex
	reports   map[string]*FitReport
	results   map[string]*FitResult
	cachePath string // path to the reports JSON file; empty disables persistence
}

// NewFitTracker creates a new fit tracker
func NewFitTracker() *FitTracker {
	return &FitTracker{
		reports: make(map[string]*FitReport),
		results: make(map[string]*FitResult),
	}
}

// NewFitTrackerWithCache creates a tracker that persists reports to cachePath.
// If the file exists, the cached reports are loaded on creation. Meshes are
// not persisted, so restored fits have no preview until they are fitted again.
func NewFitTrackerWithCache(cachePath string) *FitTracker {
	ft := NewFitTracker()
	ft.cachePath = cachePath
	if cachePath != "" {
		reports, err := LoadReports(cachePath)
		if err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: ignoring fit report cache: %v", err)
		}
		for i := range reports {
			r := reports[i]
			ft.reports[r.ID] = &r
		}
	}
	return ft
}

// Record stores the report and, when the fit succeeded, its result
func (ft *FitTracker) Record(report FitReport, result *FitResult) {
	ft.mu.Lock()
	ft.reports[report.ID] = &report
	if result != nil {
		ft.results[report.ID] = result
	} else {
		delete(ft.results, report.ID)
	}
	cachePath := ft.cachePath
	ft.mu.Unlock()

	if cachePath != "" {
		if err := SaveReports(ft.GetReports(), cachePath); err != nil {
			log.Printf("Warning: failed to save fit report cache: %v", err)
		}
	}
}

// GetReport returns a copy of the report for id
func (ft *FitTracker) GetReport(id string) (FitReport, bool) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	r, ok := ft.reports[id]
	if !ok {
		return FitReport{}, false
	}
	return *r, true
}

// GetReports returns copies of all reports sorted by ID
func (ft *FitTracker) GetReports() []FitReport {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	result := make([]FitReport, 0, len(ft.reports))
	for _, r := range ft.reports {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetResult returns the fitted meshes for id. The result must be treated as read-only.
func (ft *FitTracker) GetResult(id string) (*FitResult, bool) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	r, ok := ft.results[id]
	return r, ok
}

// HasFits returns true if at least one report was recorded
func (ft *FitTracker) HasFits() bool {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.reports) > 0
}

// Remove forgets the report and result for id
func (ft *FitTracker) Remove(id string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	delete(ft.reports, id)
	delete(ft.results, id)
}

// SaveReports writes reports to disk as JSON.
func SaveReports(reports []FitReport, path string) error {
	data, err := MarshalReports(reports)
	if err != nil {
		return fmt.Errorf("marshal fit reports: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fit reports: %w", err)
	}
	return nil
}

// LoadReports reads reports from a JSON file on disk. A missing file returns
// an error satisfying os.IsNotExist.
func LoadReports(path string) ([]FitReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reports []FitReport
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("unmarshal fit reports: %w", err)
	}
	return reports, nil
}
