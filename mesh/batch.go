package mesh

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// PairResult holds the outcome of fitting one pair
type PairResult struct {
	Pair   PairConfig
	Result *FitResult // nil when Err is set
	Report FitReport
	Err    error
}

// BatchOptions holds the shared resources for a batch run
type BatchOptions struct {
	Workers  int        // <= 0 uses runtime.NumCPU()
	Loader   MeshLoader // nil uses a FileLoader with unit normalization
	Fit      FitConfig
	Profiles Profiles // nil uses DefaultProfiles()

	// Cache receives every fresh registration. With UseCached set, cached
	// registrations are reused instead of running ICP.
	Cache     *SyncFitCache
	UseCached bool

	Progress io.Writer        // periodic "[n/total]" lines; nil disables
	OnResult func(PairResult) // called once per pair, never concurrently
}

type contextLoader interface {
	LoadContext(ctx context.Context, path string) (*Mesh, error)
}

// RunBatch fits all pairs using a worker pool. Results are returned in input
// order; a failing pair is recorded in its result and the others continue.
// Pairs not started when ctx is cancelled fail with ctx.Err().
func RunBatch(ctx context.Context, pairs []PairConfig, opts BatchOptions) []PairResult {
	total := len(pairs)
	results := make([]PairResult, total)
	if total == 0 {
		return results
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > total {
		workers = total
	}

	var processed atomic.Int64
	start := time.Now()

	// resultMu serializes OnResult and progress output, which may share a writer
	var resultMu sync.Mutex
	done := make(chan struct{})
	var tickerWG sync.WaitGroup
	if opts.Progress != nil {
		tickerWG.Add(1)
		go func() {
			defer tickerWG.Done()
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if p := processed.Load(); p > 0 {
						rate := float64(p) / time.Since(start).Seconds()
						resultMu.Lock()
						fmt.Fprintf(opts.Progress, "  [%d/%d] %.2f pairs/sec\n", p, total, rate)
						resultMu.Unlock()
					}
				}
			}
		}()
	}

	pairChan := make(chan int, workers*2)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range pairChan {
				results[idx] = FitPair(ctx, pairs[idx], opts)
				processed.Add(1)
				if opts.OnResult != nil {
					resultMu.Lock()
					opts.OnResult(results[idx])
					resultMu.Unlock()
				}
			}
		}()
	}

	for i := range pairs {
		pairChan <- i
	}
	close(pairChan)

	wg.Wait()
	close(done)
	tickerWG.Wait()

	return results
}

// FitPair loads one pair's meshes and fits them. Errors are returned inside the result.
func FitPair(ctx context.Context, pair PairConfig, opts BatchOptions) PairResult {
	start := time.Now()
	res, err := fitPair(ctx, pair, opts)
	if err != nil {
		res = nil
	}
	return PairResult{
		Pair:   pair,
		Result: res,
		Report: NewFitReport(pair.ID, pair, res, err, time.Since(start)),
		Err:    err,
	}
}

func fitPair(ctx context.Context, pair PairConfig, opts BatchOptions) (*FitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profiles := opts.Profiles
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	profile, err := profiles.Lookup(pair.Profile)
	if err != nil {
		return nil, err
	}

	loader := opts.Loader
	if loader == nil {
		loader = NewFileLoader(true)
	}
	body, err := loadWithContext(ctx, loader, pair.Body)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	garment, err := loadWithContext(ctx, loader, pair.Garment)
	if err != nil {
		return nil, fmt.Errorf("garment: %w", err)
	}

	cfg := opts.Fit
	key := PairKey(pair.Body, pair.Garment, profile.Name)
	if opts.Cache != nil && opts.UseCached {
		if entry, ok := opts.Cache.Get(key); ok {
			reg := entry.Registration
			cfg.Registration = &reg
		}
	}

	res, err := Fit(body, garment, profile, cfg)
	if err != nil {
		return nil, err
	}
	if opts.Cache != nil {
		opts.Cache.Put(key, res)
	}
	return res, nil
}

func loadWithContext(ctx context.Context, loader MeshLoader, path string) (*Mesh, error) {
	if cl, ok := loader.(contextLoader); ok {
		return cl.LoadContext(ctx, path)
	}
	return loader.Load(path)
}

// BatchSummary counts outcomes by FitReport.Status
func BatchSummary(results []PairResult) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Report.Status()]++
	}
	return counts
}
