package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/SohaAshraff/Virtual-Try-On-Integration-for-3D-Body-Mesh/mesh"
)

// defaultConfigFile is read when --config is not given and the file exists
const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	AppOptions

	Config     *mesh.Config
	Tracker    *mesh.FitTracker
	MQTTClient *mesh.MQTTClient
	Publisher  *mesh.Publisher
	Loader     mesh.MeshLoader // nil uses mesh.FileLoader
	Out        io.Writer

	fitOptions mesh.BatchOptions
	cache      *mesh.SyncFitCache
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Tracker: mesh.NewFitTracker(),
		Out:     os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.AppOptions = opts
}

// loadConfig reads the config file, applies the CLI overrides and validates the result.
// A missing default config file is not an error; the built-in defaults are used.
func (a *App) loadConfig() (*mesh.Config, error) {
	path := a.ConfigFile
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	var config *mesh.Config
	if _, err := os.Stat(path); !explicit && os.IsNotExist(err) {
		config = &mesh.Config{}
	} else {
		config, err = mesh.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		log.Printf("Loaded config from %s", path)
	}

	a.applyOverrides(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a.Config = config
	return config, nil
}

// applyOverrides copies the flags that were set onto the config
func (a *App) applyOverrides(config *mesh.Config) {
	if a.MaxIterations > 0 {
		config.Fit.MaxIterations = a.MaxIterations
	}
	if a.Threshold > 0 {
		config.Fit.Threshold = a.Threshold
	}
	if a.Samples > 0 {
		config.Fit.SampleCount = a.Samples
	}
	if a.Seed != nil {
		seed := *a.Seed
		config.Fit.Seed = &seed
	}
	if a.NoNormalize {
		normalize := false
		config.Fit.NormalizeUnits = &normalize
	}
	if a.Workers > 0 {
		config.Workers = a.Workers
	}
	if a.OutputDir != "" {
		config.Render.OutputDir = a.OutputDir
	}
	if a.Format != "" {
		config.Render.Format = a.Format
	}
	if a.Size > 0 {
		config.Render.Size = a.Size
	}
	if a.View != "" {
		config.Render.View = a.View
	}
}

// prepareFit builds the shared fit options and opens the registration cache
func (a *App) prepareFit() mesh.BatchOptions {
	loader := a.Loader
	if loader == nil {
		loader = mesh.NewFileLoader(a.Config.Fit.GetNormalizeUnits())
	}

	opts := mesh.BatchOptions{
		Workers:  a.Config.Workers,
		Loader:   loader,
		Fit:      a.Config.Fit.FitConfig(),
		Profiles: a.Config.EffectiveProfiles(),
		Progress: a.Out,
	}

	if a.FitCache != "" {
		cache, err := mesh.LoadFitCache(a.FitCache)
		if err != nil {
			log.Printf("Warning: Failed to load fit cache %s: %v", a.FitCache, err)
		} else if cache != nil {
			log.Printf("Loaded fit cache from %s (%d entries)", a.FitCache, len(cache.Entries))
		}
		a.cache = mesh.NewSyncFitCache(cache)
		opts.Cache = a.cache
		opts.UseCached = a.UseCache
	}

	a.fitOptions = opts
	return opts
}

func (a *App) saveCache() {
	if a.cache == nil {
		return
	}
	if err := a.cache.Save(a.FitCache); err != nil {
		log.Printf("Warning: Failed to save fit cache: %v", err)
	}
}

// defaultPairID names a single fit after its inputs, e.g. "female_body-tshirt"
func defaultPairID(body, garment string) string {
	name := func(p string) string {
		p = strings.SplitN(p, "?", 2)[0]
		base := filepath.Base(filepath.FromSlash(p))
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(name(body) + "-" + name(garment))
}

// RunFit fits one garment onto one body and writes the preview
func (a *App) RunFit() error {
	if _, err := a.loadConfig(); err != nil {
		return err
	}
	opts := a.prepareFit()
	opts.Progress = nil

	id := a.PairID
	if id == "" {
		id = defaultPairID(a.Body, a.Garment)
	}
	pair := mesh.PairConfig{ID: id, Body: a.Body, Garment: a.Garment, Profile: a.Profile}

	fmt.Fprintf(a.Out, "Fitting %s onto %s (profile %s)\n", pair.Garment, pair.Body, pair.Profile)
	r := mesh.FitPair(context.Background(), pair, opts)
	a.Tracker.Record(r.Report, r.Result)
	fmt.Fprintf(a.Out, "  %s\n", r.Report)

	if err := a.writeReports([]mesh.FitReport{r.Report}); err != nil {
		return err
	}
	if r.Err != nil {
		return fmt.Errorf("fitting %s: %w", pair.ID, r.Err)
	}
	a.saveCache()

	if a.SaveGarment != "" {
		if err := mesh.SaveMesh(a.SaveGarment, r.Result.Garment); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Fitted garment written to %s\n", a.SaveGarment)
	}
	if !a.NoRender {
		if err := a.preview(r); err != nil {
			return err
		}
	}
	return nil
}

// RunBatch fits every configured pair in parallel
func (a *App) RunBatch() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}

	pairs := append([]mesh.PairConfig(nil), config.Pairs...)
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		seen[p.ID] = true
	}
	for _, spec := range a.Pairs {
		p, err := mesh.ParsePairSpec(spec)
		if err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("pair %q is defined twice", p.ID)
		}
		seen[p.ID] = true
		pairs = append(pairs, p)
	}
	if len(pairs) == 0 {
		return fmt.Errorf("no pairs to fit: add pairs to the config file or use --pair")
	}

	opts := a.prepareFit()
	opts.OnResult = func(r mesh.PairResult) {
		a.Tracker.Record(r.Report, r.Result)
		fmt.Fprintf(a.Out, "  %s\n", r.Report)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(a.Out, "Fitting %d pair(s) with %d worker(s)\n", len(pairs), workerCount(opts.Workers, len(pairs)))
	start := time.Now()
	results := mesh.RunBatch(ctx, pairs, opts)
	elapsed := time.Since(start)

	reports := make([]mesh.FitReport, len(results))
	for i, r := range results {
		reports[i] = r.Report
		if r.Err == nil && !a.NoRender {
			if err := a.preview(r); err != nil {
				log.Printf("Warning: preview for %s: %v", r.Pair.ID, err)
			}
		}
	}

	counts := mesh.BatchSummary(results)
	failed := counts["failed"]
	fmt.Fprintf(a.Out, "\nFitted %d/%d pairs in %v (%d fallback, %d cached, %d failed)\n",
		len(results)-failed, len(results), elapsed.Round(time.Millisecond),
		counts["fallback"], counts["cached"], failed)

	a.saveCache()
	if err := a.writeReports(reports); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pairs failed", failed, len(results))
	}
	return nil
}

func workerCount(workers, pairs int) int {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > pairs {
		workers = pairs
	}
	return workers
}

// preview renders the body and fitted garment to the output directory
func (a *App) preview(r mesh.PairResult) error {
	var vis mesh.Visualizer = mesh.NewImageVisualizer(a.Config.Render)
	path, err := vis.Show(mesh.FitScene(r.Result), "Fitting Result "+r.Pair.ID)
	if err != nil {
		return fmt.Errorf("rendering preview: %w", err)
	}
	fmt.Fprintf(a.Out, "Preview written to %s\n", path)
	return nil
}

func (a *App) writeReports(reports []mesh.FitReport) error {
	if a.ReportFile == "" {
		return nil
	}
	if err := mesh.SaveReports(reports, a.ReportFile); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Reports written to %s\n", a.ReportFile)
	return nil
}

// RunInspect loads a mesh and prints its statistics
func (a *App) RunInspect(path string) error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	loader := a.Loader
	if loader == nil {
		loader = mesh.NewFileLoader(config.Fit.GetNormalizeUnits())
	}

	m, err := loader.Load(path)
	if err != nil {
		return err
	}

	lo, hi := m.Bounds()
	e := m.Extents()
	c := m.Centroid()
	fmt.Fprintf(a.Out, "=== %s ===\n", m.Name)
	fmt.Fprintf(a.Out, "File: %s\n", path)
	fmt.Fprintf(a.Out, "Vertices: %d, Faces: %d\n", len(m.Vertices), len(m.Faces))
	fmt.Fprintf(a.Out, "Bounds: [%.4f %.4f %.4f] - [%.4f %.4f %.4f]\n", lo[0], lo[1], lo[2], hi[0], hi[1], hi[2])
	fmt.Fprintf(a.Out, "Extents: [%.4f %.4f %.4f]\n", e[0], e[1], e[2])
	fmt.Fprintf(a.Out, "Centroid: [%.4f %.4f %.4f]\n", c[0], c[1], c[2])
	fmt.Fprintf(a.Out, "Surface area: %.4f\n", m.Area())
	return nil
}

// RunProfiles lists the built-in and configured garment profiles
func (a *App) RunProfiles() error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	profiles := config.EffectiveProfiles()
	fmt.Fprintf(a.Out, "%d profile(s):\n", len(profiles))
	for _, name := range profiles.Names() {
		p, _ := profiles.Lookup(name)
		fmt.Fprintf(a.Out, "  %-12s pre-scale [%.2f %.2f %.2f]  post-scale [%.2f %.2f %.2f]  lift %.2f\n",
			name,
			p.PreScaleRatios[0], p.PreScaleRatios[1], p.PreScaleRatios[2],
			p.PostScaleFactors[0], p.PostScaleFactors[1], p.PostScaleFactors[2],
			p.Lift())
	}
	return nil
}

// RunService runs the MQTT request loop and/or the HTTP server until interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting garmentfit service...")

	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.MqttMode {
		if err := config.ValidateForService(); err != nil {
			return err
		}
	}

	if a.ReportFile != "" {
		a.Tracker = mesh.NewFitTrackerWithCache(a.ReportFile)
		log.Printf("Fit reports persisted to %s", a.ReportFile)
	}
	opts := a.prepareFit()
	opts.Progress = nil
	a.fitOptions = opts

	if a.MqttMode {
		client, err := mesh.InitMQTT(config, a.handleFitRequest)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if client == nil {
			return fmt.Errorf("MQTT broker not configured")
		}
		a.MQTTClient = client
		a.Publisher = mesh.NewPublisher(client.GetClient())
		a.Publisher.SetPrefix(mesh.TopicPrefix(config))
		fmt.Fprintln(a.Out, "MQTT report publisher initialized")
	}

	if a.HttpMode {
		handler := newHTTPServer(a.Tracker, config.EffectiveProfiles(), config.Render)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, handler); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	if a.MQTTClient != nil {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintf(a.Out, "  Requests: %s\n", a.MQTTClient.RequestTopic())
		fmt.Fprintf(a.Out, "  Reports: %s/{id}\n", a.Publisher.SummaryTopic())
		fmt.Fprintf(a.Out, "  Combined reports: %s\n", a.Publisher.SummaryTopic())
	}
	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health          - Health check")
		fmt.Fprintln(a.Out, "  GET /profiles        - Garment profiles")
		fmt.Fprintln(a.Out, "  GET /fits            - All fit reports")
		fmt.Fprintln(a.Out, "  GET /fits/{id}       - One fit report")
		fmt.Fprintln(a.Out, "  GET /fits/{id}.png   - Preview (also .webp, .svg; ?view=side&size=N)")
	}
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Fprintln(a.Out, "\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	a.saveCache()
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}

// handleFitRequest fits one MQTT request and publishes its report
func (a *App) handleFitRequest(req mesh.FitRequest, decodeErr error) {
	if decodeErr != nil {
		if !validTopicLevel(req.ID) {
			return // nowhere to publish the rejection
		}
		report := mesh.NewFitReport(req.ID, req.Pair(), nil, decodeErr, 0)
		a.Tracker.Record(report, nil)
		a.publish(report)
		return
	}

	r := mesh.FitPair(context.Background(), req.Pair(), a.fitOptions)
	a.Tracker.Record(r.Report, r.Result)
	a.saveCache()
	log.Printf("[MQTT] %s", r.Report)
	a.publish(r.Report)
}

func (a *App) publish(report mesh.FitReport) {
	if a.Publisher == nil {
		return
	}
	if err := a.Publisher.PublishReport(report); err != nil {
		log.Printf("Error publishing report for %s: %v", report.ID, err)
	}
}

func validTopicLevel(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/+#")
}
