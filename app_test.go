package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SohaAshraff/Virtual-Try-On-Integration-for-3D-Body-Mesh/mesh"
	"github.com/ungerik/go3d/float64/vec3"
)

// boxMesh builds an axis-aligned closed box
func boxMesh(name string, center, size vec3.T) *mesh.Mesh {
	hx, hy, hz := size[0]/2, size[1]/2, size[2]/2
	m := &mesh.Mesh{Name: name}
	for _, c := range [][3]float64{
		{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
		{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
	} {
		m.Vertices = append(m.Vertices, vec3.T{center[0] + c[0]*hx, center[1] + c[1]*hy, center[2] + c[2]*hz})
	}
	m.Faces = []mesh.Face{
		{0, 2, 1}, {0, 3, 2},
		{4, 5, 6}, {4, 6, 7},
		{0, 1, 5}, {0, 5, 4},
		{3, 7, 6}, {3, 6, 2},
		{0, 4, 7}, {0, 7, 3},
		{1, 2, 6}, {1, 6, 5},
	}
	return m
}

// writeTestMeshes saves a body box and a garment box as OBJ files in dir
func writeTestMeshes(t *testing.T, dir string) (body, garment string) {
	t.Helper()
	body = filepath.Join(dir, "body.obj")
	garment = filepath.Join(dir, "shirt.obj")
	if err := mesh.SaveOBJ(body, boxMesh("body", vec3.T{0, 0.9, 0}, vec3.T{0.5, 1.8, 0.3})); err != nil {
		t.Fatalf("saving body: %v", err)
	}
	if err := mesh.SaveOBJ(garment, boxMesh("shirt", vec3.T{1, 1, 1}, vec3.T{0.6, 0.7, 0.3})); err != nil {
		t.Fatalf("saving garment: %v", err)
	}
	return body, garment
}

// writeConfig writes a config file into dir and returns its path
func writeConfig(t *testing.T, dir, yaml string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// newTestApp returns an App writing to a buffer, with small ICP settings for speed
func newTestApp(opts AppOptions) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	app := NewApp()
	app.Out = &out
	if opts.Profile == "" {
		opts.Profile = "female"
	}
	if opts.Samples == 0 {
		opts.Samples = 200
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = 20
	}
	app.ApplyOptions(opts)
	return app, &out
}

func TestNewApp(t *testing.T) {
	app := NewApp()
	if app == nil {
		t.Fatal("NewApp returned nil")
		return
	}
	if app.Tracker == nil {
		t.Error("Tracker should be initialized")
	}
	if app.Out == nil {
		t.Error("Out should default to stdout")
	}
	if app.Loader != nil {
		t.Error("Loader should be nil until configured")
	}
}

func TestApplyOptions(t *testing.T) {
	app := NewApp()
	seed := int64(7)
	opts := AppOptions{
		ConfigFile: "test-config.yaml",
		Body:       "body.obj",
		Garment:    "shirt.obj",
		Profile:    "male",
		Seed:       &seed,
		Samples:    1000,
		Format:     "webp",
		MqttMode:   true,
		HttpPort:   9090,
		FitCache:   ".test-cache.json",
	}
	app.ApplyOptions(opts)

	if app.ConfigFile != "test-config.yaml" {
		t.Errorf("expected ConfigFile test-config.yaml, got %s", app.ConfigFile)
	}
	if app.Body != "body.obj" || app.Garment != "shirt.obj" {
		t.Errorf("unexpected body/garment %s/%s", app.Body, app.Garment)
	}
	if app.Profile != "male" {
		t.Errorf("expected Profile male, got %s", app.Profile)
	}
	if app.Seed == nil || *app.Seed != 7 {
		t.Errorf("expected Seed 7, got %v", app.Seed)
	}
	if app.Samples != 1000 || app.Format != "webp" {
		t.Errorf("unexpected fit/render options %d %s", app.Samples, app.Format)
	}
	if !app.MqttMode || app.HttpPort != 9090 {
		t.Errorf("unexpected service options mqtt=%v port=%d", app.MqttMode, app.HttpPort)
	}
	if app.FitCache != ".test-cache.json" {
		t.Errorf("expected FitCache .test-cache.json, got %s", app.FitCache)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing default file uses defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		app, _ := newTestApp(AppOptions{})
		config, err := app.loadConfig()
		if err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if len(config.Pairs) != 0 {
			t.Errorf("expected no pairs, got %d", len(config.Pairs))
		}
		if app.Config != config {
			t.Error("expected App.Config to be set")
		}
	})

	t.Run("default file in working directory", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "workers: 3\n")
		t.Chdir(dir)
		app, _ := newTestApp(AppOptions{})
		config, err := app.loadConfig()
		if err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if config.Workers != 3 {
			t.Errorf("expected Workers 3, got %d", config.Workers)
		}
	})

	t.Run("explicit missing file", func(t *testing.T) {
		app, _ := newTestApp(AppOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
		_, err := app.loadConfig()
		if err == nil {
			t.Fatal("expected error for missing config")
		}
		if !strings.Contains(err.Error(), "failed to load config") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("flags override file", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), `fit:
  maxIterations: 50
  sampleCount: 3000
  seed: 4
render:
  format: svg
  size: 300
workers: 2
`)
		seed := int64(9)
		app, _ := newTestApp(AppOptions{
			ConfigFile:    path,
			MaxIterations: 15,
			Samples:       600,
			Seed:          &seed,
			Threshold:     0.002,
			NoNormalize:   true,
			Workers:       5,
			Format:        "png",
			View:          "side",
			OutputDir:     "out",
		})
		config, err := app.loadConfig()
		if err != nil {
			t.Fatalf("loadConfig failed: %v", err)
		}
		if config.Fit.MaxIterations != 15 || config.Fit.SampleCount != 600 || config.Fit.Threshold != 0.002 {
			t.Errorf("fit overrides not applied: %+v", config.Fit)
		}
		if config.Fit.Seed == nil || *config.Fit.Seed != 9 {
			t.Errorf("expected seed 9, got %v", config.Fit.Seed)
		}
		if config.Fit.GetNormalizeUnits() {
			t.Error("expected unit normalization off")
		}
		if config.Workers != 5 {
			t.Errorf("expected Workers 5, got %d", config.Workers)
		}
		if config.Render.Format != "png" || config.Render.Size != 300 || config.Render.View != "side" || config.Render.OutputDir != "out" {
			t.Errorf("render overrides not applied: %+v", config.Render)
		}
	})

	t.Run("invalid override", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "workers: 1\n")
		app, _ := newTestApp(AppOptions{ConfigFile: path, Format: "bmp"})
		if _, err := app.loadConfig(); err == nil {
			t.Error("expected validation error for unsupported format")
		}
	})
}

func TestDefaultPairID(t *testing.T) {
	tests := []struct {
		body, garment string
		want          string
	}{
		{"body.obj", "shirt.obj", "body-shirt"},
		{"/data/scans/female_body.glb", "assets/tshirt.stl", "female_body-tshirt"},
		{"https://example.com/m/body.obj?token=abc", "shirt.gltf", "body-shirt"},
		{"a+b.obj", "c#d.obj", "a_b-c_d"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := defaultPairID(tt.body, tt.garment)
			if got != tt.want {
				t.Errorf("defaultPairID(%q, %q) = %q, want %q", tt.body, tt.garment, got, tt.want)
			}
		})
	}
}

func TestWorkerCount(t *testing.T) {
	if got := workerCount(4, 2); got != 2 {
		t.Errorf("expected workers capped at pair count, got %d", got)
	}
	if got := workerCount(2, 10); got != 2 {
		t.Errorf("expected 2 workers, got %d", got)
	}
	if got := workerCount(0, 1); got != 1 {
		t.Errorf("expected NumCPU capped at 1, got %d", got)
	}
}

func TestRunFit(t *testing.T) {
	dir := t.TempDir()
	body, garment := writeTestMeshes(t, dir)
	outDir := filepath.Join(dir, "previews")
	reportPath := filepath.Join(dir, "reports", "fits.json")
	fittedPath := filepath.Join(dir, "fitted.obj")

	app, out := newTestApp(AppOptions{
		ConfigFile:  writeConfig(t, dir, "fit:\n  seed: 1\n"),
		Body:        body,
		Garment:     garment,
		OutputDir:   outDir,
		ReportFile:  reportPath,
		SaveGarment: fittedPath,
	})

	if err := app.RunFit(); err != nil {
		t.Fatalf("RunFit failed: %v\n%s", err, out.String())
	}

	report, ok := app.Tracker.GetReport("body-shirt")
	if !ok {
		t.Fatal("expected report for body-shirt")
	}
	if report.Error != "" {
		t.Errorf("unexpected report error: %s", report.Error)
	}
	if report.Profile != "female" {
		t.Errorf("expected profile female, got %s", report.Profile)
	}
	if _, ok := app.Tracker.GetResult("body-shirt"); !ok {
		t.Error("expected fitted result to be tracked")
	}

	for _, want := range []string{"Fitting " + garment, "Reports written to", "Fitted garment written to", "Preview written to"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out.String())
		}
	}

	if _, err := os.Stat(filepath.Join(outDir, "fitting-result-body-shirt.png")); err != nil {
		t.Errorf("expected preview image: %v", err)
	}

	fitted, err := mesh.LoadMesh(fittedPath)
	if err != nil {
		t.Fatalf("loading fitted garment: %v", err)
	}
	if len(fitted.Faces) != 12 {
		t.Errorf("expected 12 faces in fitted garment, got %d", len(fitted.Faces))
	}

	reports, err := mesh.LoadReports(reportPath)
	if err != nil {
		t.Fatalf("LoadReports failed: %v", err)
	}
	if len(reports) != 1 || reports[0].ID != "body-shirt" {
		t.Errorf("unexpected reports %+v", reports)
	}
}

func TestRunFit_NoRender(t *testing.T) {
	dir := t.TempDir()
	body, garment := writeTestMeshes(t, dir)
	outDir := filepath.Join(dir, "previews")

	app, out := newTestApp(AppOptions{
		ConfigFile: writeConfig(t, dir, "workers: 1\n"),
		Body:       body,
		Garment:    garment,
		PairID:     "custom",
		Profile:    "male",
		OutputDir:  outDir,
		NoRender:   true,
	})
	if err := app.RunFit(); err != nil {
		t.Fatalf("RunFit failed: %v", err)
	}
	if _, ok := app.Tracker.GetReport("custom"); !ok {
		t.Error("expected report under the --id value")
	}
	if strings.Contains(out.String(), "Preview written to") {
		t.Error("expected no preview with NoRender")
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Errorf("expected no output dir, stat err = %v", err)
	}
}

func TestRunFit_Errors(t *testing.T) {
	dir := t.TempDir()
	body, garment := writeTestMeshes(t, dir)
	config := writeConfig(t, dir, "workers: 1\n")

	tests := []struct {
		name    string
		opts    AppOptions
		wantErr string
	}{
		{
			name:    "missing garment file",
			opts:    AppOptions{Body: body, Garment: filepath.Join(dir, "missing.obj")},
			wantErr: "garment:",
		},
		{
			name:    "unknown profile",
			opts:    AppOptions{Body: body, Garment: garment, Profile: "toddler"},
			wantErr: "unknown garment profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.ConfigFile = config
			tt.opts.NoRender = true
			tt.opts.ReportFile = filepath.Join(t.TempDir(), "fits.json")
			app, _ := newTestApp(tt.opts)

			err := app.RunFit()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}

			reports, err := mesh.LoadReports(tt.opts.ReportFile)
			if err != nil {
				t.Fatalf("failed fits still write reports: %v", err)
			}
			if len(reports) != 1 || reports[0].Status() != "failed" {
				t.Errorf("expected one failed report, got %+v", reports)
			}
		})
	}
}

func TestRunFit_Cache(t *testing.T) {
	dir := t.TempDir()
	body, garment := writeTestMeshes(t, dir)
	cachePath := filepath.Join(dir, ".fit-cache.json")
	config := writeConfig(t, dir, "workers: 1\n")

	first, _ := newTestApp(AppOptions{ConfigFile: config, Body: body, Garment: garment, NoRender: true, FitCache: cachePath})
	if err := first.RunFit(); err != nil {
		t.Fatalf("first RunFit failed: %v", err)
	}
	cache, err := mesh.LoadFitCache(cachePath)
	if err != nil {
		t.Fatalf("LoadFitCache failed: %v", err)
	}
	if _, ok := cache.Get(mesh.PairKey(body, garment, "female")); !ok {
		t.Fatalf("expected cache entry, keys: %v", cache.Keys())
	}

	second, _ := newTestApp(AppOptions{ConfigFile: config, Body: body, Garment: garment, NoRender: true, FitCache: cachePath, UseCache: true})
	if err := second.RunFit(); err != nil {
		t.Fatalf("second RunFit failed: %v", err)
	}
	report, _ := second.Tracker.GetReport("body-shirt")
	if !report.Cached || report.Status() != "cached" {
		t.Errorf("expected cached report, got status %s", report.Status())
	}
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	body, garment := writeTestMeshes(t, dir)
	config := writeConfig(t, dir, `pairs:
  - id: f1
    body: `+body+`
    garment: `+garment+`
    profile: female
workers: 2
`)
	reportPath := filepath.Join(dir, "fits.json")

	app, out := newTestApp(AppOptions{
		ConfigFile: config,
		BatchMode:  true,
		Pairs:      []string{"m1=" + body + "," + garment + ",male"},
		ReportFile: reportPath,
		OutputDir:  filepath.Join(dir, "previews"),
		Format:     "svg",
	})
	if err := app.RunBatch(); err != nil {
		t.Fatalf("RunBatch failed: %v\n%s", err, out.String())
	}

	if !strings.Contains(out.String(), "Fitted 2/2 pairs") {
		t.Errorf("expected summary line, got:\n%s", out.String())
	}
	for _, id := range []string{"f1", "m1"} {
		if _, ok := app.Tracker.GetResult(id); !ok {
			t.Errorf("expected result for %s", id)
		}
		if _, err := os.Stat(filepath.Join(dir, "previews", "fitting-result-"+id+".svg")); err != nil {
			t.Errorf("expected svg preview for %s: %v", id, err)
		}
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("reading reports: %v", err)
	}
	var reports []mesh.FitReport
	if err := json.Unmarshal(data, &reports); err != nil {
		t.Fatalf("parsing reports: %v", err)
	}
	if len(reports) != 2 || reports[0].ID != "f1" || reports[1].ID != "m1" {
		t.Errorf("expected reports in input order, got %+v", reports)
	}
}

func TestRunBatch_Errors(t *testing.T) {
	dir := t.TempDir()
	body, garment := writeTestMeshes(t, dir)
	empty := writeConfig(t, dir, "workers: 1\n")

	tests := []struct {
		name    string
		pairs   []string
		wantErr string
	}{
		{
			name:    "no pairs",
			wantErr: "no pairs to fit",
		},
		{
			name:    "malformed pair",
			pairs:   []string{"broken"},
			wantErr: "expected ID=BODY,GARMENT,PROFILE",
		},
		{
			name:    "duplicate pair",
			pairs:   []string{"a=" + body + "," + garment + ",female", "a=" + body + "," + garment + ",male"},
			wantErr: `pair "a" is defined twice`,
		},
		{
			name:    "failing pair",
			pairs:   []string{"ok=" + body + "," + garment + ",female", "bad=" + body + ",nope.obj,female"},
			wantErr: "1 of 2 pairs failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(AppOptions{ConfigFile: empty, BatchMode: true, Pairs: tt.pairs, NoRender: true})
			err := app.RunBatch()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRunInspect(t *testing.T) {
	dir := t.TempDir()
	body, _ := writeTestMeshes(t, dir)

	app, out := newTestApp(AppOptions{ConfigFile: writeConfig(t, dir, "workers: 1\n")})
	if err := app.RunInspect(body); err != nil {
		t.Fatalf("RunInspect failed: %v", err)
	}

	for _, want := range []string{
		"=== body ===",
		"Vertices: 8, Faces: 12",
		"Extents: [0.5000 1.8000 0.3000]",
		"Surface area: 3.1800",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out.String())
		}
	}
}

func TestRunInspect_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ply")
	if err := os.WriteFile(path, []byte("ply"), 0644); err != nil {
		t.Fatal(err)
	}
	app, _ := newTestApp(AppOptions{ConfigFile: writeConfig(t, dir, "workers: 1\n")})
	if err := app.RunInspect(path); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestRunProfiles(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `profiles:
  loose:
    preScale: [1, 1, 1]
    postScale: [1.1, 1.0, 1.1]
    lift: 0.05
`)
	app, out := newTestApp(AppOptions{ConfigFile: path})
	if err := app.RunProfiles(); err != nil {
		t.Fatalf("RunProfiles failed: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "3 profile(s):") {
		t.Errorf("expected 3 profiles, got:\n%s", output)
	}
	for _, want := range []string{"female", "male", "loose", "lift 0.05", "pre-scale [0.71 0.41 1.42]"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, output)
		}
	}
}
