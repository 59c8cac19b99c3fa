package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line flags
type AppOptions struct {
	ConfigFile string

	// Single fit
	Body        string
	Garment     string
	Profile     string
	PairID      string
	SaveGarment string

	// Fit parameters; nil/zero keeps the config file value
	Seed          *int64
	MaxIterations int
	Threshold     float64
	Samples       int
	NoNormalize   bool

	// Preview images
	OutputDir string
	Format    string
	Size      int
	View      string
	NoRender  bool

	// Modes
	BatchMode    bool
	Pairs        []string
	Workers      int
	ReportFile   string
	Inspect      string
	ListProfiles bool
	MqttMode     bool
	HttpMode     bool
	HttpPort     int

	FitCache string
	UseCache bool
}

// Runner is implemented by App; run dispatches to it after parsing flags
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunFit() error
	RunBatch() error
	RunInspect(path string) error
	RunProfiles() error
	RunService() error
}

// stringList is a repeatable string flag
type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("garmentfit", flag.ContinueOnError)
	fs.SetOutput(out)

	var (
		opts  AppOptions
		pairs stringList
		seed  int64
	)
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to config.yaml (default: ./config.yaml if present)")

	fs.StringVar(&opts.Body, "body", "", "Body mesh path or URL (.obj, .stl, .glb, .gltf)")
	fs.StringVar(&opts.Garment, "garment", "", "Garment mesh path or URL")
	fs.StringVar(&opts.Profile, "profile", "female", "Garment profile name (see --profiles)")
	fs.StringVar(&opts.PairID, "id", "", "ID for a single fit (default: <body>-<garment>)")
	fs.StringVar(&opts.SaveGarment, "save-garment", "", "Write the fitted garment mesh (.obj, .glb or .gltf)")

	fs.Int64Var(&seed, "seed", 0, "Surface sampling seed")
	fs.IntVar(&opts.MaxIterations, "max-iterations", 0, "ICP iteration cap (default from config, 100)")
	fs.Float64Var(&opts.Threshold, "threshold", 0, "ICP convergence threshold (default from config, 0.01)")
	fs.IntVar(&opts.Samples, "samples", 0, "Points sampled per surface for ICP (default from config, 5000)")
	fs.BoolVar(&opts.NoNormalize, "no-normalize", false, "Keep mesh units as loaded (skip millimeter detection)")

	fs.StringVar(&opts.OutputDir, "output-dir", "", "Directory for preview images (default .)")
	fs.StringVar(&opts.Format, "format", "", "Preview format: png, webp or svg (default png)")
	fs.IntVar(&opts.Size, "size", 0, "Preview edge length in pixels (default 800)")
	fs.StringVar(&opts.View, "view", "", "Preview view: front or side (default front)")
	fs.BoolVar(&opts.NoRender, "no-render", false, "Skip preview images")

	fs.BoolVar(&opts.BatchMode, "batch", false, "Fit every pair from the config file and --pair flags")
	fs.Var(&pairs, "pair", "Extra batch pair ID=BODY,GARMENT,PROFILE (repeatable)")
	fs.IntVar(&opts.Workers, "workers", 0, "Parallel fits in batch mode (default from config, NumCPU)")
	fs.StringVar(&opts.ReportFile, "report", "", "Write the fit reports as JSON")
	fs.StringVar(&opts.Inspect, "inspect", "", "Load a mesh and print its statistics")
	fs.BoolVar(&opts.ListProfiles, "profiles", false, "List the available garment profiles")

	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode (fit requests in, reports out)")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for reports and previews")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")

	fs.StringVar(&opts.FitCache, "fit-cache", "", "Registration cache file (e.g. .fit-cache.json)")
	fs.BoolVar(&opts.UseCache, "use-cache", false, "Reuse cached registrations instead of running ICP")

	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.Seed = &seed
		}
	})
	opts.Pairs = pairs

	if opts.UseCache && opts.FitCache == "" {
		opts.FitCache = ".fit-cache.json"
	}

	fmt.Fprintf(out, "garmentfit version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.ListProfiles:
		return app.RunProfiles()
	case opts.Inspect != "":
		return app.RunInspect(opts.Inspect)
	case opts.BatchMode:
		return app.RunBatch()
	case opts.Body != "" || opts.Garment != "":
		if opts.Body == "" || opts.Garment == "" {
			return fmt.Errorf("--body and --garment must be given together")
		}
		return app.RunFit()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "Fit a garment mesh onto a body mesh.")
	fmt.Fprintln(out, "Use --body=BODY --garment=GARMENT [--profile=female] to fit one pair")
	fmt.Fprintln(out, "Use --batch to fit every pair listed in config.yaml")
	fmt.Fprintln(out, "Use --inspect=MESH to print mesh statistics")
	fmt.Fprintln(out, "Use --profiles to list garment profiles")
	fmt.Fprintln(out, "Use --mqtt and/or --http to run the fitting service")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - fit settings, profiles, pairs, MQTT and render options")
	fmt.Fprintln(out, "  .fit-cache.json - cached registrations (--fit-cache, --use-cache)")
	return nil
}
