package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SohaAshraff/Virtual-Try-On-Integration-for-3D-Body-Mesh/mesh"
)

// preview image size limits for the ?size= query parameter
const (
	minPreviewSize = 16
	maxPreviewSize = 4096
)

var previewContentTypes = map[string]string{
	"png":  "image/png",
	"webp": "image/webp",
	"svg":  "image/svg+xml",
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *mesh.FitTracker, profiles mesh.Profiles, render mesh.RenderConfig) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasFits   bool      `json:"hasFits"`
			Fits      int       `json:"fits"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasFits:   tracker.HasFits(),
			Fits:      len(tracker.GetReports()),
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("/profiles", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, profiles)
	})

	mux.HandleFunc("/fits", func(w http.ResponseWriter, r *http.Request) {
		data, err := mesh.MarshalReports(tracker.GetReports())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	// /fits/{id} returns the report; /fits/{id}.png|.webp|.svg renders the fitted pair
	mux.HandleFunc("/fits/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/fits/")
		id, format := splitPreviewName(name)
		if id == "" {
			http.NotFound(w, r)
			return
		}

		report, ok := tracker.GetReport(id)
		if !ok {
			http.Error(w, fmt.Sprintf("No fit %q", id), http.StatusNotFound)
			return
		}
		if format == "" {
			writeJSON(w, report)
			return
		}

		res, ok := tracker.GetResult(id)
		if !ok {
			http.Error(w, fmt.Sprintf("No fitted meshes for %q (status %s)", id, report.Status()), http.StatusServiceUnavailable)
			return
		}
		items := mesh.FitScene(res)
		if !mesh.HasDrawableContent(items) {
			log.Printf("Warning: fit %s has no drawable content; endpoint=%s", id, r.URL.Path)
			http.Error(w, "No drawable mesh content", http.StatusServiceUnavailable)
			return
		}

		size, view, err := previewParams(r, render)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var buf bytes.Buffer
		if err := mesh.RenderScene(&buf, items, "Fitting Result "+id, format, size, view); err != nil {
			log.Printf("Error rendering %s preview for %s: %v", format, id, err)
			http.Error(w, "Rendering failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", previewContentTypes[format])
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing %s preview for %s: %v", format, id, err)
		}
	})

	return mux
}

// splitPreviewName splits "p1.png" into ("p1", "png"). Names without a known
// image extension are report IDs.
func splitPreviewName(name string) (id, format string) {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		ext := strings.ToLower(name[i+1:])
		if _, ok := previewContentTypes[ext]; ok {
			return name[:i], ext
		}
	}
	return name, ""
}

// previewParams reads ?size= and ?view=, falling back to the render config
func previewParams(r *http.Request, render mesh.RenderConfig) (int, string, error) {
	size := render.Size
	if s := r.URL.Query().Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < minPreviewSize || n > maxPreviewSize {
			return 0, "", fmt.Errorf("size must be an integer between %d and %d", minPreviewSize, maxPreviewSize)
		}
		size = n
	}

	view := render.View
	if v := r.URL.Query().Get("view"); v != "" {
		if v != mesh.ViewFront && v != mesh.ViewSide {
			return 0, "", fmt.Errorf("view must be %s or %s", mesh.ViewFront, mesh.ViewSide)
		}
		view = v
	}
	return size, view, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
