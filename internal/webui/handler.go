package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/jgarman/ds2img/internal/config"
	"github.com/jgarman/ds2img/internal/diskbuilder"
)

// Handler serves the build service: estimates, builds and downloads of the
// image described by one configuration.
type Handler struct {
	config     *config.Config
	outputPath string
	templates  *template.Template

	// one build at a time; the output image is owned by the running build
	buildMu sync.Mutex

	mu        sync.RWMutex
	lastBuild *buildSummary
}

type partitionSummary struct {
	Name       string `json:"name"`
	Filesystem string `json:"filesystem"`
	Start      uint64 `json:"start"`
	Length     uint64 `json:"length"`
	GUID       string `json:"guid"`
	Digest     string `json:"blake3"`
}

type buildSummary struct {
	Success    bool               `json:"success"`
	Output     string             `json:"output"`
	Size       uint64             `json:"size"`
	DiskGUID   string             `json:"diskGuid"`
	Duration   string             `json:"duration"`
	Finished   time.Time          `json:"finished"`
	Partitions []partitionSummary `json:"partitions"`
}

type estimateSummary struct {
	Name       string `json:"name"`
	Filesystem string `json:"filesystem"`
	Source     string `json:"source"`
	Size       uint64 `json:"size"`
	Override   bool   `json:"override"`
	DataBytes  uint64 `json:"dataBytes"`
	Files      int    `json:"files"`
	Dirs       int    `json:"dirs"`
	Skipped    int    `json:"skipped"`
}

// New creates a new build service handler
func New(cfg *config.Config, outputPath string) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Handler{
		config:     cfg,
		outputPath: outputPath,
		templates:  tmpl,
	}, nil
}

// Router returns the routes wrapped in the configured CORS policy
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", h.IndexHandler).Methods("GET")
	r.HandleFunc("/api/health", h.HealthHandler).Methods("GET")
	r.HandleFunc("/api/estimate", h.EstimateHandler).Methods("GET")
	r.HandleFunc("/api/build", h.BuildHandler).Methods("POST")
	r.HandleFunc("/api/image", h.ImageHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   h.config.Server.CORS.AllowedOrigins,
		AllowedMethods:   h.config.Server.CORS.AllowedMethods,
		AllowedHeaders:   h.config.Server.CORS.AllowedHeaders,
		AllowCredentials: h.config.Server.CORS.AllowCredentials,
	})
	return c.Handler(r)
}

// IndexHandler serves an overview of the configured partitions
func (h *Handler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	h.mu.RLock()
	data := struct {
		Partitions []config.PartitionConfig
		Output     string
		LastBuild  *buildSummary
	}{h.config.Partitions, h.outputPath, h.lastBuild}
	h.mu.RUnlock()

	if err := h.templates.ExecuteTemplate(w, "index", data); err != nil {
		logrus.WithError(err).Error("Error rendering template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// HealthHandler provides a health check endpoint
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EstimateHandler returns the size every partition would be built with
func (h *Handler) EstimateHandler(w http.ResponseWriter, r *http.Request) {
	pipeline, specs, err := h.prepare()
	if err != nil {
		writeError(w, err)
		return
	}

	plans, err := pipeline.Plan(r.Context(), specs)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]estimateSummary, len(plans))
	for i, plan := range plans {
		out[i] = estimateSummary{
			Name:       plan.Spec.Name,
			Filesystem: plan.Spec.Filesystem.String(),
			Source:     plan.Spec.SourcePath,
			Size:       plan.Size,
			Override:   plan.Estimate == nil,
		}
		if plan.Estimate != nil {
			out[i].DataBytes = plan.Estimate.DataBytes
			out[i].Files = plan.Estimate.Files
			out[i].Dirs = plan.Estimate.Dirs
			out[i].Skipped = plan.Estimate.Skipped
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// BuildHandler builds the image. Concurrent requests get 409 Conflict.
func (h *Handler) BuildHandler(w http.ResponseWriter, r *http.Request) {
	if !h.buildMu.TryLock() {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": "a build is already running"})
		return
	}
	defer h.buildMu.Unlock()

	pipeline, specs, err := h.prepare()
	if err != nil {
		writeError(w, err)
		return
	}

	logrus.WithField("output", h.outputPath).Info("Build requested")
	started := time.Now()
	result, err := pipeline.Run(r.Context(), specs, h.outputPath)
	if err != nil {
		logrus.WithError(err).Error("Build failed")
		writeError(w, err)
		return
	}

	summary := &buildSummary{
		Success:  true,
		Output:   result.Path,
		Size:     result.Layout.TotalSize,
		DiskGUID: result.DiskGUID,
		Duration: time.Since(started).Round(time.Millisecond).String(),
		Finished: time.Now().UTC(),
	}
	for _, p := range result.Partitions {
		summary.Partitions = append(summary.Partitions, partitionSummary{
			Name:       p.Name,
			Filesystem: p.Filesystem.String(),
			Start:      p.Start,
			Length:     p.Length,
			GUID:       p.GUID,
			Digest:     p.Digest,
		})
	}

	h.mu.Lock()
	h.lastBuild = summary
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, summary)
}

// ImageHandler downloads the last committed image
func (h *Handler) ImageHandler(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(h.outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "no image has been built"})
			return
		}
		writeError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(h.outputPath)))
	http.ServeContent(w, r, filepath.Base(h.outputPath), info.ModTime(), f)
}

func (h *Handler) prepare() (*diskbuilder.Pipeline, []diskbuilder.PartitionSpec, error) {
	specs, err := h.config.PartitionSpecs()
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := h.config.Pipeline()
	if err != nil {
		return nil, nil, err
	}
	return pipeline, specs, nil
}

// statusFor maps an error kind to the response status
func statusFor(err error) int {
	switch {
	case errors.Is(err, diskbuilder.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, diskbuilder.ErrDiskFull):
		return http.StatusInsufficientStorage
	case errors.Is(err, diskbuilder.ErrExternalTool):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"success": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}
