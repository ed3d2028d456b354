package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"gorm.io/gorm"

	"github.com/reelgen/reelgen/internal/ffmpeg"
)

// HealthHandler handles the liveness endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	detector  *ffmpeg.BinaryDetector
	workDir   string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithDetector sets the transcoder binary detector.
func (h *HealthHandler) WithDetector(d *ffmpeg.BinaryDetector) *HealthHandler {
	h.detector = d
	return h
}

// WithWorkDir sets the render scratch directory whose free space is
// reported.
func (h *HealthHandler) WithWorkDir(dir string) *HealthHandler {
	h.workDir = dir
	return h
}

// DatabaseHealth reports database reachability.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms,omitempty"`
}

// TranscoderHealth reports ffmpeg availability.
type TranscoderHealth struct {
	Status  string `json:"status"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
}

// SystemStats is a point-in-time resource snapshot.
type SystemStats struct {
	CPUCores      int     `json:"cpu_cores"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	WorkDirFreeGB float64 `json:"work_dir_free_gb,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status     string           `json:"status"`
	Timestamp  string           `json:"timestamp"`
	Version    string           `json:"version"`
	Uptime     string           `json:"uptime"`
	Database   DatabaseHealth   `json:"database"`
	Transcoder TranscoderHealth `json:"transcoder"`
	System     SystemStats      `json:"system"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Returns service health including database, transcoder and system stats",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. A broken database
// or missing transcoder degrades the overall status but still answers
// 200; orchestration reads the body.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()

	dbHealth := h.databaseHealth(ctx)
	tcHealth := h.transcoderHealth(ctx)

	status := "healthy"
	if dbHealth.Status == "error" || tcHealth.Status == "missing" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     status,
			Timestamp:  now.UTC().Format(time.RFC3339),
			Version:    h.version,
			Uptime:     now.Sub(h.startTime).Round(time.Second).String(),
			Database:   dbHealth,
			Transcoder: tcHealth,
			System:     h.systemStats(),
		},
	}, nil
}

func (h *HealthHandler) databaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unknown"}
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "error"}
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		return DatabaseHealth{Status: "error", ResponseTimeMS: elapsed}
	}
	return DatabaseHealth{Status: "ok", ResponseTimeMS: elapsed}
}

func (h *HealthHandler) transcoderHealth(ctx context.Context) TranscoderHealth {
	if h.detector == nil {
		return TranscoderHealth{Status: "unknown"}
	}
	info, err := h.detector.Detect(ctx)
	if err != nil {
		return TranscoderHealth{Status: "missing"}
	}
	return TranscoderHealth{
		Status:  "ok",
		Path:    info.FFmpegPath,
		Version: info.Version,
	}
}

func (h *HealthHandler) systemStats() SystemStats {
	stats := SystemStats{CPUCores: runtime.NumCPU()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		stats.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
		stats.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}
	if h.workDir != "" {
		if usage, err := disk.Usage(h.workDir); err == nil && usage != nil {
			stats.WorkDirFreeGB = float64(usage.Free) / 1024 / 1024 / 1024
		}
	}
	return stats
}
