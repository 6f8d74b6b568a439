package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"

	"github.com/beatreel/beatreel/internal/scheduler"
	"github.com/beatreel/beatreel/pkg/httpclient"
)

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	cbManager *httpclient.CircuitBreakerManager
	db        *gorm.DB
	runner    *scheduler.Runner
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		cbManager: httpclient.DefaultManager,
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithRunner sets the job runner for health checks.
func (h *HealthHandler) WithRunner(runner *scheduler.Runner) *HealthHandler {
	h.runner = runner
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including database, worker and system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// CPUInfo describes CPU load.
type CPUInfo struct {
	Cores     int     `json:"cores"`
	Load1Min  float64 `json:"load_1min"`
	Load5Min  float64 `json:"load_5min"`
	Load15Min float64 `json:"load_15min"`
}

// MemoryInfo describes system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	// ChildProcessCount counts encoder subprocesses currently running.
	ChildProcessCount int `json:"child_process_count"`
}

// DatabaseHealth describes record store health.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
	ActiveConnections int     `json:"active_connections"`
	IdleConnections   int     `json:"idle_connections"`
}

// RunnerHealth describes job runner health.
type RunnerHealth struct {
	Status      string `json:"status"`
	WorkerCount int    `json:"worker_count"`
	PendingJobs int64  `json:"pending_jobs"`
	RunningJobs int64  `json:"running_jobs"`
}

// CircuitBreakerStatus describes one external-service circuit breaker.
type CircuitBreakerStatus struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status          string                 `json:"status"`
	Timestamp       string                 `json:"timestamp"`
	Version         string                 `json:"version"`
	UptimeSeconds   float64                `json:"uptime_seconds"`
	CPU             CPUInfo                `json:"cpu"`
	Memory          MemoryInfo             `json:"memory"`
	Database        DatabaseHealth         `json:"database"`
	Runner          RunnerHealth           `json:"runner"`
	CircuitBreakers []CircuitBreakerStatus `json:"circuit_breakers,omitempty"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()

	dbHealth := h.getDatabaseHealth(ctx)
	runnerHealth := h.getRunnerHealth()

	status := "healthy"
	if dbHealth.Status == "error" || runnerHealth.Status == "stopped" {
		status = "degraded"
	}

	var breakers []CircuitBreakerStatus
	if h.cbManager != nil {
		stats := h.cbManager.GetAllStats()
		breakers = make([]CircuitBreakerStatus, 0, len(stats))
		for name, s := range stats {
			breakers = append(breakers, CircuitBreakerStatus{
				Name:     name,
				State:    s.State.String(),
				Failures: s.Failures,
			})
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:          status,
			Timestamp:       now.UTC().Format(time.RFC3339),
			Version:         h.version,
			UptimeSeconds:   now.Sub(h.startTime).Seconds(),
			CPU:             h.getCPUInfo(),
			Memory:          h.getMemoryInfo(),
			Database:        dbHealth,
			Runner:          runnerHealth,
			CircuitBreakers: breakers,
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
	}

	return info
}

// getMemoryInfo returns system and process memory usage. Encoder
// subprocesses show up as children of this process.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
	}
	if children, err := proc.Children(); err == nil {
		info.ChildProcessCount = len(children)
	}

	return info
}

// getDatabaseHealth pings the database and reports pool usage.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}

	return health
}

// getRunnerHealth reports job runner status.
func (h *HealthHandler) getRunnerHealth() RunnerHealth {
	if h.runner == nil {
		return RunnerHealth{Status: "unknown"}
	}

	status := h.runner.GetStatus()
	health := RunnerHealth{
		Status:      "ok",
		WorkerCount: status.WorkerCount,
		PendingJobs: status.PendingJobs,
		RunningJobs: status.RunningJobs,
	}
	if !status.Running {
		health.Status = "stopped"
	}
	return health
}
