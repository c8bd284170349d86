package server

import (
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/aristath/navwatch/internal/kvstore"
	"github.com/aristath/navwatch/internal/queue"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// JobSchedule reports registered jobs and their next activation
type JobSchedule interface {
	Jobs() []string
	Next(name string) time.Time
}

// SystemHandlers serves process and store status
type SystemHandlers struct {
	store     kvstore.Store
	queue     *queue.Serializer
	jobs      JobSchedule
	startedAt time.Time
	log       zerolog.Logger

	// Replaced in tests to avoid sampling the host
	systemStats func() (float64, float64)
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Store         StoreStatus `json:"store"`
	Queue         QueueStatus `json:"queue"`
	Jobs          []JobStatus `json:"jobs"`
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryPercent float64     `json:"memory_percent"`
	Goroutines    int         `json:"goroutines"`
	UptimeSeconds int64       `json:"uptime_seconds"`
}

// StoreStatus reports byte store usage
type StoreStatus struct {
	Keys          int     `json:"keys"`
	UsedBytes     int64   `json:"used_bytes"`
	CapacityBytes int64   `json:"capacity_bytes"`
	UsedPercent   float64 `json:"used_percent"`
}

// QueueStatus reports the fetch serializer state
type QueueStatus struct {
	Depth int         `json:"depth"`
	Stats queue.Stats `json:"stats"`
}

// JobStatus reports one scheduled job
type JobStatus struct {
	Name    string `json:"name"`
	NextRun string `json:"next_run,omitempty"`
}

// NewSystemHandlers creates system handlers. jobs may be nil.
func NewSystemHandlers(store kvstore.Store, serializer *queue.Serializer, jobs JobSchedule, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		store:     store,
		queue:     serializer,
		jobs:      jobs,
		startedAt: time.Now(),
		log:       log.With().Str("handler", "system").Logger(),
	}
	h.systemStats = h.getSystemStats
	return h
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	usage, err := h.store.Usage()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read store usage")
		writeError(w, h.log, http.StatusInternalServerError, "Failed to read store usage")
		return
	}

	response := SystemStatusResponse{
		Store: StoreStatus{
			Keys:          usage.Keys,
			UsedBytes:     usage.UsedBytes,
			CapacityBytes: usage.CapacityBytes,
		},
		Queue: QueueStatus{
			Depth: h.queue.Depth(),
			Stats: h.queue.Stats(),
		},
		Jobs:          h.jobStatuses(),
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if usage.CapacityBytes > 0 {
		response.Store.UsedPercent = float64(usage.UsedBytes) / float64(usage.CapacityBytes) * 100
	}
	response.CPUPercent, response.MemoryPercent = h.systemStats()

	writeData(w, h.log, http.StatusOK, response)
}

func (h *SystemHandlers) jobStatuses() []JobStatus {
	out := make([]JobStatus, 0)
	if h.jobs == nil {
		return out
	}

	names := h.jobs.Jobs()
	sort.Strings(names)
	for _, name := range names {
		status := JobStatus{Name: name}
		if next := h.jobs.Next(name); !next.IsZero() {
			status.NextRun = next.Format(time.RFC3339)
		}
		out = append(out, status)
	}
	return out
}

// getSystemStats returns host CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the request fast
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
