package httpapi

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

var processStart = time.Now()

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus reports process and host health. Collection failures drop
// the affected section instead of failing the endpoint.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"service":        "neoguard",
		"status":         "ok",
		"uptime_seconds": int64(time.Since(processStart).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
	}

	system := map[string]interface{}{}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		system["memory_total_bytes"] = vm.Total
		system["memory_used_percent"] = vm.UsedPercent
	}
	if pct, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pct) > 0 {
		system["cpu_percent"] = pct[0]
	}
	if uptime, err := host.UptimeWithContext(r.Context()); err == nil {
		system["host_uptime_seconds"] = uptime
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(r.Context()); err == nil {
			system["process_rss_bytes"] = info.RSS
		}
	}
	if len(system) > 0 {
		status["system"] = system
	}

	writeJSON(w, http.StatusOK, status)
}
