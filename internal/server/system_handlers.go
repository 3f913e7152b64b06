package server

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

var processStart = time.Now()

// handleSystemStatus reports host and process health for the ops view.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"uptime_seconds": int64(time.Since(processStart).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"pid":            os.Getpid(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		status["cpu_percent"] = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		status["memory"] = map[string]interface{}{
			"total_mb":     memStat.Total / 1024 / 1024,
			"used_mb":      memStat.Used / 1024 / 1024,
			"used_percent": memStat.UsedPercent,
		}
	}

	if diskStat, err := disk.Usage(s.cfg.DataDir); err == nil {
		status["disk"] = map[string]interface{}{
			"total_gb":     float64(diskStat.Total) / 1024 / 1024 / 1024,
			"free_gb":      float64(diskStat.Free) / 1024 / 1024 / 1024,
			"used_percent": diskStat.UsedPercent,
		}
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleBackupNow triggers an immediate data backup in the background.
func (s *Server) handleBackupNow(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Backup == nil {
		s.writeJSON(w, http.StatusNotImplemented, map[string]interface{}{
			"ok":    false,
			"error": "backup is not configured",
		})
		return
	}

	go func() {
		if err := s.cfg.Backup.Run(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("Manual backup failed")
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"ok": true})
}
