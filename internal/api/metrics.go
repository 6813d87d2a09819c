package api

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats - состояние процесса в ответе /health
type ProcessStats struct {
	Uptime     string  `json:"uptime"`
	RSSMB      float64 `json:"rss_mb"`
	HeapMB     float64 `json:"heap_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	ServerTime int64   `json:"server_time"`
}

// ServerMetrics собирает ProcessStats через gopsutil
type ServerMetrics struct {
	started time.Time
	proc    *process.Process // nil, если gopsutil не видит процесс
}

func NewServerMetrics() *ServerMetrics {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &ServerMetrics{started: time.Now(), proc: proc}
}

// Uptime округлён до секунды
func (sm *ServerMetrics) Uptime() time.Duration {
	return time.Since(sm.started).Round(time.Second)
}

// cpuPercent - загрузка процесса, иначе системная
func (sm *ServerMetrics) cpuPercent() float64 {
	if sm.proc != nil {
		if p, err := sm.proc.CPUPercent(); err == nil {
			return p
		}
	}
	total, err := cpu.Percent(0, false)
	if err != nil || len(total) == 0 {
		return 0
	}
	return total[0]
}

func (sm *ServerMetrics) rssMB() float64 {
	if sm.proc == nil {
		return 0
	}
	mem, err := sm.proc.MemoryInfo()
	if err != nil {
		return 0
	}
	return float64(mem.RSS) / (1 << 20)
}

// Snapshot собирает текущее состояние процесса
func (sm *ServerMetrics) Snapshot() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ProcessStats{
		Uptime:     sm.Uptime().String(),
		RSSMB:      sm.rssMB(),
		HeapMB:     float64(m.HeapAlloc) / (1 << 20),
		CPUPercent: sm.cpuPercent(),
		Goroutines: runtime.NumGoroutine(),
		ServerTime: time.Now().Unix(),
	}
}
