package metrics

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMetrics метрики процесса отладчика
type ProcessMetrics struct {
	StartTime time.Time

	proc *process.Process
}

// NewProcessMetrics создаёт метрики текущего процесса
func NewProcessMetrics() *ProcessMetrics {
	pm := &ProcessMetrics{StartTime: time.Now()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		pm.proc = proc
	}
	return pm
}

// Uptime время работы процесса в читаемом виде
func (pm *ProcessMetrics) Uptime() string {
	uptime := time.Since(pm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	}
	return fmt.Sprintf("%dс", seconds)
}

// MemoryUsageMB занятая куча в MB
func (pm *ProcessMetrics) MemoryUsageMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}

// CPUUsage использование CPU процессом в процентах.
// Если метрика процесса недоступна, возвращает загрузку системы.
func (pm *ProcessMetrics) CPUUsage() (float64, error) {
	if pm.proc != nil {
		if percent, err := pm.proc.CPUPercent(); err == nil {
			return percent, nil
		}
	}

	percents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("cpu: нет данных")
	}
	return percents[0], nil
}

// Snapshot сводка для /health
func (pm *ProcessMetrics) Snapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	result := map[string]interface{}{
		"uptime":        pm.Uptime(),
		"alloc_mb":      float64(m.Alloc) / 1024 / 1024,
		"sys_mb":        float64(m.Sys) / 1024 / 1024,
		"heap_alloc_mb": float64(m.HeapAlloc) / 1024 / 1024,
		"num_gc":        m.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}
	if percent, err := pm.CPUUsage(); err == nil {
		result["cpu_percent"] = percent
	}
	return result
}
