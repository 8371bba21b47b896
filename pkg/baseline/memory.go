package baseline

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/ckcm0210/watchdog/pkg/logger"
)

// memoryMonitor pauses the build when the process resident set exceeds
// the configured budget. The check is advisory: one forced collection
// and a short pause, then a re-check; still over budget means the build
// should halt and persist its progress.
type memoryMonitor struct {
	limitMB int64
	proc    *process.Process
}

func newMemoryMonitor(limitMB int64) *memoryMonitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.WarnCF("baseline", "Memory monitor unavailable", map[string]any{
			"error": err.Error(),
		})
		return &memoryMonitor{limitMB: limitMB}
	}
	return &memoryMonitor{limitMB: limitMB, proc: proc}
}

func (m *memoryMonitor) rssMB() int64 {
	if m.proc == nil {
		return 0
	}
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return 0
	}
	return int64(info.RSS / (1024 * 1024))
}

// overBudget reports whether the build should halt for memory pressure.
// A first exceedance forces a collection and re-checks after a pause.
func (m *memoryMonitor) overBudget() bool {
	if m.limitMB <= 0 || m.proc == nil {
		return false
	}

	rss := m.rssMB()
	if rss <= m.limitMB {
		return false
	}

	logger.WarnCF("baseline", "Memory over budget, forcing collection", map[string]any{
		"rss_mb":   rss,
		"limit_mb": m.limitMB,
	})
	runtime.GC()
	time.Sleep(2 * time.Second)

	rss = m.rssMB()
	if rss <= m.limitMB {
		return false
	}

	logger.ErrorCF("baseline", "Memory still over budget after collection", map[string]any{
		"rss_mb":   rss,
		"limit_mb": m.limitMB,
	})
	return true
}
