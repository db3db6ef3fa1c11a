package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/cpu/classes/total:cpu-seconds"

// ResourceUsage is a coarse view of the process reported by /api/stats.
type ResourceUsage struct {
	CPUPercent  float64       `json:"cpu_percent"`
	MemoryBytes uint64        `json:"memory_bytes"`
	Goroutines  int           `json:"goroutines"`
	Uptime      time.Duration `json:"uptime_ns"`
}

// usageSampler derives CPU utilisation from the delta between two samples.
type usageSampler struct {
	mu         sync.Mutex
	sample     []metrics.Sample
	startedAt  time.Time
	lastCPU    float64
	lastSample time.Time
	numCPU     float64
}

func newUsageSampler() *usageSampler {
	return &usageSampler{
		sample:    []metrics.Sample{{Name: cpuSecondsMetric}},
		startedAt: time.Now(),
		numCPU:    float64(runtime.NumCPU()),
	}
}

// Snapshot reads the current usage. The first call reports 0% CPU.
func (u *usageSampler) Snapshot() ResourceUsage {
	if u == nil {
		return ResourceUsage{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now()
	usage := ResourceUsage{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     now.Sub(u.startedAt),
	}

	metrics.Read(u.sample)
	if value := u.sample[0].Value; value.Kind() == metrics.KindFloat64 {
		cpu := value.Float64()
		if !u.lastSample.IsZero() {
			if wall := now.Sub(u.lastSample).Seconds(); wall > 0 && u.numCPU > 0 {
				usage.CPUPercent = (cpu - u.lastCPU) / wall / u.numCPU * 100
			}
		}
		u.lastCPU = cpu
		u.lastSample = now
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	return usage
}
