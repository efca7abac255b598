package fork

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/ixbulk/errors"
)

// SystemMetrics tracks resource usage for pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Workers currently running a task
	WorkersTotal  int     `json:"workers_total"`   // Configured workers
	TasksQueued   int     `json:"tasks_queued"`    // Tasks waiting in the pending queue
	LogicalCPUs   int     `json:"logical_cpus"`    // 0 when unknown
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
}

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

func logicalCPUs() int {
	n, err := cpu.Counts(true)
	if err != nil {
		return 0
	}
	return n
}

// calculateSafeWorkerCount recommends a worker count for the available memory and CPUs.
// Each worker holds one open unit-of-work plus a batch of payloads in memory.
func calculateSafeWorkerCount(availableGB float64, cpus int) int {
	const memoryPerWorker = 0.25 // GB per worker with a full batch in flight
	const memoryBuffer = 1.0     // GB reserved for the rest of the system
	const workersPerCPU = 4      // Workers mostly wait on repository I/O

	recommended := 1
	if availableGB > memoryBuffer {
		recommended = int((availableGB - memoryBuffer) / memoryPerWorker)
	}
	if cpus > 0 && recommended > cpus*workersPerCPU {
		recommended = cpus * workersPerCPU
	}
	if recommended < 1 {
		return 1
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage for the pool
func (p *Pool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	return SystemMetrics{
		WorkersActive: p.ActiveCount(),
		WorkersTotal:  p.workers,
		TasksQueued:   p.QueueDepth(),
		LogicalCPUs:   logicalCPUs(),
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
	}
}

// checkCapacity validates the worker count against available memory and CPUs.
// Returns a warning message if the count may be too high, empty string if OK.
func checkCapacity(workers int) string {
	total, available, err := getMemoryStats()
	if err != nil {
		return "" // Can't check, assume OK
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB, logicalCPUs())

	if workers > recommended {
		return fmt.Sprintf(
			"Thread count (%d) exceeds recommended (%d) for available resources (%.1f/%.1fGB free). "+
				"Consider lowering import.thread_count.",
			workers, recommended, availableGB, totalGB)
	}
	return ""
}
