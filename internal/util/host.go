package util

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	mib = 1 << 20
	gib = 1 << 30
)

// SystemInfo describes the host running craftkeeper.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	Uptime       uint64 `json:"host_uptime_seconds"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo describes the host. Fields gopsutil cannot read on this
// platform keep their runtime fallback or stay empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
	info.Hostname, _ = os.Hostname()

	if h, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", h.Platform, h.PlatformVersion)
		info.Uptime = h.Uptime
	}
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total / mib
	}
	return info
}

// MemoryUsage is a snapshot of host memory in MiB.
type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Used        uint64  `json:"used_mb"`
	Available   uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// DiskUsage is a snapshot of the filesystem holding a path, in GiB.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total_gb"`
	Used        uint64  `json:"used_gb"`
	Free        uint64  `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// ProcessUsage describes the craftkeeper process itself.
type ProcessUsage struct {
	PID        int32   `json:"pid"`
	RSSMB      float64 `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

// HostUsage combines host and process load. Sections that could not be
// read are nil.
type HostUsage struct {
	CPUPercent float64       `json:"cpu_percent"`
	Memory     *MemoryUsage  `json:"memory,omitempty"`
	Disk       *DiskUsage    `json:"disk,omitempty"`
	Process    *ProcessUsage `json:"process,omitempty"`
}

// GetMemoryUsage returns current system memory usage.
func GetMemoryUsage() (*MemoryUsage, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}
	return &MemoryUsage{
		Total:       vm.Total / mib,
		Used:        vm.Used / mib,
		Available:   vm.Available / mib,
		UsedPercent: vm.UsedPercent,
	}, nil
}

// GetDiskUsage returns usage of the filesystem holding path.
func GetDiskUsage(path string) (*DiskUsage, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage of %s: %w", path, err)
	}
	return &DiskUsage{
		Path:        path,
		Total:       u.Total / gib,
		Used:        u.Used / gib,
		Free:        u.Free / gib,
		UsedPercent: u.UsedPercent,
	}, nil
}

// GetCPUUsage returns host-wide CPU usage since the previous call.
func GetCPUUsage() (float64, error) {
	pct, err := cpu.Percent(0, false)
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(pct) == 0 {
		return 0, nil
	}
	return pct[0], nil
}

// GetProcessUsage describes the current process.
func GetProcessUsage() (*ProcessUsage, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open own process: %w", err)
	}

	usage := &ProcessUsage{
		PID:        proc.Pid,
		Goroutines: runtime.NumGoroutine(),
	}
	if mi, err := proc.MemoryInfo(); err == nil {
		usage.RSSMB = float64(mi.RSS) / mib
	}
	if pct, err := proc.CPUPercent(); err == nil {
		usage.CPUPercent = pct
	}
	if n, err := proc.NumThreads(); err == nil {
		usage.Threads = n
	}
	return usage, nil
}

// GetHostUsage gathers CPU, memory, the disk holding diskPath and the
// process itself. An empty diskPath skips the disk section. Only a
// CPU read failure is returned as an error.
func GetHostUsage(diskPath string) (*HostUsage, error) {
	cpuPct, err := GetCPUUsage()
	if err != nil {
		return nil, err
	}

	usage := &HostUsage{CPUPercent: cpuPct}
	usage.Memory, _ = GetMemoryUsage()
	if diskPath != "" {
		usage.Disk, _ = GetDiskUsage(diskPath)
	}
	usage.Process, _ = GetProcessUsage()
	return usage, nil
}

// FileExists reports whether anything exists at path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// EnsureDir creates path and its parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
