package health

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

const bytesPerGB = 1 << 30

// ProcessInspector reports resource usage of a named OS process
type ProcessInspector interface {
	ResidentMemory(name string) (uint64, error)
}

// SystemStats are raw host resource readings
type SystemStats struct {
	CPUPercent   float64
	MemAvailable uint64
	MemTotal     uint64
	DiskFree     uint64
	DiskTotal    uint64
	Load1        float64
	Load5        float64
	Load15       float64
}

// SystemInspector reads host resource usage
type SystemInspector interface {
	Stats(ctx context.Context) (SystemStats, error)
}

// ProcFS inspects processes and host resources through /proc
type ProcFS struct {
	fs procfs.FS

	// DiskPath is the filesystem whose free space is reported
	DiskPath string

	// CPUSample is the window over which CPU usage is measured
	CPUSample time.Duration
}

// NewProcFS opens the proc filesystem at mountPoint (usually "/proc")
func NewProcFS(mountPoint, diskPath string) (*ProcFS, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs at %s: %w", mountPoint, err)
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &ProcFS{
		fs:        fs,
		DiskPath:  diskPath,
		CPUSample: 500 * time.Millisecond,
	}, nil
}

// ResidentMemory returns the RSS in bytes of the first process whose comm
// or executable basename equals name.
func (p *ProcFS) ResidentMemory(name string) (uint64, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, proc := range procs {
		if !processMatches(proc, name) {
			continue
		}
		stat, err := proc.Stat()
		if err != nil {
			continue
		}
		return uint64(stat.ResidentMemory()), nil
	}
	return 0, fmt.Errorf("process %q not found", name)
}

func processMatches(proc procfs.Proc, name string) bool {
	if comm, err := proc.Comm(); err == nil && comm == truncateComm(name) {
		return true
	}
	if exe, err := proc.Executable(); err == nil && filepath.Base(exe) == name {
		return true
	}
	return false
}

// truncateComm mirrors the kernel's 15 character limit on comm
func truncateComm(name string) string {
	if len(name) > 15 {
		return name[:15]
	}
	return name
}

// Stats reads memory, load, disk and a short CPU sample
func (p *ProcFS) Stats(ctx context.Context) (SystemStats, error) {
	var stats SystemStats

	mem, err := p.fs.Meminfo()
	if err != nil {
		return stats, fmt.Errorf("failed to read meminfo: %w", err)
	}
	if mem.MemAvailable != nil {
		stats.MemAvailable = *mem.MemAvailable * 1024
	}
	if mem.MemTotal != nil {
		stats.MemTotal = *mem.MemTotal * 1024
	}

	if load, err := p.fs.LoadAvg(); err == nil {
		stats.Load1, stats.Load5, stats.Load15 = load.Load1, load.Load5, load.Load15
	}

	var st unix.Statfs_t
	if err := unix.Statfs(p.DiskPath, &st); err != nil {
		return stats, fmt.Errorf("failed to stat filesystem %s: %w", p.DiskPath, err)
	}
	stats.DiskFree = st.Bavail * uint64(st.Bsize)
	stats.DiskTotal = st.Blocks * uint64(st.Bsize)

	cpu, err := p.cpuPercent(ctx)
	if err != nil {
		return stats, err
	}
	stats.CPUPercent = cpu

	return stats, nil
}

func (p *ProcFS) cpuPercent(ctx context.Context) (float64, error) {
	before, err := p.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu stat: %w", err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(p.CPUSample):
	}

	after, err := p.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to read cpu stat: %w", err)
	}

	busy := func(c procfs.CPUStat) (float64, float64) {
		idle := c.Idle + c.Iowait
		total := c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal + idle
		return total - idle, total
	}
	b0, t0 := busy(before.CPUTotal)
	b1, t1 := busy(after.CPUTotal)
	if t1 <= t0 {
		return 0, nil
	}
	return (b1 - b0) / (t1 - t0) * 100, nil
}

func toGB(b uint64) float64 {
	return float64(b) / bytesPerGB
}
