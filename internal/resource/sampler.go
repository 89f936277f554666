package resource

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// Sample is a raw point-in-time reading of system resource usage.
type Sample struct {
	CPUPercent        float64
	MemoryPercent     float64
	MemoryUsedMB      float64
	MemoryAvailableMB float64
	DiskUsagePercent  float64
}

// SystemSampler abstracts OS metrics collection so control loops can be
// tested deterministically without real CPU or memory pressure.
type SystemSampler interface {
	Sample() (Sample, error)
}

// ProcSampler reads CPU and memory usage from the proc filesystem and
// disk usage via statfs. CPU percent is computed from the delta between
// consecutive samples, so the first reading reports zero CPU.
type ProcSampler struct {
	procRoot string
	diskPath string

	mu        sync.Mutex
	prevBusy  uint64
	prevTotal uint64
}

// NewProcSampler creates a sampler backed by /proc and the root filesystem.
func NewProcSampler() *ProcSampler {
	return &ProcSampler{
		procRoot: "/proc",
		diskPath: "/",
	}
}

// Sample implements SystemSampler.
func (s *ProcSampler) Sample() (Sample, error) {
	cpu, err := s.sampleCPU()
	if err != nil {
		return Sample{}, fmt.Errorf("cpu sample failed: %w", err)
	}

	totalMB, availMB, err := s.sampleMemory()
	if err != nil {
		return Sample{}, fmt.Errorf("memory sample failed: %w", err)
	}

	disk, err := s.sampleDisk()
	if err != nil {
		return Sample{}, fmt.Errorf("disk sample failed: %w", err)
	}

	usedMB := totalMB - availMB
	memPercent := 0.0
	if totalMB > 0 {
		memPercent = usedMB / totalMB * 100
	}

	return Sample{
		CPUPercent:        cpu,
		MemoryPercent:     memPercent,
		MemoryUsedMB:      usedMB,
		MemoryAvailableMB: availMB,
		DiskUsagePercent:  disk,
	}, nil
}

func (s *ProcSampler) sampleCPU() (float64, error) {
	f, err := os.Open(s.procRoot + "/stat")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, fmt.Errorf("empty stat file")
	}

	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, fmt.Errorf("unexpected stat format")
	}

	var total, idle uint64
	for i, field := range fields[1:] {
		v, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse stat field %d: %w", i, err)
		}
		total += v
		// idle + iowait
		if i == 3 || i == 4 {
			idle += v
		}
	}
	busy := total - idle

	s.mu.Lock()
	defer s.mu.Unlock()

	deltaBusy := busy - s.prevBusy
	deltaTotal := total - s.prevTotal
	first := s.prevTotal == 0
	s.prevBusy = busy
	s.prevTotal = total

	if first || deltaTotal == 0 {
		return 0, nil
	}
	return float64(deltaBusy) / float64(deltaTotal) * 100, nil
}

func (s *ProcSampler) sampleMemory() (totalMB, availMB float64, err error) {
	f, err := os.Open(s.procRoot + "/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var totalKB, availKB uint64
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			availKB, _ = strconv.ParseUint(fields[1], 10, 64)
		}
		if totalKB > 0 && availKB > 0 {
			break
		}
	}
	if totalKB == 0 {
		return 0, 0, fmt.Errorf("MemTotal not found")
	}

	return float64(totalKB) / 1024, float64(availKB) / 1024, nil
}

func (s *ProcSampler) sampleDisk() (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(s.diskPath, &st); err != nil {
		return 0, err
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	used := float64(st.Blocks - st.Bavail)
	return used / float64(st.Blocks) * 100, nil
}
