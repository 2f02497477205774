package process

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcUsage holds CPU and memory usage for one process.
// CPU is percent over the process lifetime, Mem is resident bytes.
type ProcUsage struct {
	PID     int     `json:"pid"`
	CPU     float64 `json:"cpu"`
	Mem     uint64  `json:"mem"`
	Cmdline string  `json:"cmdline,omitempty"`
}

// GetSelfUsage returns usage for the current process.
func GetSelfUsage() (*ProcUsage, error) {
	return GetProcUsage(os.Getpid())
}

// GetProcUsage returns usage for a given pid, read from /proc.
func GetProcUsage(pid int) (*ProcUsage, error) {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, fmt.Errorf("process %d not found or inaccessible: %w", pid, err)
	}
	fields := strings.Fields(string(stat))
	if len(fields) < 24 {
		return nil, fmt.Errorf("unexpected stat fields for process %d: got %d, need at least 24", pid, len(fields))
	}

	var times [4]float64
	for i, idx := range []int{13, 14, 15, 16} {
		v, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cpu time for process %d: %w", pid, err)
		}
		times[i] = v
	}
	totalTime := times[0] + times[1] + times[2] + times[3]

	starttime, err := strconv.ParseFloat(fields[21], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse starttime for process %d: %w", pid, err)
	}

	// /proc/uptime can vanish during shutdown; treat as zero.
	uptimeBytes, err := os.ReadFile("/proc/uptime")
	if err != nil {
		uptimeBytes = []byte("0 0")
	}
	uptime := 0.0
	if uf := strings.Fields(string(uptimeBytes)); len(uf) > 0 {
		if v, err := strconv.ParseFloat(uf[0], 64); err == nil {
			uptime = v
		}
	}

	clkTck := float64(100) // Linux default
	seconds := uptime - (starttime / clkTck)
	cpuPercent := 0.0
	if seconds > 0 {
		cpuPercent = 100 * (totalTime / clkTck) / seconds
	}

	mem := uint64(0)
	if statm, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid)); err == nil {
		if mf := strings.Fields(string(statm)); len(mf) > 1 {
			if pages, err := strconv.ParseUint(mf[1], 10, 64); err == nil {
				mem = pages * 4096
			}
		}
	}

	cmdline, _ := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))

	return &ProcUsage{
		PID:     pid,
		CPU:     cpuPercent,
		Mem:     mem,
		Cmdline: strings.ReplaceAll(string(cmdline), "\x00", " "),
	}, nil
}
