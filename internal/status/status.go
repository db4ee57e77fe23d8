// Package status tracks live server statistics reported by the root endpoint.
package status

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// MemoryUsage is the resident and virtual memory of the process in bytes.
type MemoryUsage struct {
	PhysicalUsed uint64 `json:"physicalUsed"`
	VirtualUsed  uint64 `json:"virtualUsed"`
}

// Snapshot is the serialized form of Status.
type Snapshot struct {
	Uptime   float64           `json:"uptime"`
	Requests uint64            `json:"requests"`
	Memory   *MemoryUsage      `json:"memory"`
	Models   map[string]string `json:"models,omitempty"`
}

// Status is owned by the server; one instance per server.
type Status struct {
	start    time.Time
	requests atomic.Uint64
	proc     *process.Process
}

// New starts the uptime clock.
func New() *Status {
	s := &Status{start: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

// IncrementRequests counts one handled embedding request.
func (s *Status) IncrementRequests() {
	s.requests.Add(1)
}

// Requests returns the number of counted requests.
func (s *Status) Requests() uint64 {
	return s.requests.Load()
}

// Snapshot reads the current values. Memory is nil when the platform does not report it.
func (s *Status) Snapshot(models map[string]string) Snapshot {
	return Snapshot{
		Uptime:   time.Since(s.start).Seconds(),
		Requests: s.requests.Load(),
		Memory:   s.memory(),
		Models:   models,
	}
}

func (s *Status) memory() *MemoryUsage {
	if s.proc == nil {
		return nil
	}
	info, err := s.proc.MemoryInfo()
	if err != nil {
		return nil
	}
	return &MemoryUsage{PhysicalUsed: info.RSS, VirtualUsed: info.VMS}
}
