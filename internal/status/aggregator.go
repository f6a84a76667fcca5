package status

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/harvestgrid/fieldgate-core/internal/gateway"
)

// defaultSampleInterval bounds how often process metrics are read.
const defaultSampleInterval = 5 * time.Second

// Broker is the JSON shape of the derived broker-status value.
type Broker struct {
	Status string `json:"status"`
	Stats  Stats  `json:"stats"`
}

// Stats carries the aggregated counters and formatted process metrics.
type Stats struct {
	Clients  int    `json:"clients"`
	Messages uint64 `json:"messages"`
	Uptime   string `json:"uptime"`
	CPUUsage string `json:"cpuUsage"`
	MemUsage string `json:"memoryUsage"`
}

// StateSource reports the ingestion adapter's connection state.
// Satisfied by *gateway.Gateway.
type StateSource interface {
	State() gateway.State
}

// CountSource reports registry entity counts.
// Satisfied by *registry.Registry.
type CountSource interface {
	DeviceCount() int
	MessageCount() uint64
}

// Logger is the minimal logging interface the aggregator needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// sample is one cached reading of process metrics.
type sample struct {
	cpuPercent float64
	rssBytes   uint64
	takenAt    time.Time
}

// Aggregator periodically samples process CPU and memory and merges the
// cached sample with live registry counts and the gateway connection
// state. Status is side-effect-free and safe to call concurrently with
// ingestion.
type Aggregator struct {
	proc      *process.Process
	gateway   StateSource
	counts    CountSource
	logger    Logger
	interval  time.Duration
	startedAt time.Time

	sampleMu sync.RWMutex
	cached   sample
}

// Options holds configuration for creating an aggregator.
type Options struct {
	// Gateway supplies the connection state. Required.
	Gateway StateSource

	// Counts supplies device and message counters. Required.
	Counts CountSource

	// Logger is an optional structured logger.
	Logger Logger

	// SampleInterval overrides the metrics refresh period. Zero means
	// the default.
	SampleInterval time.Duration
}

// New creates an aggregator bound to the current process. Call Run to
// begin periodic sampling.
func New(opts Options) (*Aggregator, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if opts.Counts == nil {
		return nil, fmt.Errorf("counts source is required")
	}

	interval := opts.SampleInterval
	if interval <= 0 {
		interval = defaultSampleInterval
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open own process: %w", err)
	}

	return &Aggregator{
		proc:      proc,
		gateway:   opts.Gateway,
		counts:    opts.Counts,
		logger:    opts.Logger,
		interval:  interval,
		startedAt: time.Now(),
	}, nil
}

// Run samples process metrics on the configured interval until ctx is
// cancelled. It takes an initial sample immediately so Status never
// reports zeros for longer than one scheduling delay.
func (a *Aggregator) Run(ctx context.Context) {
	a.Refresh(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Refresh(ctx)
		}
	}
}

// Refresh takes one metrics sample now, outside the regular schedule.
func (a *Aggregator) Refresh(ctx context.Context) {
	var s sample
	s.takenAt = time.Now()

	if pct, err := a.proc.CPUPercentWithContext(ctx); err == nil {
		s.cpuPercent = pct
	} else {
		a.warn("cpu sample failed", "error", err)
	}

	if mem, err := a.proc.MemoryInfoWithContext(ctx); err == nil {
		s.rssBytes = mem.RSS
	} else {
		a.warn("memory sample failed", "error", err)
	}

	a.sampleMu.Lock()
	a.cached = s
	a.sampleMu.Unlock()
}

// Status combines the cached process sample with the current gateway
// state and registry counters.
func (a *Aggregator) Status() Broker {
	a.sampleMu.RLock()
	s := a.cached
	a.sampleMu.RUnlock()

	return Broker{
		Status: string(a.gateway.State()),
		Stats: Stats{
			Clients:  a.counts.DeviceCount(),
			Messages: a.counts.MessageCount(),
			Uptime:   formatUptime(time.Since(a.startedAt)),
			CPUUsage: fmt.Sprintf("%.1f%%", s.cpuPercent),
			MemUsage: fmt.Sprintf("%.1fMB", float64(s.rssBytes)/1024/1024),
		},
	}
}

// formatUptime renders elapsed time as whole minutes and seconds, e.g.
// "12m 3s".
func formatUptime(d time.Duration) string {
	total := int64(d.Seconds())
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

func (a *Aggregator) warn(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Warn(msg, args...)
	}
}
