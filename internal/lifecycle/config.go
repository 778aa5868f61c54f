package lifecycle

import "time"

// Defaults applied when corresponding Config fields are unset.
const (
	defaultWorkerHost    = "127.0.0.1"
	defaultPortBase      = 6000
	defaultHealthPath    = "/status"
	defaultInferPath     = "/webhooks/rest/webhook"
	defaultMaxQueueDepth = 64
	defaultMaxQueueWait  = 30 * time.Second
	defaultReadyTimeout  = 60 * time.Second
	defaultProbeInterval = 250 * time.Millisecond
	defaultProbeTimeout  = 1 * time.Second
	defaultDrainTimeout  = 15 * time.Second
)

// Config encapsulates all tunables for the lifecycle core.
type Config struct {
	// WorkerHost is the host worker processes listen on.
	WorkerHost string
	// PortBase is the first port of the range slots are assigned from.
	// Each model name gets two consecutive ports, one per slot; the
	// supervisor's program entries are expected to follow the same
	// convention.
	PortBase int
	// HealthPath is probed on the worker to decide readiness.
	HealthPath string
	// InferencePath receives forwarded inference requests.
	InferencePath string
	// MaxQueueDepth bounds requests parked per model while no slot is
	// active. Beyond it, callers get backpressure instead of a hold.
	MaxQueueDepth int
	// MaxQueueWait bounds how long a parked request may wait.
	MaxQueueWait time.Duration
	// ReadyTimeout bounds one promotion attempt end to end.
	ReadyTimeout time.Duration
	// ProbeInterval is the pause between readiness probes.
	ProbeInterval time.Duration
	// ProbeTimeout bounds a single readiness probe.
	ProbeTimeout time.Duration
	// DrainTimeout bounds the wait for a superseded slot's in-flight work.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerHost == "" {
		c.WorkerHost = defaultWorkerHost
	}
	if c.PortBase <= 0 {
		c.PortBase = defaultPortBase
	}
	if c.HealthPath == "" {
		c.HealthPath = defaultHealthPath
	}
	if c.InferencePath == "" {
		c.InferencePath = defaultInferPath
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = defaultMaxQueueDepth
	}
	if c.MaxQueueWait <= 0 {
		c.MaxQueueWait = defaultMaxQueueWait
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	return c
}
