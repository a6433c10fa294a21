package domain

import "sync"

// Backend names reported by RuntimeConfig
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendKafka    = "kafka"
)

// RuntimeConfig tracks which backends and services are in use.
// Backends are fixed at startup; generator availability changes when the
// generator is swapped. Thread-safe for concurrent access.
type RuntimeConfig struct {
	mu sync.RWMutex

	// Static (set at startup, read-only)
	SessionBackend string
	QueueBackend   string
	EventBackends  []string

	generatorAvailable bool
	generatorModel     string
}

// NewRuntimeConfig creates a new RuntimeConfig with initial values
func NewRuntimeConfig(sessionBackend, queueBackend string, eventBackends ...string) *RuntimeConfig {
	return &RuntimeConfig{
		SessionBackend: sessionBackend,
		QueueBackend:   queueBackend,
		EventBackends:  eventBackends,
	}
}

// GeneratorAvailable reports whether content can be generated
func (c *RuntimeConfig) GeneratorAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generatorAvailable
}

// GeneratorModel returns the active model tag, empty when unavailable
func (c *RuntimeConfig) GeneratorModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generatorModel
}

// SetGenerator records the active generator model.
// An empty model marks generation unavailable.
func (c *RuntimeConfig) SetGenerator(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generatorModel = model
	c.generatorAvailable = model != ""
}
