// Package health reports whether the session, audio, ambient and renderer
// components are usable.
package health

import (
	"sort"
	"sync"
	"time"
)

// Component names reported by go-orb.
const (
	ComponentSession  = "session"
	ComponentAudio    = "audio"
	ComponentAmbient  = "ambient"
	ComponentRenderer = "renderer"
)

// Overall status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports a component's live health.
type Probe func() (healthy bool, message string)

// Checker tracks health of system components. A component is either set
// explicitly or backed by a Probe evaluated on every status read.
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]Check
	probes     map[string]Probe
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]Probe),
	}
}

// SetComponent updates a component's health status
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.probes, name)
	c.components[name] = Check{
		Healthy:   healthy,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// Register backs a component with a probe. It replaces any static value.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.components, name)
	c.probes[name] = probe
}

// Remove forgets a component.
func (c *Checker) Remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.components, name)
	delete(c.probes, name)
}

// Names returns the known component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.components)+len(c.probes))
	for k := range c.components {
		names = append(names, k)
	}
	for k := range c.probes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// snapshot evaluates probes outside the lock.
func (c *Checker) snapshot() map[string]Check {
	c.mu.RLock()
	components := make(map[string]Check, len(c.components)+len(c.probes))
	for k, v := range c.components {
		components[k] = v
	}
	probes := make(map[string]Probe, len(c.probes))
	for k, p := range c.probes {
		probes[k] = p
	}
	c.mu.RUnlock()

	now := time.Now()
	for name, probe := range probes {
		healthy, msg := probe()
		components[name] = Check{Healthy: healthy, Message: msg, LastCheck: now}
	}
	return components
}

// GetStatus returns the overall health status
func (c *Checker) GetStatus() Status {
	components := c.snapshot()

	status := StatusOK
	for _, check := range components {
		if !check.Healthy {
			status = StatusDegraded
			break
		}
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	return c.GetStatus().Status == StatusOK
}
