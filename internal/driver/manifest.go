// Package driver implements the Driver Registry: manifest registration,
// capability-indexed dispatch, instance lifecycle, and event routing
// with per-driver failure isolation.
package driver

import (
	"fmt"
	"strings"
)

// Type classifies what a driver is for.
type Type string

const (
	TypeAgent Type = "AGENT"
	TypeTool  Type = "TOOL"
	TypeIO    Type = "IO"
	TypeUI    Type = "UI"
)

// ResourceRequirements describes a driver's runtime footprint, used by
// the registry's (optional) timeout guard and by deployment tooling to
// size a host.
type ResourceRequirements struct {
	MemoryMB      int
	TimeoutSec    int
	MaxConcurrent int
	RequiresGPU   bool
	EnvVars       []string
}

// Manifest declares a driver's identity and capabilities. id must be
// unique within a registry; capabilities must be non-empty.
type Manifest struct {
	ID           string
	Name         string
	Version      string
	Author       string
	Description  string
	DriverType   Type
	Capabilities []string
	Resources    ResourceRequirements
	Dependencies []string
	ConfigSchema map[string]any
	Enabled      bool
}

func (m Manifest) validate() error {
	if m.ID == "" {
		return fmt.Errorf("driver: manifest id must not be empty")
	}
	if len(m.Capabilities) == 0 {
		return fmt.Errorf("driver: manifest %q must declare at least one capability", m.ID)
	}
	return nil
}

// matchesCapability reports whether capability (declared by a driver's
// manifest) covers eventType: exact match, or a "prefix.*" wildcard
// whose prefix matches.
func matchesCapability(capability, eventType string) bool {
	if capability == eventType {
		return true
	}
	if strings.HasSuffix(capability, ".*") {
		prefix := strings.TrimSuffix(capability, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return false
}
