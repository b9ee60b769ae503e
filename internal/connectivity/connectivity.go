// Package connectivity gates network work on the preferred (unmetered)
// network. Downloads and uploads are opportunistic background work that
// should only ride on wifi unless the trigger explicitly overrides.
package connectivity

import (
	"context"
	"net"
	"strings"
	"time"
)

// Policy names which networks a run may use.
type Policy string

const (
	// PolicyWifi allows work only while the preferred network is up.
	PolicyWifi Policy = "wifi"
	// PolicyAny overrides the preferred-network gate.
	PolicyAny Policy = "any"
)

// ParsePolicy maps a trigger-supplied connectivity string to a Policy,
// defaulting to the wifi-only gate.
func ParsePolicy(s string) Policy {
	if strings.Contains(strings.ToLower(s), "any") {
		return PolicyAny
	}

	return PolicyWifi
}

// Checker reports whether the preferred network is currently usable.
type Checker interface {
	PreferredNetworkUp(ctx context.Context) bool
}

// InterfaceChecker decides based on the state of named network interfaces,
// optionally confirmed by a dial probe. An empty probe address skips the
// probe.
type InterfaceChecker struct {
	// Prefixes of interface names counted as the preferred network
	// (wlan0, wlp2s0, ...).
	Prefixes []string

	ProbeAddress string
	ProbeTimeout time.Duration
}

func NewInterfaceChecker(prefixes []string, probeAddress string, probeTimeout time.Duration) *InterfaceChecker {
	return &InterfaceChecker{
		Prefixes:     prefixes,
		ProbeAddress: probeAddress,
		ProbeTimeout: probeTimeout,
	}
}

func (c *InterfaceChecker) PreferredNetworkUp(ctx context.Context) bool {
	if !c.interfaceUp() {
		return false
	}

	if c.ProbeAddress == "" {
		return true
	}

	dialer := net.Dialer{Timeout: c.ProbeTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", c.ProbeAddress)
	if err != nil {
		return false
	}

	conn.Close()

	return true
}

func (c *InterfaceChecker) interfaceUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		for _, prefix := range c.Prefixes {
			if strings.HasPrefix(iface.Name, strings.TrimSpace(prefix)) {
				return true
			}
		}
	}

	return false
}

// Static is a fixed-answer checker for hosts that manage connectivity
// elsewhere, and for tests.
type Static bool

func (s Static) PreferredNetworkUp(context.Context) bool {
	return bool(s)
}
