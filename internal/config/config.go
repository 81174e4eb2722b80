// Package config holds the configuration shared by the server and client roles.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config stores every tunable of the file sharing service. Each component
// receives its own copy, so tests can run several independently configured
// instances in one process.
type Config struct {
	// Server side
	Host          string // bind address for both listeners
	TransferPort  int    // TCP file transfer port
	DiscoveryPort int    // UDP service discovery port
	ServiceName   string // identity string sent in discovery replies
	Root          string // directory served by GET/PUT/LIST
	MonitorAddr   string // optional WebSocket stats feed, empty = disabled

	// Client side
	BroadcastAddr string        // destination of discovery probes
	ScanCycles    int           // number of probes per scan
	ScanTimeout   time.Duration // idle window that ends one scan cycle
	LocalDir      string        // directory used by get/put/llist

	// Shared
	ScanMarker    string        // substring that identifies a discovery probe
	RecvSize      int           // chunk size of socket reads
	MaxNameLen    uint64        // upper bound for a filename length field
	StatsInterval time.Duration // period of the stats reporter
}

// Default returns the configuration the service ships with.
func Default() Config {
	return Config{
		Host:          "0.0.0.0",
		TransferPort:  30001,
		DiscoveryPort: 30000,
		ServiceName:   "File Sharing Service",
		Root:          ".",

		BroadcastAddr: "255.255.255.255",
		ScanCycles:    3,
		ScanTimeout:   5 * time.Second,
		LocalDir:      ".",

		ScanMarker:    "SERVICE DISCOVERY",
		RecvSize:      1024,
		MaxNameLen:    4096,
		StatsInterval: 10 * time.Second,
	}
}

// Validate reports the first invalid field, if any.
func (c Config) Validate() error {
	ports := []struct {
		name string
		port int
	}{
		{"transfer port", c.TransferPort},
		{"discovery port", c.DiscoveryPort},
	}
	for _, p := range ports {
		// Port 0 lets the OS pick, which tests rely on.
		if p.port < 0 || p.port > 65535 {
			return fmt.Errorf("invalid %s %d: must be 0~65535", p.name, p.port)
		}
	}
	if c.RecvSize <= 0 {
		return fmt.Errorf("invalid receive size %d", c.RecvSize)
	}
	if c.ScanCycles <= 0 {
		return fmt.Errorf("invalid scan cycles %d", c.ScanCycles)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("invalid scan timeout %v", c.ScanTimeout)
	}
	if c.MaxNameLen == 0 {
		return fmt.Errorf("max filename length must be positive")
	}
	if c.ScanMarker == "" {
		return fmt.Errorf("scan marker must not be empty")
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("invalid stats interval %v", c.StatsInterval)
	}
	return nil
}

// TransferAddr is the host:port the acceptor listens on.
func (c Config) TransferAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.TransferPort))
}

// DiscoveryAddr is the host:port the discovery responder binds.
func (c Config) DiscoveryAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.DiscoveryPort))
}

// ProbeAddr is the destination of the scanner's probes.
func (c Config) ProbeAddr() string {
	return net.JoinHostPort(c.BroadcastAddr, strconv.Itoa(c.DiscoveryPort))
}
