// Package config holds the programmatic startup parameters of a node.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultServiceName is the mDNS service peers advertise under.
	DefaultServiceName = "lanchat"

	// DefaultMaxFrameSize is the largest encoded frame a node publishes.
	DefaultMaxFrameSize = 64 * 1024
)

// Config describes one node. The zero value is not usable; start from
// Default.
type Config struct {
	// DisplayName is sent to peers in the identification exchange.
	DisplayName string

	// ListenPort is used for both TCP and QUIC; 0 picks a random port.
	ListenPort int
	// ListenAddrs overrides the listen multiaddrs derived from ListenPort.
	ListenAddrs []string

	// PrivateKey is the node identity. Nil generates an ephemeral one.
	PrivateKey crypto.PrivKey

	// EnableMDNS turns the LAN discovery service on.
	EnableMDNS        bool
	ServiceName       string
	AdvertiseInterval time.Duration
	PeerTTL           time.Duration

	MaxFrameSize      int
	HeartbeatInterval time.Duration
	PublishWorkers    int
	PublishQueueDepth int
	PeerQueueSize     int

	DialWorkers    int
	DialQueueDepth int
	DialTimeout    time.Duration
	DialBackoff    time.Duration

	ConnLow  int
	ConnHigh int

	EventBuffer int

	// Registerer receives the node's metrics. Nil uses a private registry.
	Registerer prometheus.Registerer
}

// Default returns a configuration suited to a small LAN.
func Default() Config {
	return Config{
		DisplayName:       "anonymous",
		EnableMDNS:        true,
		ServiceName:       DefaultServiceName,
		AdvertiseInterval: 10 * time.Second,
		PeerTTL:           35 * time.Second,
		MaxFrameSize:      DefaultMaxFrameSize,
		HeartbeatInterval: 700 * time.Millisecond,
		PublishWorkers:    2,
		PublishQueueDepth: 64,
		PeerQueueSize:     32,
		DialWorkers:       4,
		DialQueueDepth:    32,
		DialTimeout:       15 * time.Second,
		DialBackoff:       5 * time.Second,
		ConnLow:           50,
		ConnHigh:          200,
		EventBuffer:       256,
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65534 {
		return fmt.Errorf("listen port %d out of range", c.ListenPort)
	}
	if c.EnableMDNS {
		if c.ServiceName == "" {
			return errors.New("mDNS service name is required")
		}
		if c.AdvertiseInterval <= 0 {
			return errors.New("advertise interval must be positive")
		}
		if c.PeerTTL <= c.AdvertiseInterval {
			return fmt.Errorf("peer ttl %s must exceed advertise interval %s", c.PeerTTL, c.AdvertiseInterval)
		}
	}
	if c.MaxFrameSize <= 0 {
		return errors.New("max frame size must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.PublishWorkers < 1 || c.DialWorkers < 1 {
		return errors.New("worker counts must be at least 1")
	}
	if c.PublishQueueDepth < 1 || c.DialQueueDepth < 1 {
		return errors.New("queue depths must be at least 1")
	}
	if c.PeerQueueSize < 1 {
		return errors.New("peer queue size must be at least 1")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if c.ConnLow < 0 || c.ConnHigh < c.ConnLow {
		return fmt.Errorf("connection watermarks %d/%d are inconsistent", c.ConnLow, c.ConnHigh)
	}
	if c.EventBuffer < 1 {
		return errors.New("event buffer must be at least 1")
	}
	return nil
}

// Listen returns the multiaddrs to bind: TCP and QUIC on ListenPort unless
// ListenAddrs is set.
func (c Config) Listen() []string {
	if len(c.ListenAddrs) > 0 {
		return c.ListenAddrs
	}
	return []string{
		fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", c.ListenPort),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", c.ListenPort),
	}
}
