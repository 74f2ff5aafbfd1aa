// Package discovery finds peers on the local network segment with mDNS and
// tracks when they were last seen.
package discovery

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	"github.com/baderanaas/lanchat/pkg/config"
	"github.com/baderanaas/lanchat/pkg/event"
)

var log = logging.Logger("lanchat/discovery")

// foundBuffer bounds sightings waiting for the run loop. mDNS repeats
// itself, so a dropped sighting is recovered on the next round.
const foundBuffer = 64

// PeerAppeared is emitted the first time a peer is seen, and again the
// first time it is seen after expiring.
type PeerAppeared struct {
	Info peer.AddrInfo
}

// PeerRefreshed is emitted for every later sighting of a live peer.
type PeerRefreshed struct {
	Info peer.AddrInfo
}

// PeerExpired is emitted when a peer has not been seen for the TTL.
type PeerExpired struct {
	ID peer.ID
}

func (PeerAppeared) Source() event.Source  { return event.SourceDiscovery }
func (PeerRefreshed) Source() event.Source { return event.SourceDiscovery }
func (PeerExpired) Source() event.Source   { return event.SourceDiscovery }

// Advertiser announces this node and browses for others until closed.
type Advertiser interface {
	Start() error
	Close() error
}

// AdvertiserFactory builds a fresh advertiser reporting sightings to n.
type AdvertiserFactory func(n mdns.Notifee) Advertiser

// Service runs the advertiser on a fixed cadence and turns its sightings
// into discovery events.
type Service struct {
	self     peer.ID
	bus      *event.Bus
	clock    clock.Clock
	interval time.Duration
	ttl      time.Duration
	factory  AdvertiserFactory

	found chan peer.AddrInfo
	// seen is owned by Run.
	seen map[peer.ID]time.Time
}

// New creates an mDNS discovery service for h.
func New(h host.Host, bus *event.Bus, cfg config.Config) *Service {
	factory := func(n mdns.Notifee) Advertiser {
		return mdns.NewMdnsService(h, cfg.ServiceName, n)
	}
	return newService(h.ID(), bus, clock.New(), cfg.AdvertiseInterval, cfg.PeerTTL, factory)
}

func newService(self peer.ID, bus *event.Bus, clk clock.Clock, interval, ttl time.Duration, factory AdvertiserFactory) *Service {
	return &Service{
		self:     self,
		bus:      bus,
		clock:    clk,
		interval: interval,
		ttl:      ttl,
		factory:  factory,
		found:    make(chan peer.AddrInfo, foundBuffer),
		seen:     make(map[peer.ID]time.Time),
	}
}

// HandlePeerFound implements mdns.Notifee. It may be called from any
// goroutine and never blocks.
func (s *Service) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == s.self {
		return
	}
	select {
	case s.found <- info:
	default:
		log.Debugf("discovery backlog full, dropping sighting of %s", info.ID)
	}
}

// Run advertises and browses until ctx is done. The advertiser is restarted
// every interval so announcements and queries go out on a fixed cadence.
func (s *Service) Run(ctx context.Context) error {
	adv := s.start()
	defer func() {
		if adv != nil {
			if err := adv.Close(); err != nil {
				log.Debugf("error closing mdns service: %v", err)
			}
		}
	}()

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case info := <-s.found:
			if !s.observe(ctx, info) {
				return nil
			}
		case <-ticker.C:
			if !s.sweep(ctx) {
				return nil
			}
			if adv != nil {
				if err := adv.Close(); err != nil {
					log.Debugf("error closing mdns service: %v", err)
				}
			}
			adv = s.start()
		}
	}
}

func (s *Service) start() Advertiser {
	adv := s.factory(s)
	if err := adv.Start(); err != nil {
		log.Warnf("failed to start mdns service: %v", err)
		return nil
	}
	return adv
}

func (s *Service) observe(ctx context.Context, info peer.AddrInfo) bool {
	_, known := s.seen[info.ID]
	s.seen[info.ID] = s.clock.Now()
	if known {
		return s.bus.Emit(ctx, PeerRefreshed{Info: info})
	}
	log.Infof("discovered peer %s", info.ID)
	return s.bus.Emit(ctx, PeerAppeared{Info: info})
}

func (s *Service) sweep(ctx context.Context) bool {
	now := s.clock.Now()
	for id, last := range s.seen {
		if now.Sub(last) <= s.ttl {
			continue
		}
		delete(s.seen, id)
		log.Infof("peer %s expired", id)
		if !s.bus.Emit(ctx, PeerExpired{ID: id}) {
			return false
		}
	}
	return true
}
