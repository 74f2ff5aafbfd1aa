// Package directory is the node's view of the network: which peers it knows,
// where they are, and what they call themselves.
package directory

import (
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// PeerRecord is one known peer. An empty DisplayName and a nil Address mean
// the value has not been learned yet.
type PeerRecord struct {
	ID          peer.ID
	DisplayName string
	Address     multiaddr.Multiaddr
}

// Directory holds at most one record per peer. It is not safe for concurrent
// use; the session loop owns it and hands out copies via Snapshot.
type Directory struct {
	peers map[peer.ID]*PeerRecord
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{peers: make(map[peer.ID]*PeerRecord)}
}

// Upsert records a peer reported by discovery. It returns true when the
// record is new. A non-nil addr replaces the stored address.
func (d *Directory) Upsert(id peer.ID, addr multiaddr.Multiaddr) bool {
	rec, exists := d.peers[id]
	if !exists {
		rec = &PeerRecord{ID: id}
		d.peers[id] = rec
	}
	if addr != nil {
		rec.Address = addr
	}
	return !exists
}

// Identify applies the result of an identification exchange, creating the
// record if needed. Empty name and nil addr leave the stored values alone.
func (d *Directory) Identify(id peer.ID, name string, addr multiaddr.Multiaddr) {
	rec, exists := d.peers[id]
	if !exists {
		rec = &PeerRecord{ID: id}
		d.peers[id] = rec
	}
	if name != "" {
		rec.DisplayName = name
	}
	if addr != nil {
		rec.Address = addr
	}
}

// Remove deletes a peer and reports whether it was present.
func (d *Directory) Remove(id peer.ID) bool {
	if _, exists := d.peers[id]; !exists {
		return false
	}
	delete(d.peers, id)
	return true
}

// Get returns a copy of the record for id.
func (d *Directory) Get(id peer.ID) (PeerRecord, bool) {
	rec, exists := d.peers[id]
	if !exists {
		return PeerRecord{}, false
	}
	return *rec, true
}

// Display labels id with its display name when one is known.
func (d *Directory) Display(id peer.ID) string {
	if rec, exists := d.peers[id]; exists {
		return rec.Display()
	}
	return ShortID(id)
}

// Len is the number of known peers.
func (d *Directory) Len() int {
	return len(d.peers)
}

// Snapshot copies every record, ordered by peer id.
func (d *Directory) Snapshot() []PeerRecord {
	out := make([]PeerRecord, 0, len(d.peers))
	for _, rec := range d.peers {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Names maps every peer that has announced a display name to that name.
func (d *Directory) Names() map[peer.ID]string {
	names := make(map[peer.ID]string, len(d.peers))
	for id, rec := range d.peers {
		if rec.DisplayName != "" {
			names[id] = rec.DisplayName
		}
	}
	return names
}

// ShortID is the first 12 characters of a peer id, used wherever a peer has
// no display name.
func ShortID(id peer.ID) string {
	s := id.String()
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}

// Display returns the best human label for a record.
func (r PeerRecord) Display() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return ShortID(r.ID)
}
