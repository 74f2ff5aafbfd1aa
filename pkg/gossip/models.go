package gossip

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/baderanaas/lanchat/pkg/event"
)

// TopicHandle names a topic this node created or joined.
type TopicHandle struct {
	name string
}

// Handle returns the handle for name. A handle alone grants nothing: the
// engine only publishes on topics it created or joined.
func Handle(name string) TopicHandle {
	return TopicHandle{name: name}
}

func (h TopicHandle) Name() string {
	return h.name
}

func (h TopicHandle) String() string {
	return h.name
}

// Message is one delivered payload.
type Message struct {
	Fingerprint  string
	Topic        string
	Sender       peer.ID
	Payload      []byte
	ReceivedFrom peer.ID
	ReceivedAt   time.Time
	Local        bool
}

// MessageReceived carries a validated message from the network.
type MessageReceived struct {
	Message Message
}

// PublishFailed reports a queued publish that could not be sent.
type PublishFailed struct {
	Topic       string
	Fingerprint string
	Err         error
}

func (MessageReceived) Source() event.Source { return event.SourceGossip }
func (PublishFailed) Source() event.Source   { return event.SourceGossip }
