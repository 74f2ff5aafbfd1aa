package gossip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
)

const maxTopicName = 64

// CreateTopic records name as a topic created here. Nothing is sent until
// something is published or subscribed.
func (e *Engine) CreateTopic(name string) (TopicHandle, error) {
	if err := checkTopicName(name); err != nil {
		return TopicHandle{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created[name] = struct{}{}
	return Handle(name), nil
}

// Subscribe joins the topic and starts delivering its messages as
// MessageReceived events. Subscribing twice is a no-op.
func (e *Engine) Subscribe(h TopicHandle) error {
	if err := checkTopicName(h.name); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ts, err := e.ensureJoined(h.name)
	if err != nil {
		return err
	}
	if ts.sub != nil {
		return nil
	}

	sub, err := ts.topic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", h.name, err)
	}
	ts.sub = sub
	e.metrics.Topics.Inc()

	e.ex.Go("gossip/"+h.name, func(ctx context.Context) error {
		return e.read(ctx, h.name, sub)
	})
	log.Infof("subscribed to %s", h.name)
	return nil
}

// Known reports whether h was created or joined here.
func (e *Engine) Known(h TopicHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.knownLocked(h.name)
}

// Subscribed lists the topics with an active subscription, sorted.
func (e *Engine) Subscribed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var names []string
	for name, ts := range e.joined {
		if ts.sub != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// TopicPeers lists admitted peers known to be subscribed to h.
func (e *Engine) TopicPeers(h TopicHandle) []peer.ID {
	e.mu.Lock()
	ts, ok := e.joined[h.name]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	var out []peer.ID
	for _, id := range ts.topic.ListPeers() {
		if e.admission.Allowed(id) {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) knownLocked(name string) bool {
	if _, ok := e.created[name]; ok {
		return true
	}
	_, ok := e.joined[name]
	return ok
}

// ensureJoined registers the frame validator and joins name. Callers hold
// e.mu.
func (e *Engine) ensureJoined(name string) (*topicState, error) {
	if ts, ok := e.joined[name]; ok {
		return ts, nil
	}
	if err := e.ps.RegisterTopicValidator(name, e.validate); err != nil {
		return nil, fmt.Errorf("failed to register validator for %s: %w", name, err)
	}
	topic, err := e.ps.Join(name)
	if err != nil {
		_ = e.ps.UnregisterTopicValidator(name)
		return nil, fmt.Errorf("failed to join pubsub topic: %w", err)
	}
	ts := &topicState{topic: topic}
	e.joined[name] = ts
	return ts, nil
}

func (e *Engine) validate(_ context.Context, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	return validateFrame(e.admission, from, msg)
}

// validateFrame accepts a message only when it was propagated by an admitted
// peer and its frame is intact and signed by its author. The decoded frame is
// attached to the message for the reader.
func validateFrame(a *Admission, from peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
	if !a.Allowed(from) {
		return pubsub.ValidationIgnore
	}
	frame, err := DecodeFrame(msg.GetData())
	if err != nil {
		log.Debugf("dropping message from %s: %v", from, err)
		return pubsub.ValidationReject
	}
	if err := frame.Verify(msg.GetFrom()); err != nil {
		log.Debugf("dropping message from %s authored by %s: %v", from, msg.GetFrom(), err)
		return pubsub.ValidationReject
	}
	msg.ValidatorData = frame
	return pubsub.ValidationAccept
}

// read turns subscription output into events until the subscription is
// cancelled. Our own publishes were already recorded when they were queued.
func (e *Engine) read(ctx context.Context, name string, sub *pubsub.Subscription) error {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				return nil
			}
			return fmt.Errorf("error receiving message on %s: %w", name, err)
		}
		if msg.ReceivedFrom == e.self {
			continue
		}

		m, ok := toMessage(name, msg)
		if !ok {
			continue
		}
		if !e.bus.Emit(ctx, MessageReceived{Message: m}) {
			return nil
		}
	}
}

func toMessage(topic string, msg *pubsub.Message) (Message, bool) {
	frame, ok := msg.ValidatorData.(Frame)
	if !ok {
		var err error
		if frame, err = DecodeFrame(msg.GetData()); err != nil {
			return Message{}, false
		}
	}
	return Message{
		Fingerprint:  frame.ID,
		Topic:        topic,
		Sender:       msg.GetFrom(),
		Payload:      frame.Payload,
		ReceivedFrom: msg.ReceivedFrom,
		ReceivedAt:   time.Now(),
	}, true
}

func checkTopicName(name string) error {
	if name == "" || len(name) > maxTopicName {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, name)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, name)
	}
	return nil
}
