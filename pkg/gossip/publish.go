package gossip

import (
	"context"
	"fmt"
	"time"
)

// Publish signs payload and queues it for h. The returned message is what
// the local log should record. Errors are returned before anything is
// queued:
//   - ErrUnknownTopic when h was never created or joined here
//   - ErrPayloadTooLarge when the encoded frame exceeds the frame limit
//   - ErrNoSubscribers when no admitted peer is subscribed to h
//   - ErrBackpressure when the publish queue is full
//
// A send that fails after queueing is reported as PublishFailed.
func (e *Engine) Publish(h TopicHandle, payload []byte) (Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.knownLocked(h.name) {
		return e.refuse("unknown_topic", fmt.Errorf("%w: %s", ErrUnknownTopic, h.name))
	}

	frame, err := NewFrame(e.key, payload)
	if err != nil {
		return Message{}, err
	}
	data, err := frame.Encode()
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(data) > e.maxFrame {
		return e.refuse("too_large", fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(data), e.maxFrame))
	}

	ts, err := e.ensureJoined(h.name)
	if err != nil {
		return Message{}, err
	}

	subscribed := false
	for _, id := range ts.topic.ListPeers() {
		if e.admission.Allowed(id) {
			subscribed = true
			break
		}
	}
	if !subscribed {
		return e.refuse("no_subscribers", fmt.Errorf("%w on %s", ErrNoSubscribers, h.name))
	}

	topic := ts.topic
	ok := e.publishes.TrySubmit(func(ctx context.Context) {
		if err := topic.Publish(ctx, data); err != nil {
			e.metrics.PublishErrors.WithLabelValues("send").Inc()
			log.Warnf("failed to publish %s on %s: %v", frame.ID, h.name, err)
			e.bus.Emit(ctx, PublishFailed{Topic: h.name, Fingerprint: frame.ID, Err: err})
		}
	})
	if !ok {
		return e.refuse("backpressure", ErrBackpressure)
	}

	return Message{
		Fingerprint:  frame.ID,
		Topic:        h.name,
		Sender:       e.self,
		Payload:      payload,
		ReceivedFrom: e.self,
		ReceivedAt:   time.Now(),
		Local:        true,
	}, nil
}

func (e *Engine) refuse(reason string, err error) (Message, error) {
	e.metrics.PublishErrors.WithLabelValues(reason).Inc()
	return Message{}, err
}
