package session

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/baderanaas/lanchat/pkg/event"
	"github.com/baderanaas/lanchat/pkg/gossip"
	"github.com/baderanaas/lanchat/pkg/transport"
)

// Local commands travel on the same bus as network events so the loop sees
// one ordered stream. Each carries a buffered reply channel.

type publishCmd struct {
	handle gossip.TopicHandle
	text   string
	reply  chan error
}

type subscribeCmd struct {
	name  string
	reply chan topicReply
}

type createTopicCmd struct {
	name  string
	reply chan topicReply
}

type connectCmd struct {
	info  peer.AddrInfo
	reply chan error
}

type topicReply struct {
	handle gossip.TopicHandle
	err    error
}

func (publishCmd) Source() event.Source     { return event.SourceLocal }
func (subscribeCmd) Source() event.Source   { return event.SourceLocal }
func (createTopicCmd) Source() event.Source { return event.SourceLocal }
func (connectCmd) Source() event.Source     { return event.SourceLocal }

// RequestPublish sends text on the topic. It fails with
// gossip.ErrUnknownTopic, gossip.ErrNoSubscribers, gossip.ErrPayloadTooLarge
// or gossip.ErrBackpressure without touching the message log.
func (s *Session) RequestPublish(ctx context.Context, h gossip.TopicHandle, text string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, publishCmd{handle: h, text: text, reply: reply}); err != nil {
		return err
	}
	return await(ctx, s.done, reply)
}

// RequestSubscribe joins name and starts logging its messages.
func (s *Session) RequestSubscribe(ctx context.Context, name string) (gossip.TopicHandle, error) {
	reply := make(chan topicReply, 1)
	if err := s.send(ctx, subscribeCmd{name: name, reply: reply}); err != nil {
		return gossip.TopicHandle{}, err
	}
	r, err := awaitValue(ctx, s.done, reply)
	if err != nil {
		return gossip.TopicHandle{}, err
	}
	return r.handle, r.err
}

// RequestCreateTopic records name as a topic created here.
func (s *Session) RequestCreateTopic(ctx context.Context, name string) (gossip.TopicHandle, error) {
	reply := make(chan topicReply, 1)
	if err := s.send(ctx, createTopicCmd{name: name, reply: reply}); err != nil {
		return gossip.TopicHandle{}, err
	}
	r, err := awaitValue(ctx, s.done, reply)
	if err != nil {
		return gossip.TopicHandle{}, err
	}
	return r.handle, r.err
}

// RequestConnect admits the peer at addr, a full /p2p/ multiaddr, and dials
// it. The dial itself completes in the background.
func (s *Session) RequestConnect(ctx context.Context, addr string) error {
	info, err := transport.ParseAddrInfo(addr)
	if err != nil {
		return err
	}
	if info.ID == s.self {
		return fmt.Errorf("cannot connect to self")
	}
	reply := make(chan error, 1)
	if err := s.send(ctx, connectCmd{info: info, reply: reply}); err != nil {
		return err
	}
	return await(ctx, s.done, reply)
}

// send queues a command for the loop, giving up when ctx ends or the
// session shuts down.
func (s *Session) send(ctx context.Context, cmd event.Event) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ex.Context(), cancel)
	defer stop()

	if !s.bus.Emit(ctx, cmd) {
		if s.ex.Context().Err() != nil {
			return ErrClosed
		}
		return ctx.Err()
	}
	return nil
}

func await(ctx context.Context, done <-chan struct{}, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrClosed
	}
}

func awaitValue[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		return zero, ErrClosed
	}
}
