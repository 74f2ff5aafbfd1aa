// Package ui is the chat front end. It only renders session snapshots and
// turns user input into session requests.
package ui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/baderanaas/lanchat/pkg/directory"
	"github.com/baderanaas/lanchat/pkg/gossip"
	"github.com/baderanaas/lanchat/pkg/session"
)

// requestTimeout bounds a single command round trip to the session loop.
const requestTimeout = 5 * time.Second

// Controller is what the UI needs from a running session.
type Controller interface {
	ID() peer.ID
	DisplayName() string
	ListenAddrs() []multiaddr.Multiaddr
	RequestPublish(ctx context.Context, h gossip.TopicHandle, text string) error
	RequestSubscribe(ctx context.Context, name string) (gossip.TopicHandle, error)
	RequestCreateTopic(ctx context.Context, name string) (gossip.TopicHandle, error)
	RequestConnect(ctx context.Context, addr string) error
	SnapshotMessages() []session.MessageView
	SnapshotPeers() []directory.PeerRecord
	Topics() session.TopicsView
	Stats() session.Stats
}

// Output is the response to one line of input.
type Output struct {
	Lines []string
	Quit  bool
}

func say(format string, args ...any) Output {
	return Output{Lines: []string{fmt.Sprintf(format, args...)}}
}

// Shell interprets slash commands and plain chat lines. It remembers the
// topic plain lines go to.
type Shell struct {
	ctl Controller

	mu      sync.Mutex
	handles map[string]gossip.TopicHandle
	current string
}

// NewShell returns a shell with no current topic.
func NewShell(ctl Controller) *Shell {
	return &Shell{ctl: ctl, handles: make(map[string]gossip.TopicHandle)}
}

// Current is the topic plain lines are sent to, or "" for none.
func (s *Shell) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Help lists the commands.
func Help() []string {
	return []string{
		"Commands:",
		"  /create <topic>       - Create a topic, join it and make it current",
		"  /join <topic>         - Join a topic and make it current",
		"  /switch <topic>       - Switch the current topic",
		"  /msg <topic> <msg>    - Send a message to a specific topic",
		"  /topics               - Show created and joined topics",
		"  /peers                - List known peers",
		"  /connect <multiaddr>  - Connect to a peer by its /p2p/ address",
		"  /id                   - Show this node's addresses",
		"  /stats                - Show message and gossip counters",
		"  /quit                 - Exit",
		"  <message>             - Send to the current topic",
	}
}

// Execute runs one line of input.
func (s *Shell) Execute(ctx context.Context, input string) Output {
	input = strings.TrimSpace(input)
	if input == "" {
		return Output{}
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return Output{Lines: []string{"Shutting down..."}, Quit: true}
	case "/help":
		return Output{Lines: Help()}
	case "/create":
		return s.create(ctx, arg)
	case "/join":
		return s.join(ctx, arg)
	case "/switch":
		return s.switchTo(arg)
	case "/msg":
		topic, text, ok := strings.Cut(arg, " ")
		if !ok || strings.TrimSpace(text) == "" {
			return say("Usage: /msg <topic> <message>")
		}
		return s.send(ctx, topic, strings.TrimSpace(text))
	case "/topics":
		return s.topics()
	case "/peers":
		return s.peers()
	case "/connect":
		if arg == "" {
			return say("Usage: /connect <multiaddr>")
		}
		if err := s.ctl.RequestConnect(ctx, arg); err != nil {
			return say("Connection failed: %v", err)
		}
		return say("Dialing %s", arg)
	case "/id":
		return s.id()
	case "/stats":
		return s.stats()
	}

	if strings.HasPrefix(cmd, "/") {
		return say("Unknown command %s. Type /help for commands.", cmd)
	}
	current := s.Current()
	if current == "" {
		return say("No active topic. Use /join <topic> or /create <topic>.")
	}
	return s.send(ctx, current, input)
}

func (s *Shell) create(ctx context.Context, name string) Output {
	if name == "" {
		return say("Usage: /create <topic>")
	}
	if _, err := s.ctl.RequestCreateTopic(ctx, name); err != nil {
		return say("Failed to create topic: %v", err)
	}
	if err := s.subscribe(ctx, name); err != nil {
		return say("Failed to join topic: %v", err)
	}
	return say("Created topic %s", name)
}

func (s *Shell) join(ctx context.Context, name string) Output {
	if name == "" {
		return say("Usage: /join <topic>")
	}
	if err := s.subscribe(ctx, name); err != nil {
		return say("Failed to join topic: %v", err)
	}
	return say("Joined topic %s", name)
}

// subscribe joins name and makes it the current topic.
func (s *Shell) subscribe(ctx context.Context, name string) error {
	h, err := s.ctl.RequestSubscribe(ctx, name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.handles[name] = h
	s.current = name
	s.mu.Unlock()
	return nil
}

func (s *Shell) switchTo(name string) Output {
	if name == "" {
		return say("Usage: /switch <topic>")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[name]; !ok {
		return say("You are not in topic '%s'. Use /join %s to join it.", name, name)
	}
	s.current = name
	return say("Switched to topic '%s'", name)
}

func (s *Shell) send(ctx context.Context, topic, text string) Output {
	s.mu.Lock()
	h, ok := s.handles[topic]
	s.mu.Unlock()
	if !ok {
		h = gossip.Handle(topic)
	}

	err := s.ctl.RequestPublish(ctx, h, text)
	switch {
	case err == nil:
		return Output{}
	case errors.Is(err, gossip.ErrNoSubscribers):
		return say("Nobody is listening on %s yet; message not sent.", topic)
	case errors.Is(err, gossip.ErrPayloadTooLarge):
		return say("Message too large; not sent.")
	case errors.Is(err, gossip.ErrBackpressure):
		return say("Network busy; message dropped, try again.")
	case errors.Is(err, gossip.ErrUnknownTopic):
		return say("You are not in topic '%s'. Use /join %s first.", topic, topic)
	default:
		return say("Failed to send message: %v", err)
	}
}

func (s *Shell) topics() Output {
	t := s.ctl.Topics()
	if len(t.Created) == 0 && len(t.Joined) == 0 {
		return say("No active topics. Use /join <topic> to start.")
	}
	current := s.Current()
	created := make(map[string]bool, len(t.Created))
	for _, name := range t.Created {
		created[name] = true
	}

	names := append([]string(nil), t.Joined...)
	for _, name := range t.Created {
		if !slices.Contains(t.Joined, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	lines := []string{"Topics:"}
	for _, name := range names {
		var tags []string
		if created[name] {
			tags = append(tags, "created")
		}
		if slices.Contains(t.Joined, name) {
			tags = append(tags, "joined")
		}
		if name == current {
			tags = append(tags, "current")
		}
		lines = append(lines, fmt.Sprintf("  - %s (%s)", name, strings.Join(tags, ", ")))
	}
	return Output{Lines: lines}
}

func (s *Shell) peers() Output {
	peers := s.ctl.SnapshotPeers()
	if len(peers) == 0 {
		return say("No peers known yet.")
	}
	lines := []string{fmt.Sprintf("Known peers (%d):", len(peers))}
	for _, p := range peers {
		addr := "unknown address"
		if p.Address != nil {
			addr = p.Address.String()
		}
		lines = append(lines, fmt.Sprintf("  - %s %s (%s)", p.Display(), p.ID, addr))
	}
	return Output{Lines: lines}
}

func (s *Shell) id() Output {
	lines := []string{fmt.Sprintf("%s is %s, reachable at:", s.ctl.DisplayName(), s.ctl.ID())}
	for _, a := range s.ctl.ListenAddrs() {
		lines = append(lines, "  "+a.String())
	}
	return Output{Lines: lines}
}

func (s *Shell) stats() Output {
	st := s.ctl.Stats()
	return say("peers=%d messages=%d topics=%d delivered=%d duplicate=%d rejected=%d dropped_rpc=%d",
		st.Peers, st.Messages, st.Topics,
		st.Gossip.Delivered, st.Gossip.Duplicate, st.Gossip.Rejected, st.Gossip.DroppedRPC)
}

// FormatMessage renders one logged message as a chat line.
func FormatMessage(m session.MessageView) string {
	return fmt.Sprintf("[%s] [%s] %s: %s", m.ReceivedAt.Format("15:04"), m.Topic, m.SenderDisplay, m.Text)
}
