package session

import "github.com/baderanaas/lanchat/pkg/gossip"

// MessageLog is the ordered, append-only record of delivered messages. Each
// fingerprint is recorded at most once, however many paths deliver it.
type MessageLog struct {
	entries []gossip.Message
	seen    map[string]struct{}
}

func newMessageLog() *MessageLog {
	return &MessageLog{seen: make(map[string]struct{})}
}

// Add appends m unless its fingerprint is already logged.
func (l *MessageLog) Add(m gossip.Message) bool {
	if _, dup := l.seen[m.Fingerprint]; dup {
		return false
	}
	l.seen[m.Fingerprint] = struct{}{}
	l.entries = append(l.entries, m)
	return true
}

// Contains reports whether fingerprint is logged.
func (l *MessageLog) Contains(fingerprint string) bool {
	_, ok := l.seen[fingerprint]
	return ok
}

func (l *MessageLog) Len() int {
	return len(l.entries)
}

// Entries returns the log with its capacity clipped, so a holder can read it
// while later appends write past its end.
func (l *MessageLog) Entries() []gossip.Message {
	n := len(l.entries)
	return l.entries[:n:n]
}
