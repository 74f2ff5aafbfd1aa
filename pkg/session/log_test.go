package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/baderanaas/lanchat/pkg/crypto"
	"github.com/baderanaas/lanchat/pkg/gossip"
)

func msg(text string) gossip.Message {
	return gossip.Message{Fingerprint: crypto.Fingerprint([]byte(text)), Topic: "general", Payload: []byte(text)}
}

func TestMessageLogDedupes(t *testing.T) {
	l := newMessageLog()
	require.True(t, l.Add(msg("a")))
	require.True(t, l.Add(msg("b")))
	require.False(t, l.Add(msg("a")))
	require.Equal(t, 2, l.Len())
	require.True(t, l.Contains(crypto.Fingerprint([]byte("b"))))
}

func TestMessageLogEntriesAreClipped(t *testing.T) {
	l := newMessageLog()
	l.Add(msg("a"))
	held := l.Entries()
	require.Equal(t, len(held), cap(held))

	// Appending to a held view must not write into the log's backing array
	_ = append(held, msg("x"))
	l.Add(msg("b"))
	require.Equal(t, "b", string(l.Entries()[1].Payload))
	require.Len(t, held, 1)
}
