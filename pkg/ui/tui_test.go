package ui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/baderanaas/lanchat/pkg/directory"
	"github.com/baderanaas/lanchat/pkg/session"
)

func TestTUIRendersSnapshots(t *testing.T) {
	ctl := newFakeController(t)
	ctl.messages = []session.MessageView{
		{Topic: "general", SenderDisplay: "bob", Text: "hello from bob", ReceivedAt: time.Now()},
	}
	ctl.peers = []directory.PeerRecord{{ID: ctl.id, DisplayName: "bob"}}

	ui := NewTUI(context.Background(), ctl)
	require.Contains(t, ui.View(), "Starting")

	model, _ := ui.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model, cmd := model.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd, "ticks keep themselves going")

	view := model.View()
	require.Contains(t, view, "hello from bob")
	require.Contains(t, view, "bob")
	require.Contains(t, view, "alice")
}

func TestTUICommandOutput(t *testing.T) {
	ctl := newFakeController(t)
	ui := NewTUI(context.Background(), ctl)
	model, _ := ui.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	msg := ui.execute("/join general")()
	model, _ = model.Update(msg)
	require.Contains(t, model.View(), "Joined topic general")
	require.Equal(t, "general", ui.Shell().Current())

	_, cmd := model.Update(ui.execute("/quit")())
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}
