package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/baderanaas/lanchat/pkg/directory"
	"github.com/baderanaas/lanchat/pkg/session"
)

var (
	primaryColor    = lipgloss.Color("#7C3AED")
	accentColor     = lipgloss.Color("#10B981")
	mutedColor      = lipgloss.Color("#6B7280")
	backgroundColor = lipgloss.Color("#1F2937")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Background(backgroundColor).
			Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	noticeStyle    = lipgloss.NewStyle().Foreground(accentColor).Italic(true)
	selfStyle      = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	peerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	timestampStyle = lipgloss.NewStyle().Foreground(mutedColor).Faint(true)
	topicStyle     = lipgloss.NewStyle().Foreground(mutedColor)
)

const (
	peerPanelWidth = 30
	maxPanelPeers  = 15
)

type tickMsg time.Time

type outputMsg Output

// notice is a line produced by a command rather than by the network.
type notice struct {
	at   time.Time
	text string
}

// TUI is the full-screen bubbletea front end.
type TUI struct {
	ctx   context.Context
	shell *Shell
	ctl   Controller

	messages []session.MessageView
	peers    []directory.PeerRecord
	notices  []notice
	stats    session.Stats

	viewport viewport.Model
	textarea textarea.Model
	ready    bool
	width    int
	height   int
	showHelp bool
	lastTick time.Time
}

// NewTUI builds the model. Run it with tea.NewProgram(ui, tea.WithAltScreen()).
func NewTUI(ctx context.Context, ctl Controller) *TUI {
	ta := textarea.New()
	ta.Placeholder = "Type a message or /help for commands..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.SetWidth(80)
	ta.SetHeight(1)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(80, 20)

	return &TUI{
		ctx:      ctx,
		shell:    NewShell(ctl),
		ctl:      ctl,
		viewport: vp,
		textarea: ta,
		lastTick: time.Now(),
	}
}

// Shell exposes the command interpreter, e.g. to join a startup topic.
func (ui *TUI) Shell() *Shell {
	return ui.shell
}

func (ui *TUI) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, ui.tickCmd())
}

func (ui *TUI) tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (ui *TUI) execute(input string) tea.Cmd {
	return func() tea.Msg {
		return outputMsg(ui.shell.Execute(ui.ctx, input))
	}
}

func (ui *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return ui, tea.Quit
		case tea.KeyCtrlH:
			ui.showHelp = !ui.showHelp
			ui.render()
			return ui, nil
		case tea.KeyEnter:
			input := strings.TrimSpace(ui.textarea.Value())
			ui.textarea.Reset()
			if input == "" {
				return ui, nil
			}
			return ui, ui.execute(input)
		}

	case tea.WindowSizeMsg:
		ui.width = msg.Width
		ui.height = msg.Height
		ui.ready = true

		headerHeight := 3
		footerHeight := 5
		statusBarHeight := 1
		ui.viewport.Width = max(ui.width-peerPanelWidth-5, 10)
		ui.viewport.Height = max(ui.height-headerHeight-footerHeight-statusBarHeight-2, 3)
		ui.textarea.SetWidth(max(ui.width-4, 10))
		ui.render()

	case outputMsg:
		now := time.Now()
		for _, line := range msg.Lines {
			ui.notices = append(ui.notices, notice{at: now, text: line})
		}
		if msg.Quit {
			return ui, tea.Quit
		}
		ui.refresh()
		ui.viewport.GotoBottom()
		return ui, nil

	case tickMsg:
		ui.lastTick = time.Time(msg)
		atBottom := ui.viewport.AtBottom()
		ui.refresh()
		if atBottom {
			ui.viewport.GotoBottom()
		}
		return ui, ui.tickCmd()
	}

	ui.textarea, tiCmd = ui.textarea.Update(msg)
	ui.viewport, vpCmd = ui.viewport.Update(msg)
	return ui, tea.Batch(tiCmd, vpCmd)
}

// refresh pulls fresh snapshots from the session.
func (ui *TUI) refresh() {
	ui.messages = ui.ctl.SnapshotMessages()
	ui.peers = ui.ctl.SnapshotPeers()
	ui.stats = ui.ctl.Stats()
	ui.render()
}

// render merges messages and notices by time into the viewport.
func (ui *TUI) render() {
	var content strings.Builder
	if ui.showHelp {
		content.WriteString(strings.Join(Help(), "\n"))
		content.WriteString("\n\nCtrl+H closes this help, Ctrl+C or Esc quits.")
		ui.viewport.SetContent(content.String())
		return
	}

	type line struct {
		at   time.Time
		text string
	}
	lines := make([]line, 0, len(ui.messages)+len(ui.notices))
	for _, m := range ui.messages {
		lines = append(lines, line{at: m.ReceivedAt, text: ui.renderMessage(m)})
	}
	for _, n := range ui.notices {
		lines = append(lines, line{at: n.at, text: fmt.Sprintf("%s %s",
			timestampStyle.Render(n.at.Format("15:04:05")), noticeStyle.Render(n.text))})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].at.Before(lines[j].at) })

	for _, l := range lines {
		content.WriteString(l.text)
		content.WriteString("\n")
	}
	ui.viewport.SetContent(content.String())
}

func (ui *TUI) renderMessage(m session.MessageView) string {
	sender := peerStyle.Render(fmt.Sprintf("[%s]", m.SenderDisplay))
	if m.Local {
		sender = selfStyle.Render("[You]")
	}
	return fmt.Sprintf("%s %s %s %s",
		timestampStyle.Render(m.ReceivedAt.Format("15:04:05")),
		topicStyle.Render("#"+m.Topic),
		sender,
		m.Text)
}

func (ui *TUI) View() string {
	if !ui.ready {
		return "\n  Starting LAN chat...\n"
	}

	header := headerStyle.Render("LAN Chat - " + ui.ctl.DisplayName())
	messagePanel := panelStyle.Width(ui.viewport.Width + 2).Height(ui.viewport.Height + 2).Render(
		"Messages\n" + ui.viewport.View())
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, messagePanel, ui.renderPeerPanel())

	current := ui.shell.Current()
	if current == "" {
		current = "none"
	}
	inputArea := inputStyle.Width(max(ui.width-4, 10)).Render(
		fmt.Sprintf("Topic: %s (Ctrl+H for help)\n%s", current, ui.textarea.View()))

	return lipgloss.JoinVertical(lipgloss.Left, header, mainContent, ui.renderStatusBar(), inputArea)
}

func (ui *TUI) renderPeerPanel() string {
	var content strings.Builder
	content.WriteString("Peers\n")
	content.WriteString(strings.Repeat("─", peerPanelWidth-2) + "\n")

	if len(ui.peers) == 0 {
		content.WriteString("No peers found yet\n\nUse /connect <addr>\nif multicast is blocked\n")
	}
	for i, p := range ui.peers {
		if i == maxPanelPeers {
			content.WriteString(fmt.Sprintf("... and %d more\n", len(ui.peers)-maxPanelPeers))
			break
		}
		content.WriteString(fmt.Sprintf("%s %s\n", peerStyle.Render("●"), p.Display()))
	}

	return panelStyle.Width(peerPanelWidth).Height(ui.viewport.Height + 2).Render(content.String())
}

func (ui *TUI) renderStatusBar() string {
	left := "Node: " + directory.ShortID(ui.ctl.ID())
	right := fmt.Sprintf("Peers: %d | Messages: %d | Rejected: %d | %s",
		len(ui.peers), ui.stats.Messages, ui.stats.Gossip.Rejected, ui.lastTick.Format("15:04:05"))

	width := max(ui.width-4, 10)
	spacing := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return statusBarStyle.Width(width).Render(left + strings.Repeat(" ", spacing) + right)
}
