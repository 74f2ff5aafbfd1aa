package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// pollInterval is how often the line interface checks for new messages.
const pollInterval = 250 * time.Millisecond

// CLI is the line-mode interface: commands on stdin, chat lines on stdout.
type CLI struct {
	shell *Shell
	ctl   Controller

	mu      sync.Mutex
	out     io.Writer
	printed int
}

// NewCLI wires a line interface to ctl.
func NewCLI(ctl Controller, out io.Writer) *CLI {
	return &CLI{shell: NewShell(ctl), ctl: ctl, out: out}
}

// Shell exposes the command interpreter, e.g. to join a startup topic.
func (c *CLI) Shell() *Shell {
	return c.shell
}

// Run reads commands from in until /quit, EOF or ctx is done.
func (c *CLI) Run(ctx context.Context, in io.Reader) error {
	c.println("\nLAN chat started. Peers on this network are found automatically.")
	c.println(Help()...)
	c.prompt()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.follow(ctx)

	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case line := <-lines:
			out := c.shell.Execute(ctx, line)
			c.println(out.Lines...)
			if out.Quit {
				return nil
			}
			c.flush()
			c.prompt()
		}
	}
}

// follow prints messages from other peers as they are logged.
func (c *CLI) follow(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.flush() {
				c.prompt()
			}
		}
	}
}

// flush prints every message logged since the last call and reports whether
// a remote message was printed. Our own lines are already on screen.
func (c *CLI) flush() bool {
	msgs := c.ctl.SnapshotMessages()

	c.mu.Lock()
	defer c.mu.Unlock()
	printedRemote := false
	for _, m := range msgs[min(c.printed, len(msgs)):] {
		if m.Local {
			continue
		}
		fmt.Fprintf(c.out, "\r%s\n", FormatMessage(m))
		printedRemote = true
	}
	c.printed = len(msgs)
	return printedRemote
}

func (c *CLI) println(lines ...string) {
	if len(lines) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, strings.Join(lines, "\n"))
}

func (c *CLI) prompt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current := c.shell.Current(); current != "" {
		fmt.Fprintf(c.out, "[%s] > ", current)
		return
	}
	fmt.Fprint(c.out, "> ")
}
