package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baderanaas/lanchat/pkg/config"
	"github.com/baderanaas/lanchat/pkg/session"
	"github.com/baderanaas/lanchat/pkg/transport"
	"github.com/baderanaas/lanchat/pkg/ui"
)

var log = logging.Logger("lanchat")

type options struct {
	port        int
	name        string
	dataDir     string
	ephemeral   bool
	topic       string
	connect     string
	plain       bool
	noMDNS      bool
	logLevel    string
	logFile     string
	metricsAddr string
}

func main() {
	var opts options
	flag.IntVar(&opts.port, "port", 0, "Listen port (random if not specified)")
	flag.StringVar(&opts.name, "name", "", "Display name shown to peers (defaults to $USER)")
	flag.StringVar(&opts.dataDir, "data-dir", "", "Directory holding the identity key (default ~/.lanchat)")
	flag.BoolVar(&opts.ephemeral, "ephemeral", false, "Use a throwaway identity instead of the saved one")
	flag.StringVar(&opts.topic, "topic", "general", "Topic to join on startup (empty joins nothing)")
	flag.StringVar(&opts.connect, "connect", "", "Peer multiaddr to dial on startup")
	flag.BoolVar(&opts.plain, "plain", false, "Use the line interface instead of the full-screen one")
	flag.BoolVar(&opts.noMDNS, "no-mdns", false, "Disable LAN discovery")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level for lanchat subsystems")
	flag.StringVar(&opts.logFile, "log-file", "", "Log file (default <data-dir>/lanchat.log for the full-screen interface)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, "lanchat:", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := transport.DataDir(opts.dataDir)
	if err != nil {
		return fmt.Errorf("resolving data directory: %w", err)
	}
	if err := setupLogging(opts, dir); err != nil {
		return err
	}

	cfg := config.Default()
	cfg.ListenPort = opts.port
	cfg.DisplayName = displayName(opts.name)
	cfg.EnableMDNS = !opts.noMDNS
	if !opts.ephemeral {
		if cfg.PrivateKey, err = transport.LoadIdentity(dir); err != nil {
			return fmt.Errorf("loading identity: %w", err)
		}
	}
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		cfg.Registerer = reg
		srv := serveMetrics(opts.metricsAddr, reg)
		defer srv.Close()
	}

	sess, err := session.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warnw("session close", "error", err)
		}
	}()
	log.Infow("node started", "id", sess.ID(), "name", sess.DisplayName(), "addrs", sess.ListenAddrs())

	if opts.plain {
		cli := ui.NewCLI(sess, os.Stdout)
		startup(ctx, cli.Shell(), sess, opts)
		return cli.Run(ctx, os.Stdin)
	}

	tui := ui.NewTUI(ctx, sess)
	startup(ctx, tui.Shell(), sess, opts)
	p := tea.NewProgram(tui, tea.WithAltScreen())
	go func() {
		select {
		case <-ctx.Done():
		case <-sess.Done():
		}
		p.Quit()
	}()
	_, err = p.Run()
	return err
}

// startup joins the initial topic and dials the initial peer. Failures are
// logged; the user can retry from the prompt.
func startup(ctx context.Context, shell *ui.Shell, sess *session.Session, opts options) {
	if opts.topic != "" {
		out := shell.Execute(ctx, "/join "+opts.topic)
		log.Infow("startup topic", "topic", opts.topic, "result", out.Lines)
	}
	if opts.connect != "" {
		if err := sess.RequestConnect(ctx, opts.connect); err != nil {
			log.Warnw("startup connect failed", "addr", opts.connect, "error", err)
		}
	}
}

// setupLogging keeps libp2p quiet and routes lanchat subsystems at the
// requested level. The full-screen interface owns the terminal, so its logs
// go to a file.
func setupLogging(opts options, dir string) error {
	if _, err := logging.LevelFromString(opts.logLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}

	file := opts.logFile
	if file == "" && !opts.plain {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		file = filepath.Join(dir, "lanchat.log")
	}

	logging.SetupLogging(logging.Config{
		Format: logging.PlaintextOutput,
		Level:  logging.LevelError,
		Stderr: file == "",
		File:   file,
	})
	if err := logging.SetLogLevelRegex("^lanchat", opts.logLevel); err != nil {
		return fmt.Errorf("setting log level: %w", err)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server", "addr", addr, "error", err)
		}
	}()
	return srv
}

func displayName(name string) string {
	if name != "" {
		return name
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "anonymous"
}
