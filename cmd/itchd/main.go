package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/g960059/itch/internal/background"
	"github.com/g960059/itch/internal/config"
	"github.com/g960059/itch/internal/daemon"
	"github.com/g960059/itch/internal/db"
	"github.com/g960059/itch/internal/logging"
)

type options struct {
	cfg         config.Config
	initialJump string
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fatal(err)
	}
	cfg := opts.cfg
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		store.Close() //nolint:errcheck
		fatal(err)
	}

	srv, err := daemon.NewServer(ctx, cfg, store, background.NewCommandApplier(cfg.Painter))
	if err != nil {
		store.Close() //nolint:errcheck
		fatal(err)
	}
	if err := srv.Start(ctx, opts.initialJump); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

// parseArgs loads the layered config and applies command-line overrides on
// top. The first positional argument is an image to switch to at startup.
func parseArgs(args []string, errOut io.Writer) (options, error) {
	fs := flag.NewFlagSet("itchd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(errOut, "usage: itchd [flags] [initial-background]")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "", "YAML config file (default $XDG_CONFIG_HOME/itch/config.yaml)")
	socket := fs.String("socket", "", "unix socket path")
	dbPath := fs.String("db", "", "SQLite path")
	dir := fs.String("backgrounds", "", "directory scanned when no playlist is saved")
	interval := fs.Duration("interval", 0, "rotation interval")
	statusAddr := fs.String("status-addr", "", "host:port for /healthz and /metrics")
	logLevel := fs.String("log-level", "", "trace|debug|info|warn|error|disabled")
	logFormat := fs.String("log-format", "", "json|console")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 1 {
		return options{}, fmt.Errorf("at most one initial background, got %d", fs.NArg())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return options{}, err
	}
	if fs.Changed("socket") {
		cfg.SocketPath = *socket
	}
	if fs.Changed("db") {
		cfg.DBPath = *dbPath
	}
	if fs.Changed("backgrounds") {
		cfg.BackgroundsDir = *dir
	}
	if fs.Changed("interval") {
		cfg.Interval = *interval
	}
	if fs.Changed("status-addr") {
		cfg.StatusAddr = *statusAddr
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		return options{}, err
	}
	return options{cfg: cfg, initialJump: fs.Arg(0)}, nil
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "itchd: %v\n", err)
	os.Exit(1)
}
