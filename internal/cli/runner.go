package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	flag "github.com/spf13/pflag"

	"github.com/g960059/itch/internal/background"
	"github.com/g960059/itch/internal/config"
	"github.com/g960059/itch/internal/ipc"
	"github.com/g960059/itch/internal/model"
)

const defaultRequestTimeout = 5 * time.Second

var errRejected = errors.New("daemon rejected request")

// DialFunc opens a connection to the daemon.
type DialFunc func(ctx context.Context, socketPath string) (*ipc.Connection, error)

type Runner struct {
	socketPath string
	timeout    time.Duration
	dial       DialFunc
	out        io.Writer
	errOut     io.Writer
}

func NewRunner(socketPath string, out, errOut io.Writer) *Runner {
	return NewRunnerWithDialer(socketPath, ipc.Dial, out, errOut)
}

func NewRunnerWithDialer(socketPath string, dial DialFunc, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if dial == nil {
		dial = ipc.Dial
	}
	return &Runner{
		socketPath: socketPath,
		timeout:    defaultRequestTimeout,
		dial:       dial,
		out:        out,
		errOut:     errOut,
	}
}

// Run executes one command and returns the process exit code: 0 on
// success, 1 when the request failed, 2 on usage errors.
func (r *Runner) Run(ctx context.Context, args []string) int {
	rest, err := r.parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "queue":
		return r.runQueue(ctx, rest[1:])
	case "switch":
		return r.runSwitch(ctx, rest[1:])
	case "rearrange":
		return r.runRearrange(ctx, rest[1:])
	case "daynight":
		return r.runDayNight(ctx, rest[1:])
	case "swap":
		return r.runSwap(ctx, rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) parseGlobalArgs(args []string) ([]string, error) {
	fs := flag.NewFlagSet("itch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	socket := fs.String("socket", r.socketPath, "daemon socket path")
	timeout := fs.Duration("timeout", r.timeout, "request timeout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(*socket) == "" {
		return nil, fmt.Errorf("--socket requires non-empty value")
	}
	if *timeout <= 0 {
		return nil, fmt.Errorf("--timeout must be positive")
	}
	r.socketPath = *socket
	r.timeout = *timeout
	return fs.Args(), nil
}

func (r *Runner) runQueue(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
		_, _ = fmt.Fprintln(r.errOut, "usage: itch queue [--json]")
		return 2
	}
	resp, err := r.do(ctx, ipc.GetQueue())
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		b, err := json.Marshal(resp.Items)
		if err != nil {
			return r.handleErr(err)
		}
		_, _ = r.out.Write(b)
		_, _ = fmt.Fprintln(r.out)
		return 0
	}
	for i, item := range resp.Items {
		_, _ = fmt.Fprintf(r.out, "%d\t%s\n", i, item)
	}
	return 0
}

func (r *Runner) runSwitch(ctx context.Context, args []string) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(r.errOut, "usage: itch switch <path>")
		return 2
	}
	path := background.Canonical(args[0])
	if _, err := r.expectOK(ctx, ipc.SwitchToBackground(path)); err != nil {
		return r.handleErr(fmt.Errorf("switch to %s: %w", path, err))
	}
	_, _ = fmt.Fprintf(r.out, "switched to %s\n", path)
	return 0
}

func (r *Runner) runRearrange(ctx context.Context, args []string) int {
	if len(args) != 3 {
		_, _ = fmt.Fprintln(r.errOut, "usage: itch rearrange <background> before|after <target>")
		return 2
	}
	pos, err := model.ParsePosition(args[1])
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	resp, err := r.expectOK(ctx, ipc.RearrangeBackground(args[0], pos, args[2]))
	if err != nil {
		return r.handleErr(fmt.Errorf("rearrange %s: %w", args[0], err))
	}
	_, _ = fmt.Fprintf(r.out, "moved %d %s %d\n", resp.MovedIndex, pos, resp.TargetIndex)
	return 0
}

func (r *Runner) runDayNight(ctx context.Context, args []string) int {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		_, _ = fmt.Fprintln(r.errOut, "usage: itch daynight on|off")
		return 2
	}
	enabled := args[0] == "on"
	resp, err := r.expectOK(ctx, ipc.SetDayNight(enabled))
	if err != nil {
		return r.handleErr(fmt.Errorf("set day/night: %w", err))
	}
	state := "unchanged"
	if resp.Changed {
		state = "changed"
	}
	_, _ = fmt.Fprintf(r.out, "day/night %s (%s)\n", args[0], state)
	return 0
}

func (r *Runner) runSwap(ctx context.Context, args []string) int {
	if len(args) != 1 {
		_, _ = fmt.Fprintln(r.errOut, "usage: itch swap day|night")
		return 2
	}
	which, err := model.ParseVariant(args[0])
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if _, err := r.expectOK(ctx, ipc.SwapPlaylist(which)); err != nil {
		return r.handleErr(fmt.Errorf("swap to %s: %w", which, err))
	}
	_, _ = fmt.Fprintf(r.out, "active playlist: %s\n", which)
	return 0
}

func (r *Runner) expectOK(ctx context.Context, req ipc.Request) (ipc.Response, error) {
	resp, err := r.do(ctx, req)
	if err != nil {
		return ipc.Response{}, err
	}
	if !resp.OK {
		return ipc.Response{}, errRejected
	}
	return resp, nil
}

func (r *Runner) do(ctx context.Context, req ipc.Request) (ipc.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	conn, err := r.dial(ctx, r.socketPath)
	if err != nil {
		return ipc.Response{}, err
	}
	defer conn.Close() //nolint:errcheck
	return conn.Do(ctx, req)
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: itch [--socket <path>] [--timeout <dur>] <queue|switch|rearrange|daynight|swap> ...")
}

// DefaultSocketPath is where the daemon listens unless configured otherwise.
func DefaultSocketPath() string {
	return config.DefaultConfig().SocketPath
}
