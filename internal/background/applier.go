package background

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/g960059/itch/internal/config"
	"github.com/g960059/itch/internal/logging"
	"github.com/g960059/itch/internal/metrics"
)

// Applier paints an image as the desktop background.
type Applier interface {
	Apply(ctx context.Context, path string) bool
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// CommandApplier runs an external painter such as swww. A circuit breaker
// stops spawning it while the painter keeps failing.
type CommandApplier struct {
	cfg     config.PainterConfig
	runner  Runner
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger
}

func NewCommandApplier(cfg config.PainterConfig) *CommandApplier {
	return NewCommandApplierWithRunner(cfg, OSRunner{})
}

func NewCommandApplierWithRunner(cfg config.PainterConfig, runner Runner) *CommandApplier {
	a := &CommandApplier{
		cfg:    cfg,
		runner: runner,
		log:    logging.Component("background"),
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	a.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "painter",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("painter breaker state changed")
		},
	})
	return a
}

func (a *CommandApplier) Apply(ctx context.Context, path string) bool {
	start := time.Now()
	args := a.Args(path)
	_, err := a.breaker.Execute(func() ([]byte, error) {
		runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		out, err := a.runner.Run(runCtx, a.cfg.Command, args...)
		if err != nil {
			return out, fmt.Errorf("%s: %w: %s", a.cfg.Command, err, strings.TrimSpace(string(out)))
		}
		return out, nil
	})
	took := time.Since(start)
	metrics.RecordApply(err == nil, took)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			a.log.Warn().Str("path", path).Msg("painter breaker open, skipping apply")
			return false
		}
		a.log.Error().Err(err).Str("path", path).Dur("took", took).Msg("apply background failed")
		return false
	}
	a.log.Debug().Str("path", path).Dur("took", took).Msg("applied background")
	return true
}

// Args expands the configured argument template for path. When the
// template has no placeholder the path is appended.
func (a *CommandApplier) Args(path string) []string {
	args := make([]string, 0, len(a.cfg.Args)+1)
	substituted := false
	for _, arg := range a.cfg.Args {
		if strings.Contains(arg, config.PathPlaceholder) {
			arg = strings.ReplaceAll(arg, config.PathPlaceholder, path)
			substituted = true
		}
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, path)
	}
	return args
}

func (a *CommandApplier) BreakerState() string {
	return a.breaker.State().String()
}
