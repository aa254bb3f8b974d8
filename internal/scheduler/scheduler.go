package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/g960059/itch/internal/background"
	"github.com/g960059/itch/internal/logging"
	"github.com/g960059/itch/internal/metrics"
	"github.com/g960059/itch/internal/model"
)

const (
	DefaultInterval = time.Hour
	drainRetry      = time.Millisecond
	commandBuffer   = 16
)

var ErrStopped = errors.New("scheduler stopped")

// Source is the part of the playlist the rotation needs.
type Source interface {
	Peek() (int, string, bool)
	AdvancePast(idx int)
	SetPosition(idx int) bool
}

type commandKind int

const (
	cmdSetInterval commandKind = iota
	cmdJumpTo
	cmdShutdown
)

type command struct {
	kind     commandKind
	interval time.Duration
	index    int
}

// Scheduler paints the image at the playlist position every interval and
// advances the position.
type Scheduler struct {
	source   Source
	applier  background.Applier
	interval time.Duration
	cmds     chan command
	done     chan struct{}
	running  atomic.Bool
	start    sync.Once
	log      zerolog.Logger
}

func New(source Source, applier background.Applier, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		source:   source,
		applier:  applier,
		interval: interval,
		cmds:     make(chan command, commandBuffer),
		done:     make(chan struct{}),
		log:      logging.Component("scheduler"),
	}
}

// Start launches the rotation loop once and returns a handle for it.
func (s *Scheduler) Start(ctx context.Context) *Remote {
	s.start.Do(func() {
		s.running.Store(true)
		go s.run(ctx)
	})
	return s.Remote()
}

func (s *Scheduler) Remote() *Remote {
	return &Remote{cmds: s.cmds, done: s.done}
}

func (s *Scheduler) State() model.SchedulerState {
	if s.running.Load() {
		return model.SchedulerRunning
	}
	return model.SchedulerStopped
}

func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	defer s.running.Store(false)

	interval := s.interval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	s.log.Info().Dur("interval", interval).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler cancelled")
			return
		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdShutdown:
				s.log.Info().Msg("scheduler shut down")
				return
			case cmdSetInterval:
				interval = cmd.interval
				s.log.Info().Dur("interval", interval).Msg("interval updated")
			case cmdJumpTo:
				if !s.source.SetPosition(cmd.index) {
					s.log.Warn().Int("index", cmd.index).Msg("jump index out of range")
				}
				s.tick(ctx, "jump")
				timer.Reset(interval)
			}
		case <-timer.C:
			s.tick(ctx, "timer")
			timer.Reset(interval)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, trigger string) {
	idx, path, ok := s.source.Peek()
	if !ok {
		s.log.Debug().Str("trigger", trigger).Msg("playlist empty, nothing to paint")
		return
	}
	metrics.Rotations.WithLabelValues(trigger).Inc()
	if !s.applier.Apply(ctx, path) {
		s.log.Warn().Str("path", path).Int("index", idx).Msg("background not applied")
	}
	s.source.AdvancePast(idx)
}

// Remote sends commands to a running scheduler. Every send fails with
// ErrStopped once the loop has exited.
type Remote struct {
	cmds chan<- command
	done <-chan struct{}
}

func (r *Remote) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("set interval: non-positive interval %s", d)
	}
	return r.send(context.Background(), command{kind: cmdSetInterval, interval: d})
}

func (r *Remote) JumpTo(index int) error {
	return r.send(context.Background(), command{kind: cmdJumpTo, index: index})
}

func (r *Remote) Shutdown() error {
	return r.send(context.Background(), command{kind: cmdShutdown})
}

// Drain keeps delivering Shutdown until the loop reports it has stopped.
func (r *Remote) Drain(ctx context.Context) error {
	for {
		err := r.send(ctx, command{kind: cmdShutdown})
		if errors.Is(err, ErrStopped) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-time.After(drainRetry):
		}
	}
}

func (r *Remote) send(ctx context.Context, cmd command) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}
	select {
	case r.cmds <- cmd:
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
