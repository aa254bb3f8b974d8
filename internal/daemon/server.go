package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/g960059/itch/internal/background"
	"github.com/g960059/itch/internal/config"
	"github.com/g960059/itch/internal/daynight"
	"github.com/g960059/itch/internal/db"
	"github.com/g960059/itch/internal/ipc"
	"github.com/g960059/itch/internal/logging"
	"github.com/g960059/itch/internal/metrics"
	"github.com/g960059/itch/internal/queue"
	"github.com/g960059/itch/internal/scheduler"
)

var ErrAlreadyRunning = errors.New("daemon already running")

// Server owns the live playlist and every long-lived task around it.
type Server struct {
	cfg      config.Config
	store    *db.Store
	applier  background.Applier
	playlist *queue.Playlist
	sched    *scheduler.Scheduler
	remote   *scheduler.Remote
	engine   *daynight.Engine
	listener *ipc.Listener
	handler  *Handler
	log      zerolog.Logger

	mu          sync.Mutex
	lockFile    *os.File
	treeCancel  context.CancelFunc
	treeDone    <-chan error
	schedCancel context.CancelFunc
	shutdown    sync.Once
	shutdownErr error
}

// NewServer seeds the playlist and loads the day/night state. The server
// takes ownership of store and closes it on Shutdown.
func NewServer(ctx context.Context, cfg config.Config, store *db.Store, applier background.Applier) (*Server, error) {
	items, err := SeedPlaylist(ctx, store, cfg.BackgroundsDir)
	if err != nil {
		return nil, err
	}
	playlist := queue.NewPlaylist(items, cfg.StrictSuffixMatch)
	metrics.PlaylistLength.Set(float64(len(items)))

	engine, err := daynight.New(ctx, playlist, store, cfg.DayNight)
	if err != nil {
		return nil, fmt.Errorf("start day/night engine: %w", err)
	}
	sched := scheduler.New(playlist, applier, cfg.Interval)
	s := &Server{
		cfg:      cfg,
		store:    store,
		applier:  applier,
		playlist: playlist,
		sched:    sched,
		remote:   sched.Remote(),
		engine:   engine,
		listener: ipc.NewListener(cfg.SocketPath, ipc.Options{
			BindRetry:      cfg.BindRetry,
			ReadBufferSize: cfg.ReadBufferSize,
		}),
		log: logging.Component("daemon"),
	}
	s.handler = NewHandler(playlist, s.remote, engine)
	return s, nil
}

func (s *Server) Playlist() *queue.Playlist {
	return s.playlist
}

// Start binds the socket, starts the rotation and serves until ctx ends,
// then runs Shutdown. A non-empty initialJump is switched to after the
// configured delay.
func (s *Server) Start(ctx context.Context, initialJump string) error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	if err := s.listener.Bind(ctx); err != nil {
		s.releaseLock() //nolint:errcheck
		return fmt.Errorf("bind socket: %w", err)
	}

	schedCtx, schedCancel := context.WithCancel(context.WithoutCancel(ctx))
	treeCtx, treeCancel := context.WithCancel(ctx)
	tree := newTree(s.cfg.ShutdownTimeout)
	tree.Add(s.listener)
	tree.Add(NewDispatcher(s.listener, s.handler))
	if s.cfg.StatusAddr != "" {
		tree.Add(newHTTPService(s.cfg.StatusAddr, NewStatusRouter(s), s.cfg.ShutdownTimeout))
	}

	s.mu.Lock()
	s.schedCancel = schedCancel
	s.treeCancel = treeCancel
	s.mu.Unlock()

	s.sched.Start(schedCtx)
	treeDone := tree.ServeBackground(treeCtx)
	s.mu.Lock()
	s.treeDone = treeDone
	s.mu.Unlock()
	s.log.Info().Str("socket", s.cfg.SocketPath).Int("playlist", s.playlist.Len()).Dur("interval", s.cfg.Interval).Msg("itchd started")

	if initialJump != "" {
		go s.initialJump(ctx, initialJump)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-treeDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("supervisor stopped: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

func (s *Server) initialJump(ctx context.Context, path string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.InitialJumpDelay):
	}
	target := background.Canonical(path)
	idx, err := s.playlist.SwitchTo(target, s.remote)
	if err != nil {
		s.log.Warn().Err(err).Str("path", target).Msg("initial background not applied")
		return
	}
	s.log.Info().Str("path", target).Int("index", idx).Msg("switched to initial background")
}

// Shutdown stops accepting clients, drains the scheduler, saves the live
// playlist and closes the store. Each stage is timed. It runs once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		s.mu.Lock()
		treeCancel, treeDone, schedCancel := s.treeCancel, s.treeDone, s.schedCancel
		s.mu.Unlock()

		errs = append(errs, s.stage(ctx, "transport", func(ctx context.Context) error {
			err := s.listener.Close()
			if treeCancel != nil {
				treeCancel()
			}
			if treeDone != nil {
				select {
				case <-treeDone:
				case <-ctx.Done():
					return fmt.Errorf("wait for supervisor: %w", ctx.Err())
				}
			}
			return err
		}))
		errs = append(errs, s.stage(ctx, "scheduler", func(ctx context.Context) error {
			if schedCancel == nil {
				return nil
			}
			defer schedCancel()
			return s.remote.Drain(ctx)
		}))
		errs = append(errs, s.stage(ctx, "daynight", func(context.Context) error {
			s.engine.Close()
			return nil
		}))
		errs = append(errs, s.stage(ctx, "persist", func(ctx context.Context) error {
			items := s.playlist.GetAll()
			err := s.store.WriteQueue(ctx, items)
			var werr *db.WriteError
			if errors.As(err, &werr) {
				metrics.PersistRowFailures.WithLabelValues(werr.Table).Add(float64(len(werr.Failures)))
			}
			return err
		}))
		errs = append(errs, s.stage(ctx, "store", func(context.Context) error {
			return s.store.Close()
		}))
		if err := s.releaseLock(); err != nil {
			errs = append(errs, fmt.Errorf("release lock: %w", err))
		}
		s.shutdownErr = errors.Join(errs...)
		if s.shutdownErr != nil {
			s.log.Error().Err(s.shutdownErr).Msg("shutdown finished with errors")
		} else {
			s.log.Info().Msg("itchd stopped")
		}
	})
	return s.shutdownErr
}

func (s *Server) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	took := time.Since(start)
	metrics.ShutdownStageDuration.WithLabelValues(name).Set(took.Seconds())
	ev := s.log.Info()
	if err != nil {
		ev = s.log.Error().Err(err)
	}
	ev.Str("stage", name).Dur("took", took).Msg("shutdown stage")
	if err != nil {
		return fmt.Errorf("shutdown %s: %w", name, err)
	}
	return nil
}

func (s *Server) acquireLock() error {
	lockPath := s.cfg.SocketPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return ErrAlreadyRunning
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
