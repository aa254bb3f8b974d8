package daynight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/g960059/itch/internal/config"
	"github.com/g960059/itch/internal/db"
	"github.com/g960059/itch/internal/logging"
	"github.com/g960059/itch/internal/metrics"
	"github.com/g960059/itch/internal/model"
	"github.com/g960059/itch/internal/queue"
)

var ErrNotSupported = errors.New("changing day/night schedules at runtime is not supported")

// Store is the persistence the engine reads at startup and writes on swap.
type Store interface {
	ReadEnabled(ctx context.Context) (bool, error)
	WriteEnabled(ctx context.Context, enabled bool) error
	ReadVariant(ctx context.Context, which model.Variant) ([]string, error)
	WriteVariant(ctx context.Context, items []string, which model.Variant) error
	ReadActiveVariant(ctx context.Context) (model.Variant, error)
	WriteActiveVariant(ctx context.Context, which model.Variant) error
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule accepts five-field cron expressions, an optional leading
// seconds field, and descriptors such as @daily.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return s, nil
}

// Engine swaps the live playlist between the day and night variants on
// two cron schedules.
type Engine struct {
	mu       sync.Mutex
	playlist *queue.Playlist
	store    Store
	variants map[model.Variant][]string
	day      cron.Schedule
	night    cron.Schedule
	enabled  bool

	cronCancel context.CancelFunc
	cronDone   chan struct{}

	now   func() time.Time
	after func(d time.Duration) <-chan time.Time
	log   zerolog.Logger
}

func New(ctx context.Context, playlist *queue.Playlist, store Store, cfg config.DayNightConfig) (*Engine, error) {
	day, err := ParseSchedule(cfg.DaySchedule)
	if err != nil {
		return nil, err
	}
	night, err := ParseSchedule(cfg.NightSchedule)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		playlist: playlist,
		store:    store,
		variants: map[model.Variant][]string{},
		day:      day,
		night:    night,
		now:      time.Now,
		after:    time.After,
		log:      logging.Component("daynight"),
	}
	if err := e.load(ctx); err != nil {
		return nil, err
	}
	if e.enabled {
		e.mu.Lock()
		e.startCronLocked()
		e.mu.Unlock()
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	enabled, err := e.store.ReadEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load day/night enabled: %w", err)
	}
	for _, which := range []model.Variant{model.VariantDay, model.VariantNight} {
		items, err := e.store.ReadVariant(ctx, which)
		if err != nil {
			return fmt.Errorf("load %s playlist: %w", which, err)
		}
		e.variants[which] = items
	}
	active, err := e.store.ReadActiveVariant(ctx)
	switch {
	case err == nil:
		e.playlist.SetLabel(active)
	case !errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("load active variant: %w", err)
	}
	e.enabled = enabled
	e.log.Info().Bool("enabled", enabled).Int("day", len(e.variants[model.VariantDay])).Int("night", len(e.variants[model.VariantNight])).Msg("day/night engine loaded")
	return nil
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Variant returns a copy of the stored contents of which.
func (e *Engine) Variant(which model.Variant) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.variants[which]...)
}

// SetEnabled persists the flag and starts or stops the cron task. It
// reports whether anything changed.
func (e *Engine) SetEnabled(ctx context.Context, enabled bool) (bool, error) {
	e.mu.Lock()
	if e.enabled == enabled {
		e.mu.Unlock()
		return false, nil
	}
	e.enabled = enabled
	var done chan struct{}
	if enabled {
		e.startCronLocked()
	} else {
		done = e.stopCronLocked()
	}
	e.mu.Unlock()

	if done != nil {
		<-done
	}
	if err := e.store.WriteEnabled(ctx, enabled); err != nil {
		return true, fmt.Errorf("persist day/night enabled: %w", err)
	}
	e.log.Info().Bool("enabled", enabled).Msg("day/night toggled")
	return true, nil
}

func (e *Engine) ChangeSchedule(_ context.Context, _ model.Variant, _ string) error {
	return ErrNotSupported
}

// SwapActiveQueueTo makes which the live playlist. The outgoing contents
// are kept under their former label, or the opposite of which when the
// live playlist had none. Swapping to the active variant only saves it.
// Once the exchange happens the writes run to completion even if ctx is
// cancelled.
func (e *Engine) SwapActiveQueueTo(ctx context.Context, which model.Variant) error {
	if !which.Valid() {
		return fmt.Errorf("swap: invalid variant %q", which)
	}

	var (
		outgoing      []string
		outgoingLabel model.Variant
		swapped       bool
	)
	e.mu.Lock()
	e.playlist.WithLock(func(l *queue.Locked) {
		if l.Label() == which {
			outgoing, outgoingLabel = l.Items(), which
			return
		}
		prev, prevLabel := l.Swap(e.variants[which], which)
		if prevLabel == "" {
			prevLabel = which.Opposite()
		}
		outgoing, outgoingLabel, swapped = prev, prevLabel, true
	})
	e.variants[outgoingLabel] = append([]string{}, outgoing...)
	e.mu.Unlock()
	metrics.PlaylistLength.Set(float64(e.playlist.Len()))

	ctx = context.WithoutCancel(ctx)
	var errs []error
	if err := e.store.WriteVariant(ctx, outgoing, outgoingLabel); err != nil {
		var werr *db.WriteError
		if errors.As(err, &werr) {
			metrics.PersistRowFailures.WithLabelValues(werr.Table).Add(float64(len(werr.Failures)))
		}
		errs = append(errs, fmt.Errorf("persist %s playlist: %w", outgoingLabel, err))
	}
	if err := e.store.WriteActiveVariant(ctx, which); err != nil {
		errs = append(errs, err)
	}
	if swapped {
		metrics.DayNightSwaps.WithLabelValues(string(which)).Inc()
		e.log.Info().Str("to", string(which)).Str("saved", string(outgoingLabel)).Int("saved_items", len(outgoing)).Msg("swapped playlist")
	} else {
		e.log.Debug().Str("variant", string(which)).Msg("variant already active, saved live playlist")
	}
	return errors.Join(errs...)
}

// NextTrigger returns the variant whose schedule fires first after now.
func (e *Engine) NextTrigger(now time.Time) (model.Variant, time.Time) {
	nextDay := e.day.Next(now)
	nextNight := e.night.Next(now)
	if nextNight.Before(nextDay) {
		return model.VariantNight, nextNight
	}
	return model.VariantDay, nextDay
}

// Close stops the cron task and waits for it.
func (e *Engine) Close() {
	e.mu.Lock()
	done := e.stopCronLocked()
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) startCronLocked() {
	if e.cronCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cronCancel = cancel
	e.cronDone = done
	go e.runCron(ctx, done)
}

func (e *Engine) stopCronLocked() chan struct{} {
	if e.cronCancel == nil {
		return nil
	}
	e.cronCancel()
	done := e.cronDone
	e.cronCancel = nil
	e.cronDone = nil
	return done
}

func (e *Engine) runCron(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := e.now()
		which, at := e.NextTrigger(now)
		if at.IsZero() {
			e.log.Error().Msg("schedules never fire, stopping cron task")
			return
		}
		e.log.Debug().Str("variant", string(which)).Time("at", at).Msg("next day/night trigger")
		select {
		case <-ctx.Done():
			return
		case <-e.after(at.Sub(now)):
		}
		if err := e.SwapActiveQueueTo(ctx, which); err != nil {
			e.log.Error().Err(err).Str("variant", string(which)).Msg("scheduled swap failed")
		}
	}
}
