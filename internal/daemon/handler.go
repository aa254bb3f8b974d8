package daemon

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/g960059/itch/internal/ipc"
	"github.com/g960059/itch/internal/logging"
	"github.com/g960059/itch/internal/metrics"
	"github.com/g960059/itch/internal/model"
	"github.com/g960059/itch/internal/queue"
)

// DayNight is the part of the day/night engine requests reach.
type DayNight interface {
	Enabled() bool
	SetEnabled(ctx context.Context, enabled bool) (bool, error)
	SwapActiveQueueTo(ctx context.Context, which model.Variant) error
}

// Handler maps one request onto the playlist or the day/night engine.
// Engine errors never escape; they become a failure response.
type Handler struct {
	playlist *queue.Playlist
	jumper   queue.Jumper
	dayNight DayNight
	log      zerolog.Logger
}

func NewHandler(playlist *queue.Playlist, jumper queue.Jumper, dayNight DayNight) *Handler {
	return &Handler{
		playlist: playlist,
		jumper:   jumper,
		dayNight: dayNight,
		log:      logging.Component("handler"),
	}
}

func (h *Handler) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	resp, err := h.handle(ctx, req)
	metrics.RecordRequest(string(req.Kind), err == nil)
	if err != nil {
		ev := h.log.Warn()
		if errors.Is(err, queue.ErrNotFound) || errors.Is(err, queue.ErrNoOp) {
			ev = h.log.Debug()
		}
		ev.Err(err).Str("kind", string(req.Kind)).Msg("request rejected")
		return ipc.Failure(req.Kind)
	}
	return resp
}

func (h *Handler) handle(ctx context.Context, req ipc.Request) (ipc.Response, error) {
	switch req.Kind {
	case ipc.KindSwitchToBackground:
		if _, err := h.playlist.SwitchTo(req.Path, h.jumper); err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{Kind: req.Kind, OK: true}, nil

	case ipc.KindRearrangeBackground:
		moved, target, err := h.playlist.Rearrange(req.Moved, req.Position, req.Target)
		if err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{Kind: req.Kind, OK: true, MovedIndex: uint(moved), TargetIndex: uint(target)}, nil

	case ipc.KindGetQueue:
		return ipc.Response{Kind: req.Kind, OK: true, Items: h.playlist.GetAll()}, nil

	case ipc.KindSetDayNight:
		changed, err := h.dayNight.SetEnabled(ctx, req.Enabled)
		if err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{Kind: req.Kind, OK: true, Changed: changed}, nil

	case ipc.KindSwapPlaylist:
		if err := h.dayNight.SwapActiveQueueTo(ctx, req.Variant); err != nil {
			return ipc.Response{}, err
		}
		return ipc.Response{Kind: req.Kind, OK: true}, nil
	}
	return ipc.Response{}, errors.New("unknown request kind " + string(req.Kind))
}
