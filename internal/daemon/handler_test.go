package daemon

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/g960059/itch/internal/ipc"
	"github.com/g960059/itch/internal/model"
	"github.com/g960059/itch/internal/queue"
)

type fakeJumper struct {
	jumps []int
	err   error
}

func (f *fakeJumper) JumpTo(index int) error {
	if f.err != nil {
		return f.err
	}
	f.jumps = append(f.jumps, index)
	return nil
}

type fakeDayNight struct {
	enabled  bool
	swapped  []model.Variant
	setErr   error
	swapErr  error
	setCalls int
}

func (f *fakeDayNight) Enabled() bool { return f.enabled }

func (f *fakeDayNight) SetEnabled(_ context.Context, enabled bool) (bool, error) {
	f.setCalls++
	if f.setErr != nil {
		return false, f.setErr
	}
	changed := f.enabled != enabled
	f.enabled = enabled
	return changed, nil
}

func (f *fakeDayNight) SwapActiveQueueTo(_ context.Context, which model.Variant) error {
	if f.swapErr != nil {
		return f.swapErr
	}
	f.swapped = append(f.swapped, which)
	return nil
}

func newTestHandler(items ...string) (*Handler, *queue.Playlist, *fakeJumper, *fakeDayNight) {
	playlist := queue.NewPlaylist(items, false)
	jumper := &fakeJumper{}
	dn := &fakeDayNight{}
	return NewHandler(playlist, jumper, dn), playlist, jumper, dn
}

func TestHandleSwitchToBackground(t *testing.T) {
	h, _, jumper, _ := newTestHandler("/bg/a.png", "/bg/b.png")
	resp := h.Handle(context.Background(), ipc.SwitchToBackground("/bg/b.png"))
	if resp.Kind != ipc.KindSwitchToBackground || !resp.OK {
		t.Fatalf("expected ok, got %+v", resp)
	}
	if !reflect.DeepEqual(jumper.jumps, []int{1}) {
		t.Fatalf("expected jump to 1, got %v", jumper.jumps)
	}

	resp = h.Handle(context.Background(), ipc.SwitchToBackground("b.png"))
	if resp.OK {
		t.Fatalf("switch matches exactly, suffix should fail")
	}
}

func TestHandleSwitchFailsWhenSchedulerStopped(t *testing.T) {
	h, _, jumper, _ := newTestHandler("/bg/a.png")
	jumper.err = errors.New("stopped")
	if resp := h.Handle(context.Background(), ipc.SwitchToBackground("/bg/a.png")); resp.OK {
		t.Fatalf("expected failure when jump fails")
	}
}

func TestHandleRearrange(t *testing.T) {
	h, playlist, _, _ := newTestHandler("/bg/A.png", "/bg/B.png", "/bg/C.png", "/bg/D.png")
	resp := h.Handle(context.Background(), ipc.RearrangeBackground("D.png", model.Before, "B.png"))
	if !resp.OK || resp.MovedIndex != 3 || resp.TargetIndex != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	want := []string{"/bg/A.png", "/bg/D.png", "/bg/B.png", "/bg/C.png"}
	if got := playlist.GetAll(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	resp = h.Handle(context.Background(), ipc.RearrangeBackground("B.png", model.After, "B.png"))
	if resp.OK || resp.MovedIndex != 0 || resp.TargetIndex != 0 {
		t.Fatalf("self move should fail with zeroed indices, got %+v", resp)
	}
	resp = h.Handle(context.Background(), ipc.RearrangeBackground("missing.png", model.After, "B.png"))
	if resp.OK {
		t.Fatalf("expected failure for unknown background")
	}
}

func TestHandleGetQueue(t *testing.T) {
	h, _, _, _ := newTestHandler()
	resp := h.Handle(context.Background(), ipc.GetQueue())
	if !resp.OK || resp.Items == nil || len(resp.Items) != 0 {
		t.Fatalf("expected empty non-nil items, got %+v", resp)
	}
}

func TestHandleSetDayNight(t *testing.T) {
	h, _, _, dn := newTestHandler()
	resp := h.Handle(context.Background(), ipc.SetDayNight(true))
	if !resp.OK || !resp.Changed {
		t.Fatalf("expected ok+changed, got %+v", resp)
	}
	resp = h.Handle(context.Background(), ipc.SetDayNight(true))
	if !resp.OK || resp.Changed {
		t.Fatalf("expected ok+unchanged, got %+v", resp)
	}

	dn.setErr = errors.New("disk full")
	resp = h.Handle(context.Background(), ipc.SetDayNight(false))
	if resp.OK || resp.Changed {
		t.Fatalf("expected failure, got %+v", resp)
	}
}

func TestHandleSwapPlaylist(t *testing.T) {
	h, _, _, dn := newTestHandler()
	if resp := h.Handle(context.Background(), ipc.SwapPlaylist(model.VariantNight)); !resp.OK {
		t.Fatalf("expected ok")
	}
	if !reflect.DeepEqual(dn.swapped, []model.Variant{model.VariantNight}) {
		t.Fatalf("unexpected swaps: %v", dn.swapped)
	}
	dn.swapErr = errors.New("write failed")
	if resp := h.Handle(context.Background(), ipc.SwapPlaylist(model.VariantDay)); resp.OK {
		t.Fatalf("expected failure when swap fails")
	}
}
