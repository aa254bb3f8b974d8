package queue

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/g960059/itch/internal/model"
)

type fakeJumper struct {
	jumps []int
	err   error
}

func (f *fakeJumper) JumpTo(index int) error {
	f.jumps = append(f.jumps, index)
	return f.err
}

func abcd() *Playlist {
	return NewPlaylist([]string{"/w/A.png", "/w/B.png", "/w/C.png", "/w/D.png"}, false)
}

func TestRearrangeBefore(t *testing.T) {
	p := abcd()
	moved, target, err := p.Rearrange("D.png", model.Before, "B.png")
	if err != nil {
		t.Fatalf("rearrange: %v", err)
	}
	if moved != 3 || target != 1 {
		t.Fatalf("expected (3,1), got (%d,%d)", moved, target)
	}
	want := []string{"/w/A.png", "/w/D.png", "/w/B.png", "/w/C.png"}
	if got := p.GetAll(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestRearrangeAfter(t *testing.T) {
	p := abcd()
	moved, target, err := p.Rearrange("A.png", model.After, "C.png")
	if err != nil {
		t.Fatalf("rearrange: %v", err)
	}
	if moved != 0 || target != 2 {
		t.Fatalf("expected (0,2), got (%d,%d)", moved, target)
	}
	want := []string{"/w/B.png", "/w/C.png", "/w/A.png", "/w/D.png"}
	if got := p.GetAll(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestRearrangeRemainingDirections(t *testing.T) {
	p := abcd()
	moved, target, err := p.Rearrange("A.png", model.Before, "C.png")
	if err != nil {
		t.Fatalf("rearrange: %v", err)
	}
	if moved != 0 || target != 1 {
		t.Fatalf("before-right: expected (0,1), got (%d,%d)", moved, target)
	}
	if got, want := p.GetAll(), []string{"/w/B.png", "/w/A.png", "/w/C.png", "/w/D.png"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("before-right: got %v want %v", got, want)
	}

	p = abcd()
	moved, target, err = p.Rearrange("D.png", model.After, "B.png")
	if err != nil {
		t.Fatalf("rearrange: %v", err)
	}
	if moved != 3 || target != 2 {
		t.Fatalf("after-left: expected (3,2), got (%d,%d)", moved, target)
	}
	if got, want := p.GetAll(), []string{"/w/A.png", "/w/B.png", "/w/D.png", "/w/C.png"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after-left: got %v want %v", got, want)
	}
}

func TestRearrangeIndicesReplayMove(t *testing.T) {
	names := []string{"A.png", "B.png", "C.png", "D.png"}
	for _, moved := range names {
		for _, target := range names {
			for _, side := range []model.Position{model.Before, model.After} {
				p := abcd()
				mirror := p.GetAll()
				from, to, err := p.Rearrange(moved, side, target)
				if err != nil {
					continue
				}
				item := mirror[from]
				mirror = append(mirror[:from], mirror[from+1:]...)
				mirror = append(mirror[:to], append([]string{item}, mirror[to:]...)...)
				if got := p.GetAll(); !reflect.DeepEqual(got, mirror) {
					t.Fatalf("%s %s %s: replay gave %v, playlist is %v", moved, side, target, mirror, got)
				}
			}
		}
	}
}

func TestRearrangeNoOps(t *testing.T) {
	cases := []struct {
		moved  string
		pos    model.Position
		target string
	}{
		{"B.png", model.Before, "B.png"},
		{"B.png", model.After, "B.png"},
		{"A.png", model.Before, "B.png"},
		{"B.png", model.After, "A.png"},
	}
	for _, tc := range cases {
		p := abcd()
		before := p.GetAll()
		_, _, err := p.Rearrange(tc.moved, tc.pos, tc.target)
		if !errors.Is(err, ErrNoOp) {
			t.Fatalf("%s %s %s: expected ErrNoOp, got %v", tc.moved, tc.pos, tc.target, err)
		}
		if !reflect.DeepEqual(p.GetAll(), before) {
			t.Fatalf("no-op changed the playlist")
		}
	}
}

func TestRearrangeNotFound(t *testing.T) {
	p := abcd()
	if _, _, err := p.Rearrange("Z.png", model.Before, "A.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing moved, got %v", err)
	}
	if _, _, err := p.Rearrange("A.png", model.Before, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty target, got %v", err)
	}
	empty := NewPlaylist(nil, false)
	if _, _, err := empty.Rearrange("A.png", model.Before, "B.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty playlist, got %v", err)
	}
}

func TestRearrangeSuffixAmbiguity(t *testing.T) {
	items := []string{"/day/x.png", "/night/x.png", "/w/y.png"}

	lenient := NewPlaylist(items, false)
	moved, _, err := lenient.Rearrange("x.png", model.After, "y.png")
	if err != nil {
		t.Fatalf("lenient rearrange: %v", err)
	}
	if moved != 0 {
		t.Fatalf("expected first match to win, got %d", moved)
	}

	strict := NewPlaylist(items, true)
	if _, _, err := strict.Rearrange("x.png", model.After, "y.png"); !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	if _, _, err := strict.Rearrange("night/x.png", model.After, "y.png"); err != nil {
		t.Fatalf("longer suffix should disambiguate: %v", err)
	}
}

func TestRearrangeKeepsAnchorAndMultiset(t *testing.T) {
	ids := []string{"A.png", "B.png", "C.png", "D.png"}
	for pos := 0; pos < 4; pos++ {
		for _, moved := range ids {
			for _, target := range ids {
				for _, side := range []model.Position{model.Before, model.After} {
					p := abcd()
					p.SetPosition(pos)
					_, anchor, _ := p.Peek()
					before := p.GetAll()
					_, _, err := p.Rearrange(moved, side, target)
					if err != nil && !errors.Is(err, ErrNoOp) {
						t.Fatalf("rearrange %s %s %s: %v", moved, side, target, err)
					}
					_, now, _ := p.Peek()
					if now != anchor {
						t.Fatalf("anchor moved from %s to %s (%s %s %s)", anchor, now, moved, side, target)
					}
					after := p.GetAll()
					sort.Strings(before)
					sort.Strings(after)
					if !reflect.DeepEqual(before, after) {
						t.Fatalf("multiset changed: %v vs %v", before, after)
					}
				}
			}
		}
	}
}

func TestSwitchToJumpsToExactMatch(t *testing.T) {
	p := abcd()
	j := &fakeJumper{}
	idx, err := p.SwitchTo("/w/C.png", j)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if idx != 2 || len(j.jumps) != 1 || j.jumps[0] != 2 {
		t.Fatalf("expected jump to 2, got idx=%d jumps=%v", idx, j.jumps)
	}

	if _, err := p.SwitchTo("C.png", j); !errors.Is(err, ErrNotFound) {
		t.Fatalf("switch requires exact match, got %v", err)
	}
	if len(j.jumps) != 1 {
		t.Fatalf("failed switch must not jump")
	}

	j.err = errors.New("stopped")
	if _, err := p.SwitchTo("/w/A.png", j); err == nil {
		t.Fatalf("expected jumper error propagated")
	}
}

func TestPeekAndAdvanceWrap(t *testing.T) {
	p := abcd()
	for i := 0; i < 5; i++ {
		idx, _, ok := p.Peek()
		if !ok {
			t.Fatalf("expected entry")
		}
		p.AdvancePast(idx)
	}
	if got := p.Position(); got != 1 {
		t.Fatalf("expected wrapped position 1, got %d", got)
	}

	empty := NewPlaylist(nil, false)
	if _, _, ok := empty.Peek(); ok {
		t.Fatalf("expected empty peek to report false")
	}
}

func TestSwapClampsPosition(t *testing.T) {
	p := abcd()
	p.SetPosition(3)
	prev, prevLabel := p.Swap([]string{"/n/1.png"}, model.VariantNight)
	if len(prev) != 4 || prevLabel != "" {
		t.Fatalf("unexpected previous contents: %v %q", prev, prevLabel)
	}
	if p.Position() != 0 {
		t.Fatalf("expected position clamped to 0, got %d", p.Position())
	}
	if p.Label() != model.VariantNight {
		t.Fatalf("expected night label")
	}
}
