package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/g960059/itch/internal/model"
)

var (
	ErrNotFound   = errors.New("background not found")
	ErrNoOp       = errors.New("rearrange would not change the playlist")
	ErrAmbiguous  = errors.New("background identifier matches more than one entry")
	ErrAnchorLost = errors.New("current background lost during rearrange")
)

// Jumper moves the rotation to a given index and restarts its timer.
type Jumper interface {
	JumpTo(index int) error
}

// Playlist is the ordered wallpaper list plus the rotation position.
// All access goes through its mutex.
type Playlist struct {
	mu       sync.Mutex
	items    []string
	position int
	label    model.Variant
	strict   bool
}

func NewPlaylist(items []string, strictSuffix bool) *Playlist {
	return &Playlist{
		items:  append([]string(nil), items...),
		strict: strictSuffix,
	}
}

func (p *Playlist) GetAll() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.items...)
}

func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *Playlist) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Label is the variant the live contents belong to, or "" if unlabelled.
func (p *Playlist) Label() model.Variant {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.label
}

func (p *Playlist) SetLabel(label model.Variant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.label = label
}

func (p *Playlist) Replace(items []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append([]string(nil), items...)
	p.clampLocked()
}

// IndexOf returns the index of the first exact match.
func (p *Playlist) IndexOf(path string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exactIndexLocked(path)
}

// SwitchTo resolves path exactly and asks the jumper to rotate to it. The
// jumper runs after the lock is released because it reads the playlist too.
func (p *Playlist) SwitchTo(path string, jumper Jumper) (int, error) {
	idx, err := p.IndexOf(path)
	if err != nil {
		return 0, err
	}
	if err := jumper.JumpTo(idx); err != nil {
		return 0, fmt.Errorf("jump to %d: %w", idx, err)
	}
	return idx, nil
}

// Rearrange moves the entry matching moved to just before or after the
// entry matching target. Identifiers match by suffix. It returns the moved
// entry's index before the move and the index it was inserted at, so
// removing at the first and inserting at the second replays the move.
func (p *Playlist) Rearrange(moved string, pos model.Position, target string) (int, int, error) {
	if !pos.Valid() {
		return 0, 0, fmt.Errorf("rearrange: invalid position %q", pos)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return 0, 0, ErrNotFound
	}
	p.clampLocked()
	anchor := p.items[p.position]

	src, err := p.suffixIndexLocked(moved)
	if err != nil {
		return 0, 0, err
	}
	dst, err := p.suffixIndexLocked(target)
	if err != nil {
		return 0, 0, err
	}
	if src == dst {
		return 0, 0, ErrNoOp
	}

	insertAt := dst
	switch {
	case pos == model.Before && dst > src:
		insertAt = dst - 1
	case pos == model.After && dst < src:
		insertAt = dst + 1
	}
	if insertAt == src {
		return 0, 0, ErrNoOp
	}

	item := p.items[src]
	p.items = append(p.items[:src], p.items[src+1:]...)
	p.items = append(p.items[:insertAt], append([]string{item}, p.items[insertAt:]...)...)

	newPos, err := p.exactIndexLocked(anchor)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrAnchorLost, anchor)
	}
	p.position = newPos
	return src, insertAt, nil
}

// Peek returns the entry the next rotation should paint. An out of range
// position falls back to the last entry.
func (p *Playlist) Peek() (int, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		return 0, "", false
	}
	idx := p.position
	if idx < 0 || idx >= len(p.items) {
		idx = len(p.items) - 1
	}
	return idx, p.items[idx], true
}

// AdvancePast moves the position to the entry after idx, wrapping.
func (p *Playlist) AdvancePast(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) == 0 {
		p.position = 0
		return
	}
	if idx < 0 {
		idx = -1
	}
	p.position = (idx + 1) % len(p.items)
}

func (p *Playlist) SetPosition(idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.items) {
		return false
	}
	p.position = idx
	return true
}

// Swap exchanges the live contents and label for the given ones and
// returns what was live before.
func (p *Playlist) Swap(items []string, label model.Variant) ([]string, model.Variant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swapLocked(items, label)
}

// WithLock runs fn while holding the playlist mutex. fn must only use the
// *Locked view it is given.
func (p *Playlist) WithLock(fn func(v *Locked)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&Locked{p: p})
}

// Locked exposes playlist operations to callers already holding the mutex.
type Locked struct {
	p *Playlist
}

func (l *Locked) Items() []string {
	return append([]string{}, l.p.items...)
}

func (l *Locked) Label() model.Variant {
	return l.p.label
}

func (l *Locked) SetLabel(label model.Variant) {
	l.p.label = label
}

func (l *Locked) Swap(items []string, label model.Variant) ([]string, model.Variant) {
	return l.p.swapLocked(items, label)
}

func (p *Playlist) swapLocked(items []string, label model.Variant) ([]string, model.Variant) {
	prev, prevLabel := p.items, p.label
	p.items = append([]string(nil), items...)
	p.label = label
	p.clampLocked()
	return prev, prevLabel
}

func (p *Playlist) clampLocked() {
	if p.position < 0 || p.position >= len(p.items) {
		p.position = 0
	}
}

func (p *Playlist) exactIndexLocked(path string) (int, error) {
	if path == "" {
		return 0, ErrNotFound
	}
	for i, item := range p.items {
		if item == path {
			return i, nil
		}
	}
	return 0, ErrNotFound
}

func (p *Playlist) suffixIndexLocked(id string) (int, error) {
	if id == "" {
		return 0, ErrNotFound
	}
	found := -1
	for i, item := range p.items {
		if !strings.HasSuffix(item, id) {
			continue
		}
		if !p.strict {
			return i, nil
		}
		if found >= 0 {
			return 0, fmt.Errorf("%w: %q", ErrAmbiguous, id)
		}
		found = i
	}
	if found < 0 {
		return 0, ErrNotFound
	}
	return found, nil
}
