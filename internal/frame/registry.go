package frame

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// Presenter is notified whenever the visual state of a frame changes.
// Calls are made outside the registry lock, on the mutating goroutine.
type Presenter interface {
	// UpdateVisual receives a snapshot of a created or mutated frame.
	UpdateVisual(f Frame)

	// RemoveVisual is called when a frame leaves the registry.
	RemoveVisual(id ID)
}

// entry is a live frame plus its stacking order.
type entry struct {
	frame Frame
	z     uint64
}

// Registry owns all live frames. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	frames    map[ID]*entry
	nextID    uint64
	nextZ     uint64
	presenter Presenter
	root      Rect
}

// NewRegistry creates a registry whose root rectangle is width x height.
func NewRegistry(width, height float64) *Registry {
	return &Registry{
		frames: make(map[ID]*entry),
		root:   Rect{Width: width, Height: height},
	}
}

// SetPresenter installs the presentation-layer hook. A nil presenter disables notifications.
func (r *Registry) SetPresenter(p Presenter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presenter = p
}

// Root returns the root rectangle used for anchors relative to the screen.
func (r *Registry) Root() Rect {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root
}

// Create allocates a visible frame at the origin owned by owner.
func (r *Registry) Create(owner Owner) Frame {
	r.mu.Lock()
	r.nextID++
	r.nextZ++
	e := &entry{
		frame: Frame{ID: ID(r.nextID), Owner: owner, Visible: true},
		z:     r.nextZ,
	}
	r.frames[e.frame.ID] = e
	f := e.frame
	p := r.presenter
	r.mu.Unlock()

	if p != nil {
		p.UpdateVisual(f)
	}
	return f
}

// Get returns a snapshot of the frame.
func (r *Registry) Get(id ID) (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.frames[id]
	if !ok {
		return Frame{}, false
	}
	return e.frame, true
}

// Update applies fn to the live frame, raises it to the top of the stacking
// order and notifies the presenter. The id and owner cannot be changed.
func (r *Registry) Update(id ID, fn func(*Frame)) (Frame, error) {
	r.mu.Lock()
	e, ok := r.frames[id]
	if !ok {
		r.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: %s", ErrFrameNotFound, id)
	}
	owner := e.frame.Owner
	fn(&e.frame)
	e.frame.ID = id
	e.frame.Owner = owner
	r.nextZ++
	e.z = r.nextZ
	f := e.frame
	p := r.presenter
	r.mu.Unlock()

	if p != nil {
		p.UpdateVisual(f)
	}
	return f, nil
}

// UpdateVisual stores every mutable field of f on the live frame with the same id.
func (r *Registry) UpdateVisual(f Frame) error {
	_, err := r.Update(f.ID, func(live *Frame) {
		*live = f
	})
	return err
}

// Move sets the frame position. The presentation layer calls it while dragging.
func (r *Registry) Move(id ID, x, y float64) error {
	_, err := r.Update(id, func(f *Frame) {
		f.X, f.Y = x, y
	})
	return err
}

// HitTest returns the topmost visible frame containing the point.
// The most recently created or updated frame is on top.
func (r *Registry) HitTest(x, y float64) (Frame, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	for _, e := range r.frames {
		if !e.frame.Visible || !e.frame.Bounds().Contains(x, y) {
			continue
		}
		if best == nil || e.z > best.z {
			best = e
		}
	}
	if best == nil {
		return Frame{}, false
	}
	return best.frame, true
}

// Remove deletes a frame. It returns false if the frame did not exist.
func (r *Registry) Remove(id ID) bool {
	r.mu.Lock()
	_, ok := r.frames[id]
	delete(r.frames, id)
	p := r.presenter
	r.mu.Unlock()

	if ok && p != nil {
		p.RemoveVisual(id)
	}
	return ok
}

// RemoveOwner deletes every frame created by the given addon instance.
// Returns the number of frames removed.
func (r *Registry) RemoveOwner(instance string) int {
	r.mu.Lock()
	var removed []ID
	for id, e := range r.frames {
		if e.frame.Owner.Instance == instance {
			removed = append(removed, id)
			delete(r.frames, id)
		}
	}
	p := r.presenter
	r.mu.Unlock()

	if p != nil {
		for _, id := range removed {
			p.RemoveVisual(id)
		}
	}
	return len(removed)
}

// ByOwner returns snapshots of the frames owned by an addon name, in creation order.
func (r *Registry) ByOwner(name string) []Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Frame
	for _, e := range r.frames {
		if e.frame.Owner.Name == name {
			out = append(out, e.frame)
		}
	}
	sortByID(out)
	return out
}

// Len returns the number of live frames.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.frames)
}

func sortByID(frames []Frame) {
	slices.SortFunc(frames, func(a, b Frame) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
