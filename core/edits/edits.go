// Package edits holds the editing-layer state an export consumes: the
// rotation of each page and the stamp placements the user has positioned.
package edits

import (
	"math"
	"sort"
	"sync"

	"github.com/FocuswithJustin/PageDesk/core/document"
)

// Normalize snaps degrees to the nearest right angle and reduces it modulo
// 360, keeping the sign. The result is one of 0, ±90, ±180, ±270.
func Normalize(degrees float64) int {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) {
		return 0
	}
	quarter := int64(math.Round(degrees / 90))
	return int((quarter % 4) * 90)
}

// Positive maps a normalized angle onto 0, 90, 180 or 270.
func Positive(degrees int) int {
	return ((degrees % 360) + 360) % 360
}

// Rotations maps page indices to normalized rotation angles. Pages without
// an entry are unrotated.
type Rotations struct {
	mu     sync.RWMutex
	angles map[int]int
}

// NewRotations returns an empty rotation map.
func NewRotations() *Rotations {
	return &Rotations{angles: make(map[int]int)}
}

// Rotate adds delta degrees to the page and returns the new normalized angle.
func (r *Rotations) Rotate(page int, delta float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := Normalize(float64(r.angles[page]) + delta)
	r.store(page, a)
	return a
}

// Set replaces the page's rotation.
func (r *Rotations) Set(page int, degrees float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := Normalize(degrees)
	r.store(page, a)
	return a
}

func (r *Rotations) store(page, angle int) {
	if angle == 0 {
		delete(r.angles, page)
		return
	}
	r.angles[page] = angle
}

// Get returns the page's rotation, 0 if unset.
func (r *Rotations) Get(page int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.angles[page]
}

// Reset clears every rotation.
func (r *Rotations) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.angles = make(map[int]int)
}

// Snapshot returns a copy holding only rotated pages.
func (r *Rotations) Snapshot() map[int]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]int, len(r.angles))
	for p, a := range r.angles {
		out[p] = a
	}
	return out
}

// Placement is a stamp positioned by the user on one page. Position and
// Size are in view space of the unrotated page.
type Placement struct {
	ID       int        `json:"id"`
	Page     int        `json:"page"`
	Image    string     `json:"image"`
	Position [2]float64 `json:"position"`
	Size     [2]float64 `json:"size"`
	Z        int        `json:"z"`
}

// ViewBox returns the placement rectangle in view space.
func (p Placement) ViewBox() document.Box {
	return document.Box{X: p.Position[0], Y: p.Position[1], W: p.Size[0], H: p.Size[1]}
}

// Placements holds stamp placements grouped by page.
type Placements struct {
	mu     sync.RWMutex
	nextID int
	byPage map[int][]Placement
}

// NewPlacements returns an empty collection.
func NewPlacements() *Placements {
	return &Placements{byPage: make(map[int][]Placement)}
}

// Add stores p and returns its assigned ID.
func (s *Placements) Add(p Placement) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	s.byPage[p.Page] = append(s.byPage[p.Page], p)
	return p.ID
}

// Remove deletes the placement with the given ID. It reports whether a
// placement was removed.
func (s *Placements) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for page, list := range s.byPage {
		for i, p := range list {
			if p.ID != id {
				continue
			}
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(s.byPage, page)
			} else {
				s.byPage[page] = list
			}
			return true
		}
	}
	return false
}

// ResetPage removes every placement on page.
func (s *Placements) ResetPage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPage, page)
}

// Reset removes every placement.
func (s *Placements) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPage = make(map[int][]Placement)
}

// Count returns the total number of placements.
func (s *Placements) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, list := range s.byPage {
		n += len(list)
	}
	return n
}

// ByPage returns a deep copy of the placements, each page's list in
// compositing order.
func (s *Placements) ByPage() map[int][]Placement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int][]Placement, len(s.byPage))
	for page, list := range s.byPage {
		out[page] = Ordered(list)
	}
	return out
}

// Ordered returns a copy of list sorted by ascending Z, keeping insertion
// order among equal Z.
func Ordered(list []Placement) []Placement {
	out := append([]Placement(nil), list...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Z < out[j].Z })
	return out
}
