package client

import (
	"sort"

	"tickcore.dev/internal/protocol"
)

// Delta is an incremental change set. Removals apply first, then additions,
// then changes.
type Delta struct {
	Removed []int32
	Added   []protocol.EntityState
	Changed []protocol.EntityState
}

func (d Delta) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0 && len(d.Changed) == 0
}

// AuthState mirrors the server's authoritative entities.
type AuthState struct {
	entities map[int32]protocol.EntityState
}

func NewAuthState() *AuthState {
	return &AuthState{entities: map[int32]protocol.EntityState{}}
}

// ApplyFullSnapshot replaces everything.
func (s *AuthState) ApplyFullSnapshot(ents []protocol.EntityState) {
	s.entities = make(map[int32]protocol.EntityState, len(ents))
	for _, e := range ents {
		s.entities[e.ID] = e
	}
}

func (s *AuthState) ApplyDelta(d Delta) {
	if s.entities == nil {
		s.entities = map[int32]protocol.EntityState{}
	}
	for _, id := range d.Removed {
		delete(s.entities, id)
	}
	for _, e := range d.Added {
		s.entities[e.ID] = e
	}
	for _, e := range d.Changed {
		s.entities[e.ID] = e
	}
}

func (s *AuthState) Entity(id int32) (protocol.EntityState, bool) {
	e, ok := s.entities[id]
	return e, ok
}

func (s *AuthState) Len() int { return len(s.entities) }

// Entities returns all entities sorted by id.
func (s *AuthState) Entities() []protocol.EntityState {
	out := make([]protocol.EntityState, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
