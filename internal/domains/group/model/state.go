package model

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrInvalidGroupSnapshot = errors.New("group state snapshot is invalid")

// GroupState is an insertion-ordered mapping from member id to MemberState.
// Order matters only for deterministic iteration during fan-out; membership
// semantics are keyed purely by id.
type GroupState struct {
	order   []string
	members map[string]MemberState
}

func NewGroupState() *GroupState {
	return &GroupState{
		order:   make([]string, 0, 2),
		members: make(map[string]MemberState),
	}
}

func (g *GroupState) Len() int {
	return len(g.members)
}

func (g *GroupState) Get(memberID string) (MemberState, bool) {
	state, ok := g.members[memberID]
	return state, ok
}

func (g *GroupState) Has(memberID string) bool {
	_, ok := g.members[memberID]
	return ok
}

// Set upserts a member's state. A new member is appended to the iteration
// order; an existing member keeps its position.
func (g *GroupState) Set(memberID string, state MemberState) {
	if g.members == nil {
		g.members = make(map[string]MemberState)
	}
	if _, ok := g.members[memberID]; !ok {
		g.order = append(g.order, memberID)
	}
	g.members[memberID] = state
}

func (g *GroupState) Delete(memberID string) bool {
	if _, ok := g.members[memberID]; !ok {
		return false
	}
	delete(g.members, memberID)
	for i, id := range g.order {
		if id == memberID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// MemberIDs returns the member ids in insertion order.
func (g *GroupState) MemberIDs() []string {
	return append([]string(nil), g.order...)
}

// Each calls fn for every member in insertion order.
func (g *GroupState) Each(fn func(memberID string, state MemberState)) {
	for _, id := range g.order {
		fn(id, g.members[id])
	}
}

// AcceptedCount reports how many members have accepted their invite.
func (g *GroupState) AcceptedCount() int {
	n := 0
	for _, state := range g.members {
		if state.Accepted {
			n++
		}
	}
	return n
}

func (g *GroupState) Clone() *GroupState {
	clone := &GroupState{
		order:   append([]string(nil), g.order...),
		members: make(map[string]MemberState, len(g.members)),
	}
	for id, state := range g.members {
		clone.members[id] = state
	}
	return clone
}

// groupStateEntry is the serialized form of one ordered map entry.
type groupStateEntry struct {
	MemberID string      `json:"member_id"`
	State    MemberState `json:"state"`
}

// MarshalJSON encodes the ordered map as an entry list so that insertion
// order survives serialization.
func (g *GroupState) MarshalJSON() ([]byte, error) {
	entries := make([]groupStateEntry, 0, len(g.order))
	for _, id := range g.order {
		entries = append(entries, groupStateEntry{MemberID: id, State: g.members[id]})
	}
	return json.Marshal(entries)
}

func (g *GroupState) UnmarshalJSON(data []byte) error {
	var entries []groupStateEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	g.order = make([]string, 0, len(entries))
	g.members = make(map[string]MemberState, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.MemberID) == "" {
			return ErrInvalidGroupSnapshot
		}
		if _, dup := g.members[entry.MemberID]; dup {
			return ErrInvalidGroupSnapshot
		}
		g.order = append(g.order, entry.MemberID)
		g.members[entry.MemberID] = entry.State
	}
	return nil
}

// Equal reports whether two group states hold the same members with the same
// states in the same order.
func (g *GroupState) Equal(other *GroupState) bool {
	if g.Len() != other.Len() || len(g.order) != len(other.order) {
		return false
	}
	for i, id := range g.order {
		if other.order[i] != id {
			return false
		}
		if !memberStatesEqual(g.members[id], other.members[id]) {
			return false
		}
	}
	return true
}

func memberStatesEqual(a, b MemberState) bool {
	if a.Accepted != b.Accepted || a.Name != b.Name || a.Image != b.Image {
		return false
	}
	if len(a.Selections) != len(b.Selections) {
		return false
	}
	for i := range a.Selections {
		sa, sb := a.Selections[i], b.Selections[i]
		if sa.Name != sb.Name || sa.OriginalIndex != sb.OriginalIndex || len(sa.Items) != len(sb.Items) {
			return false
		}
		for j := range sa.Items {
			if sa.Items[j] != sb.Items[j] {
				return false
			}
		}
	}
	return true
}
