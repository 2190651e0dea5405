package usecase

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"weat-sync/go-backend/internal/domains/group"
	"weat-sync/go-backend/internal/wire"
)

type fakeSubscriber struct {
	subscribed   []string
	unsubscribed []string
}

func (f *fakeSubscriber) Subscribe(topic string)   { f.subscribed = append(f.subscribed, topic) }
func (f *fakeSubscriber) Unsubscribe(topic string) { f.unsubscribed = append(f.unsubscribed, topic) }

type broadcastRecord struct {
	groupID  string
	memberID string
	state    *MemberState
}

type membershipHarness struct {
	service    *MembershipService
	table      *group.Table
	persisted  map[string][][]byte
	broadcasts []broadcastRecord
	invites    []string
	calls      []string
}

func newHarness(t *testing.T) *membershipHarness {
	t.Helper()
	h := &membershipHarness{
		table:     group.NewTable(),
		persisted: map[string][][]byte{},
	}
	h.service = &MembershipService{
		Table: h.table,
		Persist: func(groupID string, blob []byte) error {
			h.persisted[groupID] = append(h.persisted[groupID], blob)
			h.calls = append(h.calls, "persist:"+groupID)
			return nil
		},
		NotifyGroup: func(groupID string, encodedState []byte, memberID string) {
			state, err := wire.DecodeMemberState(encodedState)
			if err != nil {
				t.Fatalf("broadcast carried undecodable state: %v", err)
			}
			h.broadcasts = append(h.broadcasts, broadcastRecord{groupID: groupID, memberID: memberID, state: state})
			h.calls = append(h.calls, "broadcast:"+groupID)
		},
		NotifyInvite: func(toID string, from wire.Identity, groupID string) {
			h.invites = append(h.invites, toID+"@"+groupID)
			h.calls = append(h.calls, "invite:"+toID)
		},
		Now: func() time.Time { return time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC) },
	}
	return h
}

func acceptedState(selections ...Selection) MemberState {
	if selections == nil {
		selections = []Selection{}
	}
	return MemberState{Accepted: true, Selections: selections}
}

func (h *membershipHarness) lastBlob(t *testing.T, groupID string) []byte {
	t.Helper()
	blobs := h.persisted[groupID]
	if len(blobs) == 0 {
		t.Fatalf("no persisted blob for %s", groupID)
	}
	return blobs[len(blobs)-1]
}

func TestInviteSentCreatesGroupWithPlaceholder(t *testing.T) {
	h := newHarness(t)
	sub := &fakeSubscriber{}

	err := h.service.InviteSent(sub, wire.Identity{ID: "A", Name: "Alice"}, "B", "g1", acceptedState())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, ok := h.table.Get("g1")
	if !ok {
		t.Fatal("g1 should be in the table")
	}
	a, _ := state.Get("A")
	if !a.Accepted {
		t.Fatal("sender should be active")
	}
	b, ok := state.Get("B")
	if !ok || b.Accepted {
		t.Fatalf("invitee should hold an unaccepted placeholder, got %+v ok=%v", b, ok)
	}
	if len(h.persisted["g1"]) != 1 {
		t.Fatalf("expected exactly one persistence call, got %d", len(h.persisted["g1"]))
	}
	if len(h.invites) != 1 || h.invites[0] != "B@g1" {
		t.Fatalf("unexpected invite deliveries: %v", h.invites)
	}
	if len(sub.subscribed) != 1 || sub.subscribed[0] != "g1" {
		t.Fatalf("sender connection should join the group topic, got %v", sub.subscribed)
	}
}

func TestInviteSentExtendsExistingGroup(t *testing.T) {
	h := newHarness(t)
	if err := h.service.InviteSent(nil, wire.Identity{ID: "A"}, "B", "g1", acceptedState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.service.InviteSent(nil, wire.Identity{ID: "A"}, "C", "g1", acceptedState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, _ := h.table.Get("g1")
	if state.Len() != 3 {
		t.Fatalf("expected 3 members, got %d", state.Len())
	}
	if got := state.MemberIDs(); got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("unexpected member order: %v", got)
	}
}

func TestInviteSentHydratesProfiles(t *testing.T) {
	h := newHarness(t)
	h.service.Profile = func(userID string) (string, string, error) {
		switch userID {
		case "A":
			return "Alice", "alice.png", nil
		case "B":
			return "Bob", "bob.png", nil
		}
		return "", "", errors.New("unknown user")
	}

	if err := h.service.InviteSent(nil, wire.Identity{ID: "A"}, "B", "g1", acceptedState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, _ := h.table.Get("g1")
	a, _ := state.Get("A")
	if a.Name != "Alice" || a.Image != "alice.png" {
		t.Fatalf("sender profile not stamped: %+v", a)
	}
	b, _ := state.Get("B")
	if b.Name != "Bob" || b.Image != "bob.png" {
		t.Fatalf("invitee profile not stamped: %+v", b)
	}
}

func TestInviteResponseAcceptBroadcastsWholeGroup(t *testing.T) {
	h := newHarness(t)
	if err := h.service.InviteSent(nil, wire.Identity{ID: "A"}, "B", "g1", acceptedState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.broadcasts = nil

	joined := acceptedState(Selection{Name: "x", Items: []LineItem{{Name: "item", Price: 9.5}}})
	if err := h.service.InviteResponse(&fakeSubscriber{}, "B", "g1", &joined); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(h.broadcasts) != 2 {
		t.Fatalf("expected one broadcast per member, got %d", len(h.broadcasts))
	}
	if h.broadcasts[0].memberID != "A" || h.broadcasts[1].memberID != "B" {
		t.Fatalf("broadcasts should follow insertion order, got %v", h.broadcasts)
	}
	if h.broadcasts[1].state == nil || len(h.broadcasts[1].state.Selections) != 1 {
		t.Fatalf("joined member's broadcast should carry its state: %+v", h.broadcasts[1].state)
	}
}

func TestInviteResponseRefusalOnTwoMemberGroupDeletesIt(t *testing.T) {
	h := newHarness(t)
	if err := h.service.InviteSent(nil, wire.Identity{ID: "A"}, "B", "g1", acceptedState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	persistsBefore := len(h.persisted["g1"])
	h.broadcasts = nil

	if err := h.service.InviteResponse(nil, "B", "g1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := h.table.Get("g1"); ok {
		t.Fatal("group should be removed from the table")
	}
	if len(h.persisted["g1"]) != persistsBefore {
		t.Fatal("refusal on the deletion branch must skip persistence")
	}
	if len(h.broadcasts) != 1 || h.broadcasts[0].memberID != "B" || h.broadcasts[0].state != nil {
		t.Fatalf("expected a single absence broadcast for B, got %v", h.broadcasts)
	}
}

func TestInviteResponseForInactiveGroupIsDropped(t *testing.T) {
	h := newHarness(t)
	state := acceptedState()
	if err := h.service.InviteResponse(nil, "B", "g-missing", &state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.broadcasts) != 0 || len(h.persisted) != 0 {
		t.Fatal("a response for an inactive group must be a no-op")
	}
	if _, ok := h.table.Get("g-missing"); ok {
		t.Fatal("no-op must not resurrect the group")
	}
}

func TestStateUpdatedLeaveOnThreeMemberGroupKeepsIt(t *testing.T) {
	h := newHarness(t)
	seed := NewGroupState()
	seed.Set("A", acceptedState())
	seed.Set("B", acceptedState())
	seed.Set("C", acceptedState())
	h.table.Set("g2", seed, time.Now())

	sub := &fakeSubscriber{}
	if err := h.service.StateUpdated(sub, "A", "g2", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, ok := h.table.Get("g2")
	if !ok {
		t.Fatal("group must stay in the table with 2 remaining members")
	}
	if state.Len() != 2 || state.Has("A") {
		t.Fatalf("A should be removed, got %v", state.MemberIDs())
	}
	if len(h.persisted["g2"]) != 1 {
		t.Fatalf("expected the reduced group to be persisted once, got %d", len(h.persisted["g2"]))
	}
	if len(h.broadcasts) != 1 || h.broadcasts[0].memberID != "A" || h.broadcasts[0].state != nil {
		t.Fatalf("expected one absence broadcast for A, got %v", h.broadcasts)
	}
	if len(sub.unsubscribed) != 1 || sub.unsubscribed[0] != "g2" {
		t.Fatalf("leaving connection should drop the topic, got %v", sub.unsubscribed)
	}
}

func TestStateUpdatedLeaveBelowTwoDeletesGroupButStillBroadcasts(t *testing.T) {
	h := newHarness(t)
	seed := NewGroupState()
	seed.Set("A", acceptedState())
	seed.Set("B", acceptedState())
	h.table.Set("g1", seed, time.Now())

	if err := h.service.StateUpdated(nil, "B", "g1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := h.table.Get("g1"); ok {
		t.Fatal("group should be deleted once membership drops below 2")
	}
	if len(h.persisted["g1"]) != 0 {
		t.Fatal("the deletion branch must skip persistence")
	}
	if len(h.broadcasts) != 1 || h.broadcasts[0].memberID != "B" {
		t.Fatalf("departure must still be broadcast, got %v", h.broadcasts)
	}
}

func TestStateUpdatedLazilyRecreatesMissingGroup(t *testing.T) {
	h := newHarness(t)
	updated := acceptedState(Selection{Name: "y"})
	if err := h.service.StateUpdated(nil, "A", "g-ghost", &updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state, ok := h.table.Get("g-ghost")
	if !ok || !state.Has("A") {
		t.Fatal("missing group should be recreated with the updating member")
	}
	if len(h.persisted["g-ghost"]) != 1 {
		t.Fatal("recovered group should be persisted")
	}
}

func TestPersistCompletesBeforeBroadcast(t *testing.T) {
	h := newHarness(t)
	seed := NewGroupState()
	seed.Set("A", acceptedState())
	seed.Set("B", acceptedState())
	h.table.Set("g1", seed, time.Now())
	h.calls = nil

	updated := acceptedState(Selection{Name: "z"})
	if err := h.service.StateUpdated(nil, "A", "g1", &updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h.calls) != 2 || h.calls[0] != "persist:g1" || h.calls[1] != "broadcast:g1" {
		t.Fatalf("persistence must complete before the broadcast, got %v", h.calls)
	}
}

func TestReadAfterWriteBlobMatchesTable(t *testing.T) {
	h := newHarness(t)
	if err := h.service.InviteSent(nil, wire.Identity{ID: "A"}, "B", "g1", acceptedState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	decoded, err := wire.DecodeGroupState(h.lastBlob(t, "g1"))
	if err != nil {
		t.Fatalf("persisted blob should decode: %v", err)
	}
	inMemory, _ := h.table.Get("g1")
	if !decoded.Equal(inMemory) {
		t.Fatal("durable blob must equal the in-memory group state")
	}
}

func TestPersistFailureDoesNotRollBackOrSuppressBroadcast(t *testing.T) {
	h := newHarness(t)
	seed := NewGroupState()
	seed.Set("A", acceptedState())
	seed.Set("B", acceptedState())
	h.table.Set("g1", seed, time.Now())

	var stages []string
	h.service.Persist = func(string, []byte) error { return errors.New("store outage") }
	h.service.RecordError = func(stage string, err error) { stages = append(stages, stage) }

	updated := acceptedState(Selection{Name: "w"})
	if err := h.service.StateUpdated(nil, "A", "g1", &updated); err != nil {
		t.Fatalf("persistence failure must not fail the event: %v", err)
	}
	state, _ := h.table.Get("g1")
	if got, _ := state.Get("A"); len(got.Selections) != 1 {
		t.Fatal("in-memory table must keep the new state despite the outage")
	}
	if len(h.broadcasts) != 1 {
		t.Fatal("broadcast must still be emitted after a failed persist")
	}
	if len(stages) != 1 || stages[0] != "persist" {
		t.Fatalf("failure should be recorded for operators, got %v", stages)
	}
}

func TestFirstRenderSnapshotAndSubscription(t *testing.T) {
	h := newHarness(t)
	if err := h.service.InviteSent(nil, wire.Identity{ID: "A"}, "B", "g1", acceptedState()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sub := &fakeSubscriber{}
	snapshot, ok, err := h.service.FirstRender(sub, "g1")
	if err != nil || !ok {
		t.Fatalf("expected a snapshot, got ok=%v err=%v", ok, err)
	}
	if len(sub.subscribed) != 1 || sub.subscribed[0] != "g1" {
		t.Fatalf("caller should join the topic, got %v", sub.subscribed)
	}
	again, ok, err := h.service.FirstRender(&fakeSubscriber{}, "g1")
	if err != nil || !ok {
		t.Fatalf("second render failed: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(snapshot, again) {
		t.Fatal("re-render with no intervening mutation must return an identical snapshot")
	}
}

func TestFirstRenderMissingGroupEmitsNothing(t *testing.T) {
	h := newHarness(t)
	sub := &fakeSubscriber{}
	_, ok, err := h.service.FirstRender(sub, "g-missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("missing group must yield no snapshot")
	}
	if len(sub.subscribed) != 0 {
		t.Fatal("missing group must not subscribe the caller")
	}
}

func TestMinimumMembershipInvariantAfterLeaveSequences(t *testing.T) {
	h := newHarness(t)
	seed := NewGroupState()
	for _, id := range []string{"A", "B", "C", "D"} {
		seed.Set(id, acceptedState())
	}
	h.table.Set("g1", seed, time.Now())

	for _, id := range []string{"D", "C", "B"} {
		if err := h.service.StateUpdated(nil, id, "g1", nil); err != nil {
			t.Fatalf("leave %s failed: %v", id, err)
		}
		if state, ok := h.table.Get("g1"); ok && state.Len() < 2 {
			t.Fatalf("table holds a group below minimum membership: %d", state.Len())
		}
	}
	if _, ok := h.table.Get("g1"); ok {
		t.Fatal("group should be gone after dropping below 2 members")
	}
}
