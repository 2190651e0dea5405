package usecase

import (
	"log/slog"
	"time"

	"weat-sync/go-backend/internal/domains/group"
	"weat-sync/go-backend/internal/wire"
)

// TopicSubscriber is the per-connection slice of the transport: the ability
// to follow and unfollow named topics.
type TopicSubscriber interface {
	Subscribe(topic string)
	Unsubscribe(topic string)
}

// MembershipService runs the invite/join/leave protocol against the group
// table. Every mutation holds the group's lock across the full
// read-modify-persist-broadcast span, and persistence is awaited before the
// corresponding broadcast so a subscriber re-reading durable state after a
// broadcast observes the just-written value.
type MembershipService struct {
	Table *group.Table

	// Persist writes the group's serialized blob through to durable storage.
	Persist func(groupID string, blob []byte) error
	// NotifyGroup emits one state-updated message to every subscriber of the
	// group's topic. encodedState is an absent marker when the member left.
	NotifyGroup func(groupID string, encodedState []byte, memberID string)
	// NotifyInvite delivers an invite to every live session of the invitee.
	NotifyInvite func(toID string, from wire.Identity, groupID string)
	// Profile resolves a user's display profile from the directory.
	Profile func(userID string) (name, image string, err error)
	// RecordError is the operator-visibility hook for persistence and lookup
	// failures; protocol clients never see structured errors.
	RecordError func(stage string, err error)

	Now func() time.Time
	Log *slog.Logger
}

func (s *MembershipService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MembershipService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// FirstRender returns the encoded snapshot of a group and subscribes the
// connection to its topic. The second return is false when the group is not
// active; the caller emits nothing in that case.
func (s *MembershipService) FirstRender(sub TopicSubscriber, groupID string) ([]byte, bool, error) {
	groupID, err := NormalizeGroupID(groupID)
	if err != nil {
		return nil, false, err
	}
	unlock := s.Table.Lock(groupID)
	defer unlock()

	state, ok := s.Table.Get(groupID)
	if !ok {
		return nil, false, nil
	}
	snapshot, err := wire.EncodeGroupState(state)
	if err != nil {
		return nil, false, err
	}
	if sub != nil {
		sub.Subscribe(groupID)
	}
	return snapshot, true, nil
}

// InviteSent creates the group on the first invite, or adds an invited
// placeholder to an existing one. The sender's connection joins the group
// topic so later broadcasts reach it without a first-render round trip.
func (s *MembershipService) InviteSent(sub TopicSubscriber, from wire.Identity, toID, groupID string, fromState MemberState) error {
	var err error
	if from.ID, err = NormalizeMemberID(from.ID); err != nil {
		return err
	}
	if toID, err = NormalizeMemberID(toID); err != nil {
		return err
	}
	if groupID, err = NormalizeGroupID(groupID); err != nil {
		return err
	}

	unlock := s.Table.Lock(groupID)
	defer unlock()
	now := s.now()

	toName, toImage := s.lookupProfile(toID)

	state, ok := s.Table.Get(groupID)
	if !ok {
		fromName, fromImage := s.lookupProfile(from.ID)
		if fromName != "" {
			fromState.Name = fromName
		}
		if fromImage != "" {
			fromState.Image = fromImage
		}
		state = NewGroupState()
		state.Set(from.ID, fromState)
		state.Set(toID, PlaceholderMemberState(toName, toImage))
		s.Table.Set(groupID, state, now)
	} else {
		state.Set(toID, PlaceholderMemberState(toName, toImage))
		s.Table.Touch(groupID, now)
	}

	if sub != nil {
		sub.Subscribe(groupID)
	}

	s.persist(groupID, state)

	if s.NotifyInvite != nil {
		s.NotifyInvite(toID, from, groupID)
	}
	s.log().Info("invite sent",
		"group_id", groupID, "from_id", from.ID, "to_id", toID, "members", state.Len())
	return nil
}

// InviteResponse materializes an accepted member (state present) or removes
// a refusing one (state absent). A response for a group no longer in the
// table is silently dropped.
func (s *MembershipService) InviteResponse(sub TopicSubscriber, memberID, groupID string, newState *MemberState) error {
	var err error
	if memberID, err = NormalizeMemberID(memberID); err != nil {
		return err
	}
	if groupID, err = NormalizeGroupID(groupID); err != nil {
		return err
	}

	unlock := s.Table.Lock(groupID)
	defer unlock()

	state, ok := s.Table.Get(groupID)
	if !ok {
		s.log().Debug("invite response for inactive group dropped", "group_id", groupID, "member_id", memberID)
		return nil
	}

	if newState != nil {
		state.Set(memberID, *newState)
		s.Table.Touch(groupID, s.now())
		if sub != nil {
			sub.Subscribe(groupID)
		}
		s.persist(groupID, state)

		// One message per member: the newly joined connection receives the
		// whole group's current state in a single pass.
		state.Each(func(id string, member MemberState) {
			s.broadcastState(groupID, id, &member)
		})
		return nil
	}

	state.Delete(memberID)
	if state.Len() < 2 {
		// The durable record's removal belongs to the external owner.
		s.Table.Delete(groupID)
	} else {
		s.Table.Touch(groupID, s.now())
		s.persist(groupID, state)
	}
	s.broadcastState(groupID, memberID, nil)
	return nil
}

// StateUpdated replaces a member's state or, when the state is absent,
// removes the member from the group. A missing group is recreated empty as a
// defensive recovery from an inconsistent client rather than failing the
// event.
func (s *MembershipService) StateUpdated(sub TopicSubscriber, memberID, groupID string, newState *MemberState) error {
	var err error
	if memberID, err = NormalizeMemberID(memberID); err != nil {
		return err
	}
	if groupID, err = NormalizeGroupID(groupID); err != nil {
		return err
	}

	unlock := s.Table.Lock(groupID)
	defer unlock()
	now := s.now()

	state, ok := s.Table.Get(groupID)
	if !ok {
		s.log().Warn("state update for unknown group, recreating", "group_id", groupID, "member_id", memberID)
		state = NewGroupState()
		s.Table.Set(groupID, state, now)
	}

	if newState == nil {
		if sub != nil {
			sub.Unsubscribe(groupID)
		}
		state.Delete(memberID)
		if state.Len() < 2 {
			s.Table.Delete(groupID)
		} else {
			s.Table.Touch(groupID, now)
			s.persist(groupID, state)
		}
	} else {
		state.Set(memberID, *newState)
		s.Table.Touch(groupID, now)
		s.persist(groupID, state)
	}

	// Broadcast regardless of the deletion branch: remaining subscribers
	// learn about the departure even when the group itself went defunct.
	s.broadcastState(groupID, memberID, newState)
	return nil
}

func (s *MembershipService) persist(groupID string, state *GroupState) {
	if s.Persist == nil {
		return
	}
	blob, err := wire.EncodeGroupState(state)
	if err != nil {
		s.recordError("encode", err)
		return
	}
	if err := s.Persist(groupID, blob); err != nil {
		// The in-memory table is not rolled back: memory and durable store
		// diverge until the next successful write for this group.
		s.log().Error("group persistence failed", "group_id", groupID, "error", err)
		s.recordError("persist", err)
	}
}

func (s *MembershipService) broadcastState(groupID, memberID string, state *MemberState) {
	if s.NotifyGroup == nil {
		return
	}
	encoded, err := wire.EncodeMemberState(state)
	if err != nil {
		s.recordError("encode", err)
		return
	}
	s.NotifyGroup(groupID, encoded, memberID)
}

func (s *MembershipService) lookupProfile(userID string) (name, image string) {
	if s.Profile == nil {
		return "", ""
	}
	name, image, err := s.Profile(userID)
	if err != nil {
		s.log().Warn("profile lookup failed", "user_id", userID, "error", err)
		s.recordError("directory", err)
		return "", ""
	}
	return name, image
}

func (s *MembershipService) recordError(stage string, err error) {
	if s.RecordError != nil {
		s.RecordError(stage, err)
	}
}
