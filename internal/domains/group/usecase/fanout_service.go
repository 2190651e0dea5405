package usecase

import (
	"log/slog"

	"weat-sync/go-backend/internal/wire"
)

// FanoutService turns protocol-level notifications into topic emissions.
// Delivery is best-effort and fire-and-forget; the first-render snapshot
// path is the recovery mechanism for any missed broadcast.
type FanoutService struct {
	// Emit sends one frame to every connection subscribed to the topic.
	Emit func(topic string, frame wire.Frame)
	// SessionTokens resolves the live session tokens of a user, so invites
	// reach every device regardless of which group topics it subscribes to.
	SessionTokens func(userID string) ([]string, error)
	RecordError   func(stage string, err error)

	Log *slog.Logger
}

func (s *FanoutService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// NotifyGroup broadcasts one member's new state (or absence) to the group's
// topic. Self-originated echoes are not filtered; recipients are expected to
// ignore them idempotently.
func (s *FanoutService) NotifyGroup(groupID string, encodedState []byte, memberID string) {
	frame, err := wire.NewStateUpdatedFrame(encodedState, memberID)
	if err != nil {
		s.recordError("encode", err)
		return
	}
	s.Emit(groupID, frame)
}

// NotifyUser emits an invite to each of the user's session-token topics
// individually, one message per live session.
func (s *FanoutService) NotifyUser(toID string, from wire.Identity, groupID string) {
	tokens, err := s.SessionTokens(toID)
	if err != nil {
		s.log().Warn("session lookup for invite failed", "to_id", toID, "error", err)
		s.recordError("directory", err)
		return
	}
	frame, err := wire.NewInviteSentFrame(from, toID, groupID)
	if err != nil {
		s.recordError("encode", err)
		return
	}
	for _, token := range tokens {
		s.Emit(token, frame)
	}
	s.log().Debug("invite fan-out", "to_id", toID, "group_id", groupID, "sessions", len(tokens))
}

func (s *FanoutService) recordError(stage string, err error) {
	if s.RecordError != nil {
		s.RecordError(stage, err)
	}
}
