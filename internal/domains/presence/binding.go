// Package presence binds transport connections to durable identities and
// keeps the user's online flag in step with their live connection count.
package presence

import (
	"errors"
	"log/slog"
	"strings"
)

var ErrTokenRequired = errors.New("session token is required")

// BindingService associates a connection-level session token with a user.
// One user may hold several simultaneous connections under the same token;
// presence flips happen only on the first and last of them.
type BindingService struct {
	// UserBySession resolves the user owning a session token.
	UserBySession func(token string) (string, error)
	// SetOnline updates the user's presence flag in the directory.
	SetOnline func(userID string, online bool) error
	// TopicSize reports how many connections currently subscribe to a topic.
	TopicSize   func(topic string) int
	RecordError func(stage string, err error)

	Log *slog.Logger
}

func (s *BindingService) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Connected validates the token and flips the owning user online when this
// is the token's first live connection. An empty token is a fatal
// per-connection error: the caller must reject the connection.
// The caller subscribes the connection to the token topic afterwards; the
// first-connection check therefore runs before that subscription exists.
func (s *BindingService) Connected(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenRequired
	}
	if s.TopicSize != nil && s.TopicSize(token) > 0 {
		return nil
	}
	userID, err := s.UserBySession(token)
	if err != nil {
		s.log().Warn("session lookup on connect failed", "error", err)
		s.recordError("directory", err)
		return nil
	}
	if err := s.SetOnline(userID, true); err != nil {
		s.log().Warn("online flip failed", "user_id", userID, "error", err)
		s.recordError("directory", err)
		return nil
	}
	s.log().Info("user online", "user_id", userID)
	return nil
}

// Disconnecting flips the user offline only when the closing connection is
// the token topic's sole remaining member.
func (s *BindingService) Disconnecting(token string, soleRemaining bool) {
	token = strings.TrimSpace(token)
	if token == "" || !soleRemaining {
		return
	}
	userID, err := s.UserBySession(token)
	if err != nil {
		s.log().Warn("session lookup on disconnect failed", "error", err)
		s.recordError("directory", err)
		return
	}
	if err := s.SetOnline(userID, false); err != nil {
		s.log().Warn("offline flip failed", "user_id", userID, "error", err)
		s.recordError("directory", err)
		return
	}
	s.log().Info("user offline", "user_id", userID)
}

func (s *BindingService) recordError(stage string, err error) {
	if s.RecordError != nil {
		s.RecordError(stage, err)
	}
}
