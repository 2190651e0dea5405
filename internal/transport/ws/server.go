package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"weat-sync/go-backend/internal/domains/group/usecase"
	"weat-sync/go-backend/internal/domains/presence"
	"weat-sync/go-backend/internal/metrics"
	"weat-sync/go-backend/internal/platform/ratelimiter"
	"weat-sync/go-backend/internal/wire"
)

// Server upgrades HTTP requests to websocket connections and routes inbound
// protocol events to the membership service.
type Server struct {
	Hub        *Hub
	Membership *usecase.MembershipService
	Binding    *presence.BindingService
	// InviteLimiter and UpdateLimiter throttle per member id; a limited
	// event is dropped and logged, never surfaced to the client.
	InviteLimiter *ratelimiter.MapLimiter
	UpdateLimiter *ratelimiter.MapLimiter
	Metrics       *metrics.Metrics
	Log           *slog.Logger

	upgrader websocket.Upgrader
}

// NewServer builds a websocket server whose upgrader enforces the allowed
// origin patterns (exact origins, or "scheme://host:*" for any port).
func NewServer(hub *Hub, membership *usecase.MembershipService, binding *presence.BindingService, allowedOrigins []string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Hub:        hub,
		Membership: membership,
		Binding:    binding,
		Log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(patterns []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients carry no origin.
			return true
		}
		for _, pattern := range patterns {
			if originMatches(pattern, origin) {
				return true
			}
		}
		return false
	}
}

func originMatches(pattern, origin string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if base, ok := strings.CutSuffix(pattern, ":*"); ok {
		if origin == base {
			return true
		}
		return strings.HasPrefix(origin, base+":")
	}
	return origin == pattern
}

// ServeHTTP is the websocket endpoint. The session token travels in the
// Authorization bearer header or the token query parameter; a connection
// without one is rejected outright.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if err := s.Binding.Connected(token); err != nil {
		if errors.Is(err, presence.ErrTokenRequired) {
			http.Error(w, "session token required", http.StatusUnauthorized)
			return
		}
		http.Error(w, "connection rejected", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(s.Hub, conn, token)
	s.Hub.register(client)
	// The token topic is the cross-device notify path: invites reach every
	// connection of the user through it.
	s.Hub.Join(token, client)

	s.Log.Info("connection established", "conn_id", client.ID())

	go client.writePump()
	go func() {
		client.readPump(s.dispatch)
		s.disconnect(client)
	}()
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if value, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func (s *Server) disconnect(c *Client) {
	sole := s.Hub.IsSoleMember(c.token, c)
	s.Hub.unregister(c)
	s.Binding.Disconnecting(c.token, sole)
	s.Log.Info("connection closed", "conn_id", c.ID())
}

// dispatch decodes and runs one inbound event. A schema mismatch or a rate
// limit fails only this event; the connection stays up.
func (s *Server) dispatch(c *Client, payload []byte) {
	event, err := wire.DecodeInbound(payload)
	if err != nil {
		s.Log.Warn("inbound event rejected", "conn_id", c.ID(), "error", err)
		s.countRejected("schema")
		return
	}
	s.countEvent(wire.EventName(event))

	switch ev := event.(type) {
	case wire.FirstRender:
		snapshot, ok, err := s.Membership.FirstRender(c, ev.GroupID)
		if err != nil {
			s.Log.Warn("first render failed", "conn_id", c.ID(), "error", err)
			return
		}
		if ok {
			c.EmitDirect(wire.NewFirstRenderFrame(snapshot))
		}
	case wire.InviteSent:
		if !s.allow(s.InviteLimiter, ev.From.ID) {
			s.Log.Warn("invite rate limited", "from_id", ev.From.ID)
			s.countRejected("rate_limit")
			return
		}
		if err := s.Membership.InviteSent(c, ev.From, ev.ToID, ev.GroupID, *ev.FromState); err != nil {
			s.Log.Warn("invite failed", "conn_id", c.ID(), "error", err)
		}
	case wire.InviteResponse:
		if err := s.Membership.InviteResponse(c, ev.MemberID, ev.GroupID, ev.State); err != nil {
			s.Log.Warn("invite response failed", "conn_id", c.ID(), "error", err)
		}
	case wire.StateUpdated:
		if !s.allow(s.UpdateLimiter, ev.MemberID) {
			s.Log.Warn("state update rate limited", "member_id", ev.MemberID)
			s.countRejected("rate_limit")
			return
		}
		if err := s.Membership.StateUpdated(c, ev.MemberID, ev.GroupID, ev.State); err != nil {
			s.Log.Warn("state update failed", "conn_id", c.ID(), "error", err)
		}
	}
}

func (s *Server) allow(limiter *ratelimiter.MapLimiter, key string) bool {
	return limiter.Allow(key, time.Now())
}

func (s *Server) countEvent(event string) {
	if s.Metrics != nil {
		s.Metrics.EventsTotal.WithLabelValues(event).Inc()
	}
}

func (s *Server) countRejected(reason string) {
	if s.Metrics != nil {
		s.Metrics.EventsRejected.WithLabelValues(reason).Inc()
	}
}
