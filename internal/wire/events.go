package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"weat-sync/go-backend/internal/domains/group/model"
)

// Inbound event names (client to server).
const (
	EventFirstRender    = "user:first:render"
	EventInviteSent     = "user:invite:sent"
	EventInviteResponse = "user:invite:response"
	EventStateUpdated   = "user:state:updated"
)

// Outbound event names (server to client).
const (
	EventServerFirstRender  = "server:first:render"
	EventServerInviteSent   = "server:invite:sent"
	EventServerStateUpdated = "server:state:updated"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrBadEventArgs = errors.New("event arguments do not match schema")
)

// Frame is the transport-level unit: an event name with positional arguments.
// Outbound frames carry a server-assigned id so clients can deduplicate.
type Frame struct {
	ID    string            `json:"id,omitempty"`
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

// Identity is the public identity carried inside an invite notification.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FirstRender asks for the current snapshot of a group and subscribes the
// calling connection to its topic.
type FirstRender struct {
	GroupID string
}

// InviteSent extends (or creates) a group with an invited member.
type InviteSent struct {
	From      Identity
	ToID      string
	GroupID   string
	FromState *model.MemberState
}

// InviteResponse accepts (state present) or refuses (state absent) an invite.
type InviteResponse struct {
	MemberID string
	GroupID  string
	State    *model.MemberState
}

// StateUpdated replaces a member's state (state present) or removes the
// member (state absent).
type StateUpdated struct {
	MemberID string
	GroupID  string
	State    *model.MemberState
}

// DecodeInbound parses a frame into its typed variant, validating the schema
// for the tag. A mismatch fails only this event, never the connection.
func DecodeInbound(data []byte) (any, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEventArgs, err)
	}
	switch frame.Event {
	case EventFirstRender:
		return decodeFirstRender(frame.Args)
	case EventInviteSent:
		return decodeInviteSent(frame.Args)
	case EventInviteResponse:
		memberID, groupID, state, err := decodeMemberGroupState(EventInviteResponse, frame.Args)
		if err != nil {
			return nil, err
		}
		return InviteResponse{MemberID: memberID, GroupID: groupID, State: state}, nil
	case EventStateUpdated:
		memberID, groupID, state, err := decodeMemberGroupState(EventStateUpdated, frame.Args)
		if err != nil {
			return nil, err
		}
		return StateUpdated{MemberID: memberID, GroupID: groupID, State: state}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Event)
	}
}

func decodeFirstRender(args []json.RawMessage) (FirstRender, error) {
	if len(args) != 1 {
		return FirstRender{}, argCountError(EventFirstRender, 1, len(args))
	}
	groupID, err := decodeStringArg(args[0])
	if err != nil {
		return FirstRender{}, err
	}
	groupID, err = model.NormalizeGroupID(groupID)
	if err != nil {
		return FirstRender{}, fmt.Errorf("%w: %v", ErrBadEventArgs, err)
	}
	return FirstRender{GroupID: groupID}, nil
}

func decodeInviteSent(args []json.RawMessage) (InviteSent, error) {
	if len(args) != 4 {
		return InviteSent{}, argCountError(EventInviteSent, 4, len(args))
	}
	var from Identity
	if err := json.Unmarshal(args[0], &from); err != nil {
		return InviteSent{}, fmt.Errorf("%w: from identity: %v", ErrBadEventArgs, err)
	}
	fromID, err := model.NormalizeMemberID(from.ID)
	if err != nil {
		return InviteSent{}, fmt.Errorf("%w: %v", ErrBadEventArgs, err)
	}
	from.ID = fromID
	toID, err := decodeStringArg(args[1])
	if err != nil {
		return InviteSent{}, err
	}
	if toID, err = model.NormalizeMemberID(toID); err != nil {
		return InviteSent{}, fmt.Errorf("%w: %v", ErrBadEventArgs, err)
	}
	groupID, err := decodeStringArg(args[2])
	if err != nil {
		return InviteSent{}, err
	}
	if groupID, err = model.NormalizeGroupID(groupID); err != nil {
		return InviteSent{}, fmt.Errorf("%w: %v", ErrBadEventArgs, err)
	}
	state, err := DecodeMemberState(args[3])
	if err != nil {
		return InviteSent{}, fmt.Errorf("%w: from state: %v", ErrBadEventArgs, err)
	}
	if state == nil {
		return InviteSent{}, fmt.Errorf("%w: invite requires the sender's state", ErrBadEventArgs)
	}
	return InviteSent{From: from, ToID: toID, GroupID: groupID, FromState: state}, nil
}

func decodeMemberGroupState(event string, args []json.RawMessage) (string, string, *model.MemberState, error) {
	if len(args) != 3 {
		return "", "", nil, argCountError(event, 3, len(args))
	}
	memberID, err := decodeStringArg(args[0])
	if err != nil {
		return "", "", nil, err
	}
	if memberID, err = model.NormalizeMemberID(memberID); err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrBadEventArgs, err)
	}
	groupID, err := decodeStringArg(args[1])
	if err != nil {
		return "", "", nil, err
	}
	if groupID, err = model.NormalizeGroupID(groupID); err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrBadEventArgs, err)
	}
	state, err := DecodeMemberState(args[2])
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: state payload: %v", ErrBadEventArgs, err)
	}
	return memberID, groupID, state, nil
}

func decodeStringArg(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: expected string argument", ErrBadEventArgs)
	}
	return s, nil
}

func argCountError(event string, want, got int) error {
	return fmt.Errorf("%w: %s expects %d args, got %d", ErrBadEventArgs, event, want, got)
}

// NewFirstRenderFrame wraps an encoded group snapshot for one connection.
func NewFirstRenderFrame(snapshot []byte) Frame {
	return outbound(EventServerFirstRender, json.RawMessage(snapshot))
}

// NewInviteSentFrame notifies an invitee about a pending invite.
func NewInviteSentFrame(from Identity, toID, groupID string) (Frame, error) {
	fromRaw, err := json.Marshal(from)
	if err != nil {
		return Frame{}, err
	}
	toRaw, err := json.Marshal(toID)
	if err != nil {
		return Frame{}, err
	}
	groupRaw, err := json.Marshal(groupID)
	if err != nil {
		return Frame{}, err
	}
	return outbound(EventServerInviteSent, fromRaw, toRaw, groupRaw), nil
}

// NewStateUpdatedFrame carries one member's new state (or absence) to all
// group subscribers.
func NewStateUpdatedFrame(encodedState []byte, memberID string) (Frame, error) {
	memberRaw, err := json.Marshal(memberID)
	if err != nil {
		return Frame{}, err
	}
	return outbound(EventServerStateUpdated, json.RawMessage(encodedState), memberRaw), nil
}

func outbound(event string, args ...json.RawMessage) Frame {
	return Frame{ID: uuid.NewString(), Event: event, Args: args}
}

// EventName returns the tag of a decoded inbound variant, for logs and
// metrics labels.
func EventName(event any) string {
	switch event.(type) {
	case FirstRender:
		return EventFirstRender
	case InviteSent:
		return EventInviteSent
	case InviteResponse:
		return EventInviteResponse
	case StateUpdated:
		return EventStateUpdated
	default:
		return strings.TrimSpace(fmt.Sprintf("%T", event))
	}
}
