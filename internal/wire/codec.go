// Package wire defines the serialized boundary of the sync service: the
// self-describing envelope used for state payloads (and persistence blobs)
// and the tagged inbound/outbound event frames.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"weat-sync/go-backend/internal/domains/group/model"
)

const envelopeVersion = 1

// Envelope kinds. "absent" is distinct from an empty member state: a refusal
// or leave crosses the wire as kind=absent, never as a zero-valued state.
const (
	KindAbsent      = "absent"
	KindMemberState = "member_state"
	KindGroupState  = "group_state"
)

var (
	ErrInvalidEnvelope = errors.New("wire envelope is invalid")
	ErrEnvelopeKind    = errors.New("unexpected wire envelope kind")
	ErrEnvelopeVersion = errors.New("unsupported wire envelope version")
)

type envelope struct {
	Version int                `json:"v"`
	Kind    string             `json:"kind"`
	Member  *model.MemberState `json:"member,omitempty"`
	Group   *model.GroupState  `json:"group,omitempty"`
}

// EncodeMemberState serializes a member state, or the absent marker when
// state is nil.
func EncodeMemberState(state *model.MemberState) ([]byte, error) {
	env := envelope{Version: envelopeVersion, Kind: KindAbsent}
	if state != nil {
		env.Kind = KindMemberState
		env.Member = state
	}
	return json.Marshal(env)
}

// DecodeMemberState returns nil (and no error) for an absent payload.
func DecodeMemberState(data []byte) (*model.MemberState, error) {
	env, err := decode(data)
	if err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindAbsent:
		return nil, nil
	case KindMemberState:
		if env.Member == nil {
			return nil, ErrInvalidEnvelope
		}
		return env.Member, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrEnvelopeKind, env.Kind)
	}
}

// EncodeGroupState serializes a full group snapshot. This is also the blob
// format stored by the persistence adapter.
func EncodeGroupState(state *model.GroupState) ([]byte, error) {
	if state == nil {
		return nil, ErrInvalidEnvelope
	}
	return json.Marshal(envelope{Version: envelopeVersion, Kind: KindGroupState, Group: state})
}

func DecodeGroupState(data []byte) (*model.GroupState, error) {
	env, err := decode(data)
	if err != nil {
		return nil, err
	}
	if env.Kind != KindGroupState {
		return nil, fmt.Errorf("%w: %q", ErrEnvelopeKind, env.Kind)
	}
	if env.Group == nil {
		return nil, ErrInvalidEnvelope
	}
	return env.Group, nil
}

func decode(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Version != envelopeVersion {
		return envelope{}, ErrEnvelopeVersion
	}
	return env, nil
}
