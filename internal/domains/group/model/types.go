package model

import (
	"errors"
	"strings"
)

var (
	ErrInvalidGroupID         = errors.New("invalid group id")
	ErrInvalidGroupMemberID   = errors.New("invalid group member id")
	ErrGroupNotFound          = errors.New("group not found")
	ErrGroupCannotInviteSelf  = errors.New("cannot invite self to group")
	ErrGroupRateLimitExceeded = errors.New("group operation rate limit exceeded")
)

// LineItem is one priced entry inside a selection. The service passes these
// through opaquely; OriginalIndex preserves the client-side ordering tag.
type LineItem struct {
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	OriginalIndex int     `json:"original_index"`
}

// Selection is one named entity a member picked, with its line items.
type Selection struct {
	Name          string     `json:"name"`
	OriginalIndex int        `json:"original_index"`
	Items         []LineItem `json:"items"`
}

// MemberState is one user's contribution to a group. It is replaced wholesale
// on every update; remote callers never patch individual fields.
type MemberState struct {
	Accepted   bool        `json:"accepted"`
	Selections []Selection `json:"selections"`
	Name       string      `json:"name,omitempty"`
	Image      string      `json:"image,omitempty"`
}

// PlaceholderMemberState is the state stored for an invitee that has not yet
// responded: invite pending, nothing selected.
func PlaceholderMemberState(name, image string) MemberState {
	return MemberState{
		Accepted:   false,
		Selections: []Selection{},
		Name:       name,
		Image:      image,
	}
}

func NormalizeGroupID(groupID string) (string, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return "", ErrInvalidGroupID
	}
	return groupID, nil
}

func NormalizeMemberID(memberID string) (string, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return "", ErrInvalidGroupMemberID
	}
	return memberID, nil
}
