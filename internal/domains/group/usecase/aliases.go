package usecase

import (
	groupmodel "weat-sync/go-backend/internal/domains/group/model"
)

type MemberState = groupmodel.MemberState
type Selection = groupmodel.Selection
type LineItem = groupmodel.LineItem
type GroupState = groupmodel.GroupState

var (
	ErrInvalidGroupID       = groupmodel.ErrInvalidGroupID
	ErrInvalidGroupMemberID = groupmodel.ErrInvalidGroupMemberID
	ErrGroupNotFound        = groupmodel.ErrGroupNotFound
)

func NormalizeGroupID(groupID string) (string, error) {
	return groupmodel.NormalizeGroupID(groupID)
}

func NormalizeMemberID(memberID string) (string, error) {
	return groupmodel.NormalizeMemberID(memberID)
}

func NewGroupState() *GroupState {
	return groupmodel.NewGroupState()
}

func PlaceholderMemberState(name, image string) MemberState {
	return groupmodel.PlaceholderMemberState(name, image)
}
