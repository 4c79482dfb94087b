package lobbies

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"go.uber.org/zap"
)

const (
	opJoin        = "lobbies.join"
	opLeave       = "lobbies.leave"
	opMarkEntered = "lobbies.mark_entered"
	opMembers     = "lobbies.members"
	opUserLobbies = "lobbies.user_lobbies"
)

var (
	errAlreadyMember = errors.New("user already joined this lobby")
	errOwnLobby      = errors.New("user created this lobby")
	errNotMember     = errors.New("user is not a member of this lobby")
	errMissingUser   = errors.New("user identifier is required")
)

// JoinByCode adds userID to the lobby behind code.
// Joining twice and joining one's own lobby are distinct Conflict codes.
func (s *Service) JoinByCode(ctx context.Context, userID, rawCode string) (Lobby, error) {
	if strings.TrimSpace(userID) == "" {
		return Lobby{}, apperr.New(apperr.KindValidationFailed, opJoin, "missing_user", errMissingUser)
	}
	lobby, err := s.GetByCode(ctx, rawCode)
	if err != nil {
		return Lobby{}, err
	}
	if lobby.CreatedBy == userID {
		return Lobby{}, apperr.New(apperr.KindConflict, opJoin, "lobby_creator", errOwnLobby)
	}

	member := Member{UserID: userID, LobbyID: lobby.ID, JoinedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return Lobby{}, apperr.New(apperr.KindConflict, opJoin, "already_member", errAlreadyMember)
		}
		s.logError(opJoin, "insert_failed", err, zap.Int64("lobby_id", lobby.ID), zap.String("user_id", userID))
		return Lobby{}, apperr.FromStorage(opJoin, "insert_failed", err)
	}
	return lobby, nil
}

// Leave removes the membership row; a missing row is NotFound.
func (s *Service) Leave(ctx context.Context, userID string, lobbyID int64) error {
	res := s.db.WithContext(ctx).Where("user_id = ? AND lobby_id = ?", userID, lobbyID).Delete(&Member{})
	if res.Error != nil {
		s.logError(opLeave, "delete_failed", res.Error, zap.Int64("lobby_id", lobbyID), zap.String("user_id", userID))
		return apperr.FromStorage(opLeave, "delete_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, opLeave, "not_member", errNotMember)
	}
	return nil
}

// MarkEntered flags that the member opened the lobby at least once.
func (s *Service) MarkEntered(ctx context.Context, userID string, lobbyID int64) error {
	res := s.db.WithContext(ctx).Model(&Member{}).
		Where("user_id = ? AND lobby_id = ?", userID, lobbyID).
		Update("entered", true)
	if res.Error != nil {
		s.logError(opMarkEntered, "update_failed", res.Error, zap.Int64("lobby_id", lobbyID), zap.String("user_id", userID))
		return apperr.FromStorage(opMarkEntered, "update_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, opMarkEntered, "not_member", errNotMember)
	}
	return nil
}

// ListMembers returns the members of a lobby with their directory details.
func (s *Service) ListMembers(ctx context.Context, lobbyID int64) ([]MemberView, error) {
	var members []MemberView
	err := s.db.WithContext(ctx).
		Table("lobby_members").
		Select("lobby_members.user_id AS user_id, COALESCE(users.username, '') AS username, COALESCE(users.role, '') AS role, lobby_members.entered AS entered").
		Joins("LEFT JOIN users ON users.id = lobby_members.user_id").
		Where("lobby_members.lobby_id = ?", lobbyID).
		Order("lobby_members.joined_at ASC").
		Scan(&members).Error
	if err != nil {
		s.logError(opMembers, "query_failed", err, zap.Int64("lobby_id", lobbyID))
		return nil, apperr.FromStorage(opMembers, "query_failed", err)
	}
	return members, nil
}

// ListForUser returns the lobbies userID joined plus the private lobbies they created.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Lobby, error) {
	joined := s.db.WithContext(ctx).Model(&Member{}).Select("lobby_id").Where("user_id = ?", userID)
	var lobbies []Lobby
	err := s.db.WithContext(ctx).
		Where("id IN (?) OR (created_by = ? AND public = ?)", joined, userID, false).
		Order("id DESC").
		Find(&lobbies).Error
	if err != nil {
		s.logError(opUserLobbies, "query_failed", err, zap.String("user_id", userID))
		return nil, apperr.FromStorage(opUserLobbies, "query_failed", err)
	}
	return lobbies, nil
}
