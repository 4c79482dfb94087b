package lobbies

import (
	"context"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opClone = "lobbies.clone"

// CloneRequest names the identity of the lobby produced by Clone.
type CloneRequest struct {
	SourceLobbyID int64
	Code          string
	CreatedBy     string
	Name          string
	Description   string
	Tag           string
}

// CloneResult reports what a best-effort clone copied.
type CloneResult struct {
	Lobby             Lobby
	NotesCloned       int
	ChallengesCloned  int
	ChallengesSkipped []int64
}

// Clone copies a lobby under a new code and creator.
// Notes and challenges are copied one by one without a surrounding transaction. A challenge is
// copied together with its levels and order entry, so one that fails is absent from the clone.
// Failed challenges are logged and skipped; the rest keep the source's relative order.
func (s *Service) Clone(ctx context.Context, request CloneRequest) (CloneResult, error) {
	source, err := s.Get(ctx, request.SourceLobbyID)
	if err != nil {
		return CloneResult{}, err
	}

	created, err := s.Create(ctx, NewLobby{
		Name:               request.Name,
		Description:        request.Description,
		Code:               request.Code,
		Outcome:            source.Outcome,
		CreatedBy:          request.CreatedBy,
		SnapTemplate:       source.SnapTemplate,
		InstructionsBefore: source.InstructionsBefore,
		Tag:                request.Tag,
		Language:           source.Language,
	})
	if err != nil {
		return CloneResult{}, err
	}
	result := CloneResult{Lobby: created}

	notesCloned, err := s.notes.CloneToLobby(ctx, source.ID, created.ID)
	if err != nil {
		s.logError(opClone, "notes_clone_failed", err,
			zap.Int64("source_lobby_id", source.ID),
			zap.Int64("lobby_id", created.ID))
	}
	result.NotesCloned = notesCloned

	for _, challengeID := range source.ChallengeOrder {
		if _, err := s.cloneChallenge(ctx, challengeID, created.ID); err != nil {
			s.logError(opClone, "challenge_clone_failed", err,
				zap.Int64("source_lobby_id", source.ID),
				zap.Int64("lobby_id", created.ID),
				zap.Int64("challenge_id", challengeID))
			result.ChallengesSkipped = append(result.ChallengesSkipped, challengeID)
			continue
		}
		result.ChallengesCloned++
	}

	lobby, err := s.Get(ctx, created.ID)
	if err != nil {
		return result, err
	}
	result.Lobby = lobby
	return result, nil
}

func (s *Service) cloneChallenge(ctx context.Context, challengeID, targetLobbyID int64) (int64, error) {
	source, err := s.GetChallenge(ctx, challengeID)
	if err != nil {
		return 0, err
	}
	levels, err := s.ListLevels(ctx, challengeID)
	if err != nil {
		return 0, err
	}

	clone := source
	clone.ID = 0
	clone.LobbyID = targetLobbyID
	clone.CreatedAt = s.clock().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&clone).Error; err != nil {
			return err
		}
		for _, level := range levels {
			copied := level
			copied.ID = 0
			copied.ChallengeID = clone.ID
			if err := tx.Create(&copied).Error; err != nil {
				return err
			}
		}
		return rewriteOrder(tx, targetLobbyID, appendID(clone.ID))
	})
	if err != nil {
		return 0, apperr.FromStorage(opClone, "challenge_copy_failed", err)
	}
	return clone.ID, nil
}
