package lobbies

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opChallengeCreate = "challenges.create"
	opChallengeGet    = "challenges.get"
	opChallengeUpdate = "challenges.update"
	opChallengeDelete = "challenges.delete"
	opChallengeList   = "challenges.list"
	opChallengeLobby  = "challenges.lobby_lookup"
	opLevelCreate     = "challenges.levels.create"
	opLevelUpdate     = "challenges.levels.update"
	opLevelDelete     = "challenges.levels.delete"
	opLevelList       = "challenges.levels.list"
	opLevelGet        = "challenges.levels.get"

	minimumTimerSeconds = 20
	minimumScore        = 0
)

var (
	errMissingChallengeName = errors.New("challenge name is required")
	errInvalidVariables     = errors.New("challenge variables must be a JSON object")
	errInvalidInstructions  = errors.New("level instructions must be valid JSON")
	errLevelNotFound        = errors.New("level does not belong to challenge")
)

// ChallengeInput carries the editable challenge fields.
type ChallengeInput struct {
	Name             string
	Minigame         string
	MinigameCategory string
	Description      string
	Variables        json.RawMessage
	Tag              string
}

// LevelInput carries the editable level fields.
type LevelInput struct {
	Ord             int
	Instructions    json.RawMessage
	Snap            string
	SnapSolution    string
	SolutionEnabled bool
}

// CreateChallenge stores a challenge and appends it to the lobby's challenge order.
func (s *Service) CreateChallenge(ctx context.Context, lobbyID int64, input ChallengeInput) (Challenge, error) {
	if _, err := s.Get(ctx, lobbyID); err != nil {
		return Challenge{}, err
	}
	challenge, err := buildChallenge(opChallengeCreate, input)
	if err != nil {
		return Challenge{}, err
	}
	challenge.LobbyID = lobbyID
	challenge.CreatedAt = s.clock().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&challenge).Error; err != nil {
			return err
		}
		return rewriteOrder(tx, lobbyID, appendID(challenge.ID))
	})
	if err != nil {
		return Challenge{}, s.storageError(opChallengeCreate, "insert_failed", err, zap.Int64("lobby_id", lobbyID))
	}
	return challenge, nil
}

// GetChallenge loads a challenge.
func (s *Service) GetChallenge(ctx context.Context, challengeID int64) (Challenge, error) {
	var challenge Challenge
	if err := s.db.WithContext(ctx).Where("id = ?", challengeID).Take(&challenge).Error; err != nil {
		return Challenge{}, apperr.FromStorage(opChallengeGet, "query_failed", err)
	}
	return challenge, nil
}

// UpdateChallenge replaces the editable fields of a challenge.
func (s *Service) UpdateChallenge(ctx context.Context, challengeID int64, input ChallengeInput) (Challenge, error) {
	challenge, err := buildChallenge(opChallengeUpdate, input)
	if err != nil {
		return Challenge{}, err
	}
	res := s.db.WithContext(ctx).Model(&Challenge{}).Where("id = ?", challengeID).Updates(map[string]interface{}{
		"name":              challenge.Name,
		"minigame":          challenge.Minigame,
		"minigame_category": challenge.MinigameCategory,
		"description":       challenge.Description,
		"variables":         challenge.Variables,
		"tag":               challenge.Tag,
	})
	if res.Error != nil {
		s.logError(opChallengeUpdate, "update_failed", res.Error, zap.Int64("challenge_id", challengeID))
		return Challenge{}, apperr.FromStorage(opChallengeUpdate, "update_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return Challenge{}, apperr.New(apperr.KindNotFound, opChallengeUpdate, "not_found", gorm.ErrRecordNotFound)
	}
	return s.GetChallenge(ctx, challengeID)
}

// DeleteChallenge removes a challenge, its levels and its entry in the lobby order in one
// transaction.
func (s *Service) DeleteChallenge(ctx context.Context, challengeID int64) error {
	challenge, err := s.GetChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("challenge_id = ?", challengeID).Delete(&Level{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", challengeID).Delete(&Challenge{}).Error; err != nil {
			return err
		}
		return rewriteOrder(tx, challenge.LobbyID, removeID(challengeID))
	})
	return s.storageError(opChallengeDelete, "delete_failed", err, zap.Int64("challenge_id", challengeID))
}

// ListChallenges returns the challenges of a lobby following its challenge order.
// Challenges missing from the order are appended by id.
func (s *Service) ListChallenges(ctx context.Context, lobbyID int64) ([]Challenge, error) {
	order, err := s.ChallengeOrder(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	var challenges []Challenge
	if err := s.db.WithContext(ctx).Where("lobby_id = ?", lobbyID).Order("id ASC").Find(&challenges).Error; err != nil {
		s.logError(opChallengeList, "query_failed", err, zap.Int64("lobby_id", lobbyID))
		return nil, apperr.FromStorage(opChallengeList, "query_failed", err)
	}

	byID := make(map[int64]Challenge, len(challenges))
	for _, challenge := range challenges {
		byID[challenge.ID] = challenge
	}
	ordered := make([]Challenge, 0, len(challenges))
	for _, id := range order {
		if challenge, ok := byID[id]; ok {
			ordered = append(ordered, challenge)
			delete(byID, id)
		}
	}
	for _, challenge := range challenges {
		if _, ok := byID[challenge.ID]; ok {
			ordered = append(ordered, challenge)
		}
	}
	return ordered, nil
}

// ChallengeLobbyID resolves the lobby owning a challenge.
func (s *Service) ChallengeLobbyID(ctx context.Context, challengeID int64) (int64, error) {
	var challenge Challenge
	if err := s.db.WithContext(ctx).Select("id", "lobby_id").Where("id = ?", challengeID).Take(&challenge).Error; err != nil {
		return 0, apperr.FromStorage(opChallengeLobby, "query_failed", err)
	}
	return challenge.LobbyID, nil
}

// ListLevels returns the levels of a challenge by ascending ord.
func (s *Service) ListLevels(ctx context.Context, challengeID int64) ([]Level, error) {
	var levels []Level
	if err := s.db.WithContext(ctx).
		Where("challenge_id = ?", challengeID).
		Order("ord ASC").
		Order("id ASC").
		Find(&levels).Error; err != nil {
		s.logError(opLevelList, "query_failed", err, zap.Int64("challenge_id", challengeID))
		return nil, apperr.FromStorage(opLevelList, "query_failed", err)
	}
	return levels, nil
}

// GetLevel loads one level of a challenge.
func (s *Service) GetLevel(ctx context.Context, challengeID, levelID int64) (Level, error) {
	var level Level
	if err := s.db.WithContext(ctx).
		Where("id = ? AND challenge_id = ?", levelID, challengeID).
		Take(&level).Error; err != nil {
		return Level{}, apperr.FromStorage(opLevelGet, "query_failed", err)
	}
	return level, nil
}

// CreateLevel adds a level to a challenge.
func (s *Service) CreateLevel(ctx context.Context, challengeID int64, input LevelInput) (Level, error) {
	if _, err := s.GetChallenge(ctx, challengeID); err != nil {
		return Level{}, err
	}
	instructions, err := normalizeInstructions(opLevelCreate, input.Instructions)
	if err != nil {
		return Level{}, err
	}
	level := Level{
		ChallengeID:     challengeID,
		Ord:             input.Ord,
		Instructions:    instructions,
		Snap:            input.Snap,
		SnapSolution:    input.SnapSolution,
		SolutionEnabled: input.SolutionEnabled,
	}
	if err := s.db.WithContext(ctx).Create(&level).Error; err != nil {
		s.logError(opLevelCreate, "insert_failed", err, zap.Int64("challenge_id", challengeID))
		return Level{}, apperr.FromStorage(opLevelCreate, "insert_failed", err)
	}
	return level, nil
}

// UpdateLevel replaces the fields of a level.
func (s *Service) UpdateLevel(ctx context.Context, challengeID, levelID int64, input LevelInput) (Level, error) {
	instructions, err := normalizeInstructions(opLevelUpdate, input.Instructions)
	if err != nil {
		return Level{}, err
	}
	res := s.db.WithContext(ctx).Model(&Level{}).
		Where("id = ? AND challenge_id = ?", levelID, challengeID).
		Updates(map[string]interface{}{
			"ord":              input.Ord,
			"instructions":     instructions,
			"snap":             input.Snap,
			"snap_solution":    input.SnapSolution,
			"solution_enabled": input.SolutionEnabled,
		})
	if res.Error != nil {
		s.logError(opLevelUpdate, "update_failed", res.Error, zap.Int64("level_id", levelID))
		return Level{}, apperr.FromStorage(opLevelUpdate, "update_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return Level{}, apperr.New(apperr.KindNotFound, opLevelUpdate, "not_found", errLevelNotFound)
	}
	return s.GetLevel(ctx, challengeID, levelID)
}

// DeleteLevel removes a level from a challenge.
func (s *Service) DeleteLevel(ctx context.Context, challengeID, levelID int64) error {
	res := s.db.WithContext(ctx).Where("id = ? AND challenge_id = ?", levelID, challengeID).Delete(&Level{})
	if res.Error != nil {
		s.logError(opLevelDelete, "delete_failed", res.Error, zap.Int64("level_id", levelID))
		return apperr.FromStorage(opLevelDelete, "delete_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, opLevelDelete, "not_found", errLevelNotFound)
	}
	return nil
}

func buildChallenge(operation string, input ChallengeInput) (Challenge, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Challenge{}, apperr.New(apperr.KindValidationFailed, operation, "missing_name", errMissingChallengeName).WithField("name")
	}
	variables, err := NormalizeVariables(input.Variables)
	if err != nil {
		return Challenge{}, apperr.New(apperr.KindValidationFailed, operation, "invalid_variables", err).WithField("variables")
	}
	return Challenge{
		Name:             name,
		Minigame:         input.Minigame,
		MinigameCategory: input.MinigameCategory,
		Description:      input.Description,
		Variables:        variables,
		Tag:              input.Tag,
	}, nil
}

// NormalizeVariables clamps the timer to at least 20 seconds and the score to at least 0.
// Empty input becomes an empty object.
func NormalizeVariables(raw json.RawMessage) (datatypes.JSON, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return datatypes.JSON("{}"), nil
	}
	var variables map[string]interface{}
	if err := json.Unmarshal(raw, &variables); err != nil {
		return nil, errInvalidVariables
	}
	if timer, ok := variables["timer"].(float64); ok && timer < minimumTimerSeconds {
		variables["timer"] = minimumTimerSeconds
	}
	if score, ok := variables["score"].(float64); ok && score < minimumScore {
		variables["score"] = minimumScore
	}
	encoded, err := json.Marshal(variables)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(encoded), nil
}

func normalizeInstructions(operation string, raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return datatypes.JSON("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, apperr.New(apperr.KindValidationFailed, operation, "invalid_instructions", errInvalidInstructions).WithField("instructions")
	}
	return datatypes.JSON(trimmed), nil
}
