package solutions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUser     = errors.New("user identifier is required")
	errInvalidDetails  = errors.New("solution details must be valid JSON")
	errMissingSolution = errors.New("no stored solution to update")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew            = "solutions.service.new"
	opChallengeCreate       = "solutions.challenge.create"
	opChallengeUpdate       = "solutions.challenge.update"
	opChallengeSubmit       = "solutions.challenge.submit"
	opChallengeGet          = "solutions.challenge.get"
	opLobbyCreate           = "solutions.lobby.create"
	opLobbyUpdate           = "solutions.lobby.update"
	opLobbySubmit           = "solutions.lobby.submit"
	opLobbyGet              = "solutions.lobby.get"
	opListForLobby          = "solutions.lobby.list"
	opPurge                 = "solutions.purge"
	challengesTable         = "challenges"
	reasonAlreadyExists     = "already_exists"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonRetryUpdateFailed = "retry_update_failed"
	reasonDeleteFailed      = "delete_failed"
	reasonQueryFailed       = "query_failed"
	reasonMissingUser       = "missing_user"
	reasonInvalidDetails    = "invalid_details"
	reasonNotFound          = "not_found"
	reasonMissingDatabase   = "missing_database"
)

// ServiceConfig describes the solution service dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service stores per-user solutions. Creation of an existing key yields AlreadyExists,
// and the Submit operations turn that into an update.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// LobbySolutions groups every solution stored for a lobby.
type LobbySolutions struct {
	Lobby      []LobbySolution     `json:"lobby"`
	Challenges []ChallengeSolution `json:"challenges"`
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindValidationFailed, opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// CreateChallengeSolution inserts a new row; an existing key yields AlreadyExists.
func (s *Service) CreateChallengeSolution(ctx context.Context, key ChallengeKey, snap string, details json.RawMessage) error {
	if strings.TrimSpace(key.UserID) == "" {
		return apperr.New(apperr.KindValidationFailed, opChallengeCreate, reasonMissingUser, errMissingUser)
	}
	normalized, err := normalizeDetails(opChallengeCreate, details)
	if err != nil {
		return err
	}
	solution := ChallengeSolution{
		UserID:      key.UserID,
		ChallengeID: key.ChallengeID,
		LevelID:     key.LevelID,
		Snap:        snap,
		Details:     normalized,
		LastUpdate:  s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&solution).Error; err != nil {
		return s.insertError(opChallengeCreate, err, zap.String("user_id", key.UserID), zap.Int64("challenge_id", key.ChallengeID))
	}
	return nil
}

// UpdateChallengeSolution overwrites a stored row and increments times_updated.
func (s *Service) UpdateChallengeSolution(ctx context.Context, key ChallengeKey, snap string, details json.RawMessage) error {
	normalized, err := normalizeDetails(opChallengeUpdate, details)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&ChallengeSolution{}).
		Where("user_id = ? AND challenge_id = ? AND level_id = ?", key.UserID, key.ChallengeID, key.LevelID).
		Updates(map[string]interface{}{
			"snap_solution": snap,
			"details":       normalized,
			"times_updated": gorm.Expr("times_updated + 1"),
			"last_update":   s.clock().UTC(),
		})
	return s.updateResult(opChallengeUpdate, res, zap.String("user_id", key.UserID), zap.Int64("challenge_id", key.ChallengeID))
}

// SubmitChallengeSolution stores a solution, retrying as an update when one already exists.
func (s *Service) SubmitChallengeSolution(ctx context.Context, key ChallengeKey, snap string, details json.RawMessage) error {
	err := s.CreateChallengeSolution(ctx, key, snap, details)
	if !apperr.Is(err, apperr.KindAlreadyExists) {
		return err
	}
	if err := s.UpdateChallengeSolution(ctx, key, snap, details); err != nil {
		s.logError(opChallengeSubmit, reasonRetryUpdateFailed, err, zap.String("user_id", key.UserID), zap.Int64("challenge_id", key.ChallengeID))
		return apperr.New(apperr.KindStorage, opChallengeSubmit, reasonRetryUpdateFailed, err)
	}
	return nil
}

// GetChallengeSolution loads the stored solution for a key.
func (s *Service) GetChallengeSolution(ctx context.Context, key ChallengeKey) (ChallengeSolution, error) {
	var solution ChallengeSolution
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND challenge_id = ? AND level_id = ?", key.UserID, key.ChallengeID, key.LevelID).
		Take(&solution).Error; err != nil {
		return ChallengeSolution{}, apperr.FromStorage(opChallengeGet, reasonQueryFailed, err)
	}
	return solution, nil
}

// CreateLobbySolution inserts a new row; an existing key yields AlreadyExists.
func (s *Service) CreateLobbySolution(ctx context.Context, key LobbyKey, snap string) error {
	if strings.TrimSpace(key.UserID) == "" {
		return apperr.New(apperr.KindValidationFailed, opLobbyCreate, reasonMissingUser, errMissingUser)
	}
	solution := LobbySolution{
		UserID:     key.UserID,
		LobbyID:    key.LobbyID,
		Snap:       snap,
		LastUpdate: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&solution).Error; err != nil {
		return s.insertError(opLobbyCreate, err, zap.String("user_id", key.UserID), zap.Int64("lobby_id", key.LobbyID))
	}
	return nil
}

// UpdateLobbySolution overwrites a stored row and increments times_updated.
func (s *Service) UpdateLobbySolution(ctx context.Context, key LobbyKey, snap string) error {
	res := s.db.WithContext(ctx).Model(&LobbySolution{}).
		Where("user_id = ? AND lobby_id = ?", key.UserID, key.LobbyID).
		Updates(map[string]interface{}{
			"snap_solution": snap,
			"times_updated": gorm.Expr("times_updated + 1"),
			"last_update":   s.clock().UTC(),
		})
	return s.updateResult(opLobbyUpdate, res, zap.String("user_id", key.UserID), zap.Int64("lobby_id", key.LobbyID))
}

// SubmitLobbySolution stores a solution, retrying as an update when one already exists.
func (s *Service) SubmitLobbySolution(ctx context.Context, key LobbyKey, snap string) error {
	err := s.CreateLobbySolution(ctx, key, snap)
	if !apperr.Is(err, apperr.KindAlreadyExists) {
		return err
	}
	if err := s.UpdateLobbySolution(ctx, key, snap); err != nil {
		s.logError(opLobbySubmit, reasonRetryUpdateFailed, err, zap.String("user_id", key.UserID), zap.Int64("lobby_id", key.LobbyID))
		return apperr.New(apperr.KindStorage, opLobbySubmit, reasonRetryUpdateFailed, err)
	}
	return nil
}

// GetLobbySolution loads the stored solution for a key.
func (s *Service) GetLobbySolution(ctx context.Context, key LobbyKey) (LobbySolution, error) {
	var solution LobbySolution
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND lobby_id = ?", key.UserID, key.LobbyID).
		Take(&solution).Error; err != nil {
		return LobbySolution{}, apperr.FromStorage(opLobbyGet, reasonQueryFailed, err)
	}
	return solution, nil
}

// ListForLobby returns every lobby and challenge solution stored for a lobby.
func (s *Service) ListForLobby(ctx context.Context, lobbyID int64) (LobbySolutions, error) {
	result := LobbySolutions{}
	if err := s.db.WithContext(ctx).Where("lobby_id = ?", lobbyID).Order("user_id ASC").Find(&result.Lobby).Error; err != nil {
		s.logError(opListForLobby, reasonQueryFailed, err, zap.Int64("lobby_id", lobbyID))
		return LobbySolutions{}, apperr.FromStorage(opListForLobby, reasonQueryFailed, err)
	}
	challengeIDs := s.db.WithContext(ctx).Table(challengesTable).Select("id").Where("lobby_id = ?", lobbyID)
	if err := s.db.WithContext(ctx).
		Where("challenge_id IN (?)", challengeIDs).
		Order("challenge_id ASC").
		Order("level_id ASC").
		Order("user_id ASC").
		Find(&result.Challenges).Error; err != nil {
		s.logError(opListForLobby, reasonQueryFailed, err, zap.Int64("lobby_id", lobbyID))
		return LobbySolutions{}, apperr.FromStorage(opListForLobby, reasonQueryFailed, err)
	}
	return result, nil
}

// PurgeLobbySolutions deletes the lobby's solutions and those of its challenges.
func (s *Service) PurgeLobbySolutions(ctx context.Context, lobbyID int64) error {
	return s.PurgeLobbySolutionsTx(ctx, s.db, lobbyID)
}

// PurgeLobbySolutionsTx purges on tx so the caller can commit it with its own changes.
func (s *Service) PurgeLobbySolutionsTx(ctx context.Context, tx *gorm.DB, lobbyID int64) error {
	tx = tx.WithContext(ctx)
	challengeIDs := tx.Table(challengesTable).Select("id").Where("lobby_id = ?", lobbyID)
	if err := tx.Where("challenge_id IN (?)", challengeIDs).Delete(&ChallengeSolution{}).Error; err != nil {
		s.logError(opPurge, reasonDeleteFailed, err, zap.Int64("lobby_id", lobbyID))
		return apperr.FromStorage(opPurge, reasonDeleteFailed, err)
	}
	if err := tx.Where("lobby_id = ?", lobbyID).Delete(&LobbySolution{}).Error; err != nil {
		s.logError(opPurge, reasonDeleteFailed, err, zap.Int64("lobby_id", lobbyID))
		return apperr.FromStorage(opPurge, reasonDeleteFailed, err)
	}
	return nil
}

func (s *Service) insertError(operation string, err error, fields ...zap.Field) error {
	if apperr.IsUniqueViolation(err) {
		return apperr.New(apperr.KindAlreadyExists, operation, reasonAlreadyExists, err)
	}
	s.logError(operation, reasonInsertFailed, err, fields...)
	return apperr.FromStorage(operation, reasonInsertFailed, err)
}

func (s *Service) updateResult(operation string, res *gorm.DB, fields ...zap.Field) error {
	if res.Error != nil {
		s.logError(operation, reasonUpdateFailed, res.Error, fields...)
		return apperr.FromStorage(operation, reasonUpdateFailed, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, operation, reasonNotFound, errMissingSolution)
	}
	return nil
}

func normalizeDetails(operation string, raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return datatypes.JSON("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, apperr.New(apperr.KindValidationFailed, operation, reasonInvalidDetails, errInvalidDetails).WithField("details")
	}
	return datatypes.JSON(trimmed), nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("solutions service error", attrs...)
}
