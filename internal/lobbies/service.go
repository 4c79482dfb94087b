package lobbies

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingNotes    = errors.New("note store is required")
	errMissingCreator  = errors.New("lobby creator is required")
	errMissingName     = errors.New("lobby name is required")
	errDuplicateOrder  = errors.New("challenge order contains duplicates")
	errForeignOrder    = errors.New("challenge order references a challenge outside the lobby")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew     = "lobbies.service.new"
	opCreate         = "lobbies.create"
	opGet            = "lobbies.get"
	opUpdate         = "lobbies.update"
	opDelete         = "lobbies.delete"
	opList           = "lobbies.list"
	opOrderGet       = "lobbies.order.get"
	opOrderSet       = "lobbies.order.set"
	opCreatorLookup  = "lobbies.creator_lookup"
	opPublicLookup   = "lobbies.public_lookup"
	opMembershipTest = "lobbies.membership_check"
)

// NoteStore is the slice of the note service the lobby lifecycle depends on.
type NoteStore interface {
	CloneToLobby(ctx context.Context, sourceLobbyID, targetLobbyID int64) (int, error)
	DeleteByLobby(ctx context.Context, lobbyID int64) error
}

// SolutionPurger drops stored solutions when a lobby becomes public. The purge runs on the
// transaction that flips the lobby's visibility.
type SolutionPurger interface {
	PurgeLobbySolutionsTx(ctx context.Context, tx *gorm.DB, lobbyID int64) error
}

// ServiceConfig describes the lobby service dependencies.
type ServiceConfig struct {
	Database  *gorm.DB
	Notes     NoteStore
	Solutions SolutionPurger
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service owns lobbies, memberships, challenges and their ordering.
type Service struct {
	db        *gorm.DB
	notes     NoteStore
	solutions SolutionPurger
	clock     func() time.Time
	logger    *zap.Logger
}

// NewLobby is the input for Create.
type NewLobby struct {
	Name               string
	Description        string
	Code               string
	Outcome            string
	CreatedBy          string
	SnapTemplate       string
	InstructionsBefore string
	InstructionsAfter  string
	Public             bool
	Tag                string
	Language           string
}

// LobbyChanges is the input for Update. Nil fields keep their stored value.
type LobbyChanges struct {
	Name               *string
	Description        *string
	Code               *string
	Outcome            *string
	SnapTemplate       *string
	InstructionsBefore *string
	InstructionsAfter  *string
	Public             *bool
	Tag                *string
	Language           *string
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindValidationFailed, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Notes == nil {
		return nil, apperr.New(apperr.KindValidationFailed, opServiceNew, "missing_notes", errMissingNotes)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:        cfg.Database,
		notes:     cfg.Notes,
		solutions: cfg.Solutions,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Create stores a new lobby. A code already used in any letter case is a Conflict on field "code".
func (s *Service) Create(ctx context.Context, input NewLobby) (Lobby, error) {
	code, err := NewCode(input.Code)
	if err != nil {
		return Lobby{}, apperr.New(apperr.KindValidationFailed, opCreate, "invalid_code", err).WithField("code")
	}
	if strings.TrimSpace(input.CreatedBy) == "" {
		return Lobby{}, apperr.New(apperr.KindValidationFailed, opCreate, "missing_creator", errMissingCreator)
	}
	if strings.TrimSpace(input.Name) == "" {
		return Lobby{}, apperr.New(apperr.KindValidationFailed, opCreate, "missing_name", errMissingName).WithField("name")
	}
	language := strings.TrimSpace(input.Language)
	if language == "" {
		language = defaultLanguage
	}

	lobby := Lobby{
		Name:               strings.TrimSpace(input.Name),
		Description:        input.Description,
		Code:               code.String(),
		Outcome:            input.Outcome,
		CreatedBy:          input.CreatedBy,
		SnapTemplate:       input.SnapTemplate,
		InstructionsBefore: input.InstructionsBefore,
		InstructionsAfter:  input.InstructionsAfter,
		Public:             input.Public,
		Tag:                input.Tag,
		Language:           language,
		ChallengeOrder:     datatypes.JSONSlice[int64]{},
		CreatedAt:          s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&lobby).Error; err != nil {
		return Lobby{}, s.codeConflictOr(opCreate, "insert_failed", err)
	}
	return lobby, nil
}

// Get loads a lobby by id.
func (s *Service) Get(ctx context.Context, lobbyID int64) (Lobby, error) {
	if lobbyID <= 0 {
		return Lobby{}, apperr.New(apperr.KindValidationFailed, opGet, "invalid_lobby_id", ErrInvalidLobbyID)
	}
	var lobby Lobby
	if err := s.db.WithContext(ctx).Where("id = ?", lobbyID).Take(&lobby).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opGet, "query_failed", err, zap.Int64("lobby_id", lobbyID))
		}
		return Lobby{}, apperr.FromStorage(opGet, "query_failed", err)
	}
	return lobby, nil
}

// GetByCode loads a lobby by its join code in any letter case.
func (s *Service) GetByCode(ctx context.Context, rawCode string) (Lobby, error) {
	code, err := NewCode(rawCode)
	if err != nil {
		return Lobby{}, apperr.New(apperr.KindValidationFailed, opGet, "invalid_code", err).WithField("code")
	}
	var lobby Lobby
	if err := s.db.WithContext(ctx).Where("code = ?", code.String()).Take(&lobby).Error; err != nil {
		return Lobby{}, apperr.FromStorage(opGet, "query_failed", err)
	}
	return lobby, nil
}

// Update applies changes to a lobby. Switching a private lobby to public purges its stored solutions.
func (s *Service) Update(ctx context.Context, lobbyID int64, changes LobbyChanges) (Lobby, error) {
	current, err := s.Get(ctx, lobbyID)
	if err != nil {
		return Lobby{}, err
	}

	updates := map[string]interface{}{}
	if changes.Name != nil {
		if strings.TrimSpace(*changes.Name) == "" {
			return Lobby{}, apperr.New(apperr.KindValidationFailed, opUpdate, "missing_name", errMissingName).WithField("name")
		}
		updates["name"] = strings.TrimSpace(*changes.Name)
	}
	if changes.Code != nil {
		code, err := NewCode(*changes.Code)
		if err != nil {
			return Lobby{}, apperr.New(apperr.KindValidationFailed, opUpdate, "invalid_code", err).WithField("code")
		}
		updates["code"] = code.String()
	}
	setString(updates, "description", changes.Description)
	setString(updates, "outcome", changes.Outcome)
	setString(updates, "snap_template", changes.SnapTemplate)
	setString(updates, "page_before", changes.InstructionsBefore)
	setString(updates, "page_after", changes.InstructionsAfter)
	setString(updates, "tag", changes.Tag)
	if changes.Language != nil {
		language := strings.TrimSpace(*changes.Language)
		if language == "" {
			language = defaultLanguage
		}
		updates["language"] = language
	}
	if changes.Public != nil {
		updates["public"] = *changes.Public
	}

	purge := changes.Public != nil && *changes.Public && !current.Public && s.solutions != nil
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&Lobby{}).Where("id = ?", lobbyID).Updates(updates).Error; err != nil {
				return s.codeConflictOr(opUpdate, "update_failed", err)
			}
		}
		if purge {
			if err := s.solutions.PurgeLobbySolutionsTx(ctx, tx, lobbyID); err != nil {
				s.logError(opUpdate, "solution_purge_failed", err, zap.Int64("lobby_id", lobbyID))
				return apperr.New(apperr.KindStorage, opUpdate, "solution_purge_failed", err)
			}
		}
		return nil
	})
	if err != nil {
		return Lobby{}, err
	}
	return s.Get(ctx, lobbyID)
}

// Delete removes a lobby together with its members, challenges, levels and notes.
func (s *Service) Delete(ctx context.Context, lobbyID int64) error {
	if _, err := s.Get(ctx, lobbyID); err != nil {
		return err
	}
	if err := s.notes.DeleteByLobby(ctx, lobbyID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		challengeIDs := tx.Model(&Challenge{}).Select("id").Where("lobby_id = ?", lobbyID)
		if err := tx.Where("challenge_id IN (?)", challengeIDs).Delete(&Level{}).Error; err != nil {
			return err
		}
		if err := tx.Where("lobby_id = ?", lobbyID).Delete(&Challenge{}).Error; err != nil {
			return err
		}
		if err := tx.Where("lobby_id = ?", lobbyID).Delete(&Member{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", lobbyID).Delete(&Lobby{}).Error
	})
	if err != nil {
		s.logError(opDelete, "delete_failed", err, zap.Int64("lobby_id", lobbyID))
		return apperr.FromStorage(opDelete, "delete_failed", err)
	}
	return nil
}

// ListAll returns every lobby, newest first.
func (s *Service) ListAll(ctx context.Context) ([]Lobby, error) {
	return s.list(ctx, s.db.WithContext(ctx))
}

// ListForCreator returns the lobbies created by userID, newest first.
func (s *Service) ListForCreator(ctx context.Context, userID string) ([]Lobby, error) {
	return s.list(ctx, s.db.WithContext(ctx).Where("created_by = ?", userID))
}

// ListPublic returns public lobbies matching the filter, newest first.
func (s *Service) ListPublic(ctx context.Context, filter PublicFilter) ([]Lobby, error) {
	query := s.db.WithContext(ctx).Where("public = ?", true)
	if term := strings.ToLower(strings.TrimSpace(filter.Query)); term != "" {
		like := "%" + term + "%"
		query = query.Where("(LOWER(name) LIKE ? OR LOWER(description) LIKE ?)", like, like)
	}
	if language := strings.TrimSpace(filter.Language); language != "" {
		query = query.Where("language = ?", language)
	}
	if tag := strings.ToLower(strings.TrimSpace(filter.Tag)); tag != "" {
		query = query.Where("LOWER(tag) LIKE ?", "%"+tag+"%")
	}
	return s.list(ctx, query)
}

func (s *Service) list(_ context.Context, query *gorm.DB) ([]Lobby, error) {
	var lobbies []Lobby
	if err := query.Order("id DESC").Find(&lobbies).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, apperr.FromStorage(opList, "query_failed", err)
	}
	return lobbies, nil
}

// ChallengeOrder returns the explicit challenge sequence of a lobby.
func (s *Service) ChallengeOrder(ctx context.Context, lobbyID int64) ([]int64, error) {
	lobby, err := s.Get(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	return append([]int64{}, lobby.ChallengeOrder...), nil
}

// SetChallengeOrder replaces the sequence. Every id must be a distinct challenge of the lobby.
func (s *Service) SetChallengeOrder(ctx context.Context, lobbyID int64, order []int64) error {
	return s.mutateOrder(ctx, opOrderSet, lobbyID, func(tx *gorm.DB, _ []int64) ([]int64, error) {
		seen := make(map[int64]struct{}, len(order))
		for _, id := range order {
			if _, ok := seen[id]; ok {
				return nil, apperr.New(apperr.KindValidationFailed, opOrderSet, "duplicate_id", errDuplicateOrder).WithField("order")
			}
			seen[id] = struct{}{}
		}
		var count int64
		if len(order) > 0 {
			if err := tx.Model(&Challenge{}).Where("lobby_id = ? AND id IN ?", lobbyID, order).Count(&count).Error; err != nil {
				return nil, err
			}
		}
		if int(count) != len(order) {
			return nil, apperr.New(apperr.KindValidationFailed, opOrderSet, "foreign_id", errForeignOrder).WithField("order")
		}
		return append([]int64{}, order...), nil
	})
}

type orderMutation func(tx *gorm.DB, current []int64) ([]int64, error)

func appendID(challengeID int64) orderMutation {
	return func(_ *gorm.DB, current []int64) ([]int64, error) {
		for _, id := range current {
			if id == challengeID {
				return current, nil
			}
		}
		return append(current, challengeID), nil
	}
}

func removeID(challengeID int64) orderMutation {
	return func(_ *gorm.DB, current []int64) ([]int64, error) {
		next := make([]int64, 0, len(current))
		for _, id := range current {
			if id != challengeID {
				next = append(next, id)
			}
		}
		return next, nil
	}
}

func (s *Service) mutateOrder(ctx context.Context, operation string, lobbyID int64, mutate orderMutation) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return rewriteOrder(tx, lobbyID, mutate)
	})
	return s.storageError(operation, "update_failed", err, zap.Int64("lobby_id", lobbyID))
}

// rewriteOrder locks the lobby row and stores the mutated order on tx.
func rewriteOrder(tx *gorm.DB, lobbyID int64, mutate orderMutation) error {
	var lobby Lobby
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "ord").
		Where("id = ?", lobbyID).
		Take(&lobby).Error; err != nil {
		return err
	}
	next, err := mutate(tx, append([]int64{}, lobby.ChallengeOrder...))
	if err != nil {
		return err
	}
	return tx.Model(&Lobby{}).Where("id = ?", lobbyID).Update("ord", datatypes.JSONSlice[int64](next)).Error
}

// storageError passes service errors through and translates the rest, logging anything but
// a missing row.
func (s *Service) storageError(operation, reason string, err error, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(operation, reason, err, fields...)
	}
	return apperr.FromStorage(operation, reason, err)
}

// LobbyCreatorID returns the creator of a lobby.
func (s *Service) LobbyCreatorID(ctx context.Context, lobbyID int64) (string, error) {
	var lobby Lobby
	if err := s.db.WithContext(ctx).Select("id", "created_by").Where("id = ?", lobbyID).Take(&lobby).Error; err != nil {
		return "", apperr.FromStorage(opCreatorLookup, "query_failed", err)
	}
	return lobby.CreatedBy, nil
}

// IsLobbyPublic reports the visibility of a lobby.
func (s *Service) IsLobbyPublic(ctx context.Context, lobbyID int64) (bool, error) {
	var lobby Lobby
	if err := s.db.WithContext(ctx).Select("id", "public").Where("id = ?", lobbyID).Take(&lobby).Error; err != nil {
		return false, apperr.FromStorage(opPublicLookup, "query_failed", err)
	}
	return lobby.Public, nil
}

// IsMember reports whether userID joined the lobby or created it.
func (s *Service) IsMember(ctx context.Context, userID string, lobbyID int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Member{}).
		Where("user_id = ? AND lobby_id = ?", userID, lobbyID).
		Count(&count).Error; err != nil {
		return false, apperr.FromStorage(opMembershipTest, "query_failed", err)
	}
	if count > 0 {
		return true, nil
	}
	creatorID, err := s.LobbyCreatorID(ctx, lobbyID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return creatorID == userID, nil
}

func (s *Service) codeConflictOr(operation, reason string, err error) error {
	translated := apperr.FromStorage(operation, reason, err)
	if translated.Kind() == apperr.KindConflict {
		return apperr.New(apperr.KindConflict, operation, "code_in_use", err).WithField("code")
	}
	s.logError(operation, reason, err)
	return translated
}

func setString(updates map[string]interface{}, column string, value *string) {
	if value != nil {
		updates[column] = *value
	}
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
	s.loggerOrDefault().Error("lobbies service error", attrs...)
}
