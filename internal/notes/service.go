package notes

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errNoteNotFound      = errors.New("note does not exist in lobby")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "notes.service.new"
	opCreate     = "notes.create"
	opMove       = "notes.move"
	opEdit       = "notes.edit"
	opDelete     = "notes.delete"
	opUpdateZ    = "notes.update_z"
	opList       = "notes.list"
	opClone      = "notes.clone"
	opPurge      = "notes.purge"
)

// ServiceConfig describes the note service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists board notes. Every mutation is a single-row statement without a transaction.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	logger     *zap.Logger
}

// RestackFailure records a z update that could not be applied.
type RestackFailure struct {
	NoteID string
	Err    error
}

// RestackResult summarises a best-effort restack batch.
type RestackResult struct {
	Applied  int
	Failures []RestackFailure
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(apperr.KindValidationFailed, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(apperr.KindValidationFailed, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create inserts a client supplied note. A reused id yields a Conflict on field "id".
func (s *Service) Create(ctx context.Context, lobbyID int64, payload Payload) error {
	noteID, err := s.validate(opCreate, lobbyID, payload.ID)
	if err != nil {
		return err
	}

	note := noteFromPayload(lobbyID, noteID, payload)
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		translated := apperr.FromStorage(opCreate, "insert_failed", err)
		if translated.Kind() == apperr.KindConflict {
			return apperr.New(apperr.KindConflict, opCreate, "duplicate_id", err).WithField("id")
		}
		s.logError(opCreate, "insert_failed", err, zap.Int64("lobby_id", lobbyID), zap.String("note_id", noteID.String()))
		return translated
	}
	return nil
}

// Move updates only the position of a note.
func (s *Service) Move(ctx context.Context, lobbyID int64, noteID string, position Position) error {
	validID, err := s.validate(opMove, lobbyID, noteID)
	if err != nil {
		return err
	}
	return s.update(ctx, opMove, lobbyID, validID, map[string]interface{}{
		"x": position.X,
		"y": position.Y,
		"z": position.Z,
	})
}

// Edit replaces every content and appearance field of a note.
func (s *Service) Edit(ctx context.Context, lobbyID int64, payload Payload) error {
	validID, err := s.validate(opEdit, lobbyID, payload.ID)
	if err != nil {
		return err
	}
	return s.update(ctx, opEdit, lobbyID, validID, map[string]interface{}{
		"content":      payload.Content,
		"content_type": payload.Type,
		"note_text":    payload.Text,
		"x":            payload.Position.X,
		"y":            payload.Position.Y,
		"z":            payload.Position.Z,
		"width":        payload.Size.Width,
		"height":       payload.Size.Height,
		"locked":       payload.Locked,
		"color":        payload.Color,
	})
}

// UpdateZ sets the stacking value of one note.
func (s *Service) UpdateZ(ctx context.Context, lobbyID int64, noteID string, z float64) error {
	validID, err := s.validate(opUpdateZ, lobbyID, noteID)
	if err != nil {
		return err
	}
	return s.update(ctx, opUpdateZ, lobbyID, validID, map[string]interface{}{"z": z})
}

// Restack applies each z update independently; a failure never rolls back earlier entries.
func (s *Service) Restack(ctx context.Context, lobbyID int64, updates []ZUpdate) RestackResult {
	result := RestackResult{}
	for _, update := range updates {
		if err := s.UpdateZ(ctx, lobbyID, update.ID, update.Z); err != nil {
			result.Failures = append(result.Failures, RestackFailure{NoteID: update.ID, Err: err})
			continue
		}
		result.Applied++
	}
	return result
}

// Delete removes a note by id.
func (s *Service) Delete(ctx context.Context, lobbyID int64, noteID string) error {
	validID, err := s.validate(opDelete, lobbyID, noteID)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).
		Where("id = ? AND lobby_id = ?", validID.String(), lobbyID).
		Delete(&Note{})
	if res.Error != nil {
		s.logError(opDelete, "delete_failed", res.Error, zap.Int64("lobby_id", lobbyID), zap.String("note_id", validID.String()))
		return apperr.FromStorage(opDelete, "delete_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, opDelete, "not_found", errNoteNotFound)
	}
	return nil
}

// ListByLobby returns the board snapshot ordered bottom to top.
func (s *Service) ListByLobby(ctx context.Context, lobbyID int64) ([]Note, error) {
	if lobbyID <= 0 {
		return nil, apperr.New(apperr.KindValidationFailed, opList, "invalid_lobby_id", ErrInvalidLobbyID)
	}
	var notes []Note
	if err := s.db.WithContext(ctx).
		Where("lobby_id = ?", lobbyID).
		Order("z ASC").
		Order("id ASC").
		Find(&notes).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.Int64("lobby_id", lobbyID))
		return nil, apperr.FromStorage(opList, "query_failed", err)
	}
	return notes, nil
}

// Get returns a single note of the lobby.
func (s *Service) Get(ctx context.Context, lobbyID int64, noteID string) (Note, error) {
	var note Note
	if err := s.db.WithContext(ctx).
		Where("id = ? AND lobby_id = ?", noteID, lobbyID).
		Take(&note).Error; err != nil {
		return Note{}, apperr.FromStorage(opList, "query_failed", err)
	}
	return note, nil
}

// CloneToLobby copies every note of source into target under fresh ids.
// Notes that fail to copy are logged and skipped; the count of copied notes is returned.
func (s *Service) CloneToLobby(ctx context.Context, sourceLobbyID, targetLobbyID int64) (int, error) {
	if targetLobbyID <= 0 {
		return 0, apperr.New(apperr.KindValidationFailed, opClone, "invalid_lobby_id", ErrInvalidLobbyID)
	}
	source, err := s.ListByLobby(ctx, sourceLobbyID)
	if err != nil {
		return 0, err
	}

	cloned := 0
	for _, note := range source {
		newID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opClone, "id_generation_failed", err, zap.String("note_id", note.ID))
			continue
		}
		copied := note
		copied.ID = newID
		copied.LobbyID = targetLobbyID
		if err := s.db.WithContext(ctx).Create(&copied).Error; err != nil {
			s.logError(opClone, "insert_failed", err,
				zap.Int64("source_lobby_id", sourceLobbyID),
				zap.Int64("lobby_id", targetLobbyID),
				zap.String("note_id", note.ID))
			continue
		}
		cloned++
	}
	return cloned, nil
}

// DeleteByLobby removes every note of a lobby.
func (s *Service) DeleteByLobby(ctx context.Context, lobbyID int64) error {
	if err := s.db.WithContext(ctx).Where("lobby_id = ?", lobbyID).Delete(&Note{}).Error; err != nil {
		s.logError(opPurge, "delete_failed", err, zap.Int64("lobby_id", lobbyID))
		return apperr.FromStorage(opPurge, "delete_failed", err)
	}
	return nil
}

func (s *Service) validate(operation string, lobbyID int64, rawID string) (NoteID, error) {
	if lobbyID <= 0 {
		return "", apperr.New(apperr.KindValidationFailed, operation, "invalid_lobby_id", ErrInvalidLobbyID)
	}
	noteID, err := NewNoteID(rawID)
	if err != nil {
		return "", apperr.New(apperr.KindValidationFailed, operation, "invalid_note_id", err).WithField("id")
	}
	return noteID, nil
}

func (s *Service) update(ctx context.Context, operation string, lobbyID int64, noteID NoteID, values map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&Note{}).
		Where("id = ? AND lobby_id = ?", noteID.String(), lobbyID).
		Updates(values)
	if res.Error != nil {
		s.logError(operation, "update_failed", res.Error, zap.Int64("lobby_id", lobbyID), zap.String("note_id", noteID.String()))
		return apperr.FromStorage(operation, "update_failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, operation, "not_found", errNoteNotFound)
	}
	return nil
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
	s.loggerOrDefault().Error("notes service error", attrs...)
}
