package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/lobbyboard/internal/access"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/apperr"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/auth"
	"github.com/MarcoPoloResearchLab/lobbyboard/internal/notes"
	"go.uber.org/zap"
)

// Board events as they appear on the wire.
const (
	EventJoin     = "room"
	EventSnapshot = "join-room"
	EventLeave    = "leave-room"
	EventCreate   = "new-note"
	EventMove     = "move-note"
	EventEdit     = "edit-note"
	EventDelete   = "delete-note"
	EventRestack  = "z-note"
)

const (
	opHandleFrame = "realtime.board.frame"
	opJoin        = "realtime.board.join"
	opCreate      = "realtime.board.create"
	opMove        = "realtime.board.move"
	opEdit        = "realtime.board.edit"
	opDelete      = "realtime.board.delete"
	opRestack     = "realtime.board.restack"
)

var (
	errMissingHub   = errors.New("realtime: hub is required")
	errMissingNotes = errors.New("realtime: note store is required")
)

// Envelope frames every board message.
type Envelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type noteEnvelope struct {
	Note notes.Payload `json:"note"`
}

// NoteStore is the persistence the board drives.
type NoteStore interface {
	Create(ctx context.Context, lobbyID int64, payload notes.Payload) error
	Move(ctx context.Context, lobbyID int64, noteID string, position notes.Position) error
	Edit(ctx context.Context, lobbyID int64, payload notes.Payload) error
	Delete(ctx context.Context, lobbyID int64, noteID string) error
	Restack(ctx context.Context, lobbyID int64, updates []notes.ZUpdate) notes.RestackResult
	ListByLobby(ctx context.Context, lobbyID int64) ([]notes.Note, error)
	Get(ctx context.Context, lobbyID int64, noteID string) (notes.Note, error)
}

// Authorizer decides whether an actor may join a lobby room.
type Authorizer interface {
	Resolve(ctx context.Context, actor auth.Actor, capability access.Capability, ref *access.LobbyRef) access.Decision
}

// BoardConfig wires a Board.
type BoardConfig struct {
	Hub        *Hub
	Notes      NoteStore
	Authorizer Authorizer
	Logger     *zap.Logger
	// CanonicalEcho re-reads created, moved and edited notes after persisting and broadcasts
	// the stored row instead of the client payload.
	CanonicalEcho bool
}

// Board applies note events: validate, persist, then broadcast to the room except the origin.
type Board struct {
	hub           *Hub
	notes         NoteStore
	authorizer    Authorizer
	logger        *zap.Logger
	canonicalEcho bool
}

// NewBoard validates dependencies and returns a Board.
func NewBoard(cfg BoardConfig) (*Board, error) {
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	if cfg.Notes == nil {
		return nil, errMissingNotes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		hub:           cfg.Hub,
		notes:         cfg.Notes,
		authorizer:    cfg.Authorizer,
		logger:        logger,
		canonicalEcho: cfg.CanonicalEcho,
	}, nil
}

// HandleFrame decodes one inbound frame and dispatches it. Failures are logged, never returned
// to the sender.
func (b *Board) HandleFrame(ctx context.Context, client *Client, frame []byte) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		b.logWarn(opHandleFrame, "decode_failed", err, client)
		return
	}
	room := strings.TrimSpace(envelope.Room)
	lobbyID, err := parseRoom(room)
	if err != nil {
		b.logWarn(opHandleFrame, "invalid_room", err, client, zap.String("event", envelope.Event))
		return
	}

	switch envelope.Event {
	case EventJoin:
		b.join(ctx, client, room, lobbyID)
		return
	case EventLeave:
		b.hub.Leave(client, room)
		return
	}

	if !b.hub.InRoom(client, room) {
		b.logWarn(opHandleFrame, "room_not_joined", nil, client, zap.String("room", room), zap.String("event", envelope.Event))
		return
	}

	switch envelope.Event {
	case EventCreate:
		b.create(ctx, client, room, lobbyID, envelope.Data)
	case EventMove:
		b.move(ctx, client, room, lobbyID, envelope.Data)
	case EventEdit:
		b.edit(ctx, client, room, lobbyID, envelope.Data)
	case EventDelete:
		b.remove(ctx, client, room, lobbyID, envelope.Data)
	case EventRestack:
		b.restack(ctx, client, room, lobbyID, envelope.Data)
	default:
		b.logWarn(opHandleFrame, "unknown_event", nil, client, zap.String("event", envelope.Event))
	}
}

func (b *Board) join(ctx context.Context, client *Client, room string, lobbyID int64) {
	if b.authorizer != nil {
		decision := b.authorizer.Resolve(ctx, client.Actor(), access.CapabilityMember, &access.LobbyRef{LobbyID: lobbyID})
		if !decision.Allowed() {
			b.logWarn(opJoin, "forbidden", decision.Err, client,
				zap.String("room", room),
				zap.String("outcome", decision.Outcome.String()),
			)
			return
		}
	}

	_, err := b.hub.JoinWithSnapshot(client, room, func() ([]byte, error) {
		stored, err := b.notes.ListByLobby(ctx, lobbyID)
		if err != nil {
			return nil, err
		}
		snapshot := make([]notes.Payload, 0, len(stored))
		for _, note := range stored {
			snapshot = append(snapshot, note.Payload())
		}
		return encodeFrame(EventSnapshot, room, snapshot)
	})
	if err != nil {
		b.logError(opJoin, "snapshot_failed", err, client, zap.String("room", room))
	}
}

func (b *Board) create(ctx context.Context, client *Client, room string, lobbyID int64, data json.RawMessage) {
	var payload notes.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		b.logWarn(opCreate, "decode_failed", err, client)
		return
	}
	if err := b.notes.Create(ctx, lobbyID, payload); err != nil {
		b.logMutationFailure(opCreate, err, client, payload.ID)
		return
	}
	if b.canonicalEcho {
		if stored, ok := b.reread(ctx, opCreate, client, lobbyID, payload.ID); ok {
			b.broadcastValue(client, EventCreate, room, stored.Payload())
			return
		}
	}
	b.broadcastRaw(client, EventCreate, room, data)
}

func (b *Board) move(ctx context.Context, client *Client, room string, lobbyID int64, data json.RawMessage) {
	var envelope noteEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		b.logWarn(opMove, "decode_failed", err, client)
		return
	}
	if err := b.notes.Move(ctx, lobbyID, envelope.Note.ID, envelope.Note.Position); err != nil {
		b.logMutationFailure(opMove, err, client, envelope.Note.ID)
		return
	}
	if b.canonicalEcho {
		if stored, ok := b.reread(ctx, opMove, client, lobbyID, envelope.Note.ID); ok {
			b.broadcastValue(client, EventMove, room, noteEnvelope{Note: stored.Payload()})
			return
		}
	}
	b.broadcastRaw(client, EventMove, room, data)
}

func (b *Board) edit(ctx context.Context, client *Client, room string, lobbyID int64, data json.RawMessage) {
	var envelope noteEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		b.logWarn(opEdit, "decode_failed", err, client)
		return
	}
	if err := b.notes.Edit(ctx, lobbyID, envelope.Note); err != nil {
		b.logMutationFailure(opEdit, err, client, envelope.Note.ID)
		return
	}
	if b.canonicalEcho {
		if stored, ok := b.reread(ctx, opEdit, client, lobbyID, envelope.Note.ID); ok {
			b.broadcastValue(client, EventEdit, room, noteEnvelope{Note: stored.Payload()})
			return
		}
	}
	b.broadcastRaw(client, EventEdit, room, data)
}

func (b *Board) remove(ctx context.Context, client *Client, room string, lobbyID int64, data json.RawMessage) {
	var envelope noteEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		b.logWarn(opDelete, "decode_failed", err, client)
		return
	}
	if err := b.notes.Delete(ctx, lobbyID, envelope.Note.ID); err != nil {
		b.logMutationFailure(opDelete, err, client, envelope.Note.ID)
		return
	}
	b.broadcastRaw(client, EventDelete, room, data)
}

// restack broadcasts the incoming batch whatever the individual outcomes were.
func (b *Board) restack(ctx context.Context, client *Client, room string, lobbyID int64, data json.RawMessage) {
	var updates []notes.ZUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		b.logWarn(opRestack, "decode_failed", err, client)
		return
	}
	result := b.notes.Restack(ctx, lobbyID, updates)
	for _, failure := range result.Failures {
		b.logMutationFailure(opRestack, failure.Err, client, failure.NoteID)
	}
	b.broadcastRaw(client, EventRestack, room, data)
}

func (b *Board) reread(ctx context.Context, operation string, client *Client, lobbyID int64, noteID string) (notes.Note, bool) {
	stored, err := b.notes.Get(ctx, lobbyID, noteID)
	if err != nil {
		b.logError(operation, "reread_failed", err, client, zap.String("note_id", noteID))
		return notes.Note{}, false
	}
	return stored, true
}

func (b *Board) broadcastRaw(client *Client, event, room string, data json.RawMessage) {
	frame, err := json.Marshal(Envelope{Event: event, Room: room, Data: data})
	if err != nil {
		b.logError(opHandleFrame, "encode_failed", err, client, zap.String("event", event))
		return
	}
	b.hub.Broadcast(room, frame, client.ID())
}

func (b *Board) broadcastValue(client *Client, event, room string, value interface{}) {
	frame, err := encodeFrame(event, room, value)
	if err != nil {
		b.logError(opHandleFrame, "encode_failed", err, client, zap.String("event", event))
		return
	}
	b.hub.Broadcast(room, frame, client.ID())
}

func (b *Board) logMutationFailure(operation string, err error, client *Client, noteID string) {
	switch apperr.KindOf(err) {
	case apperr.KindConflict, apperr.KindNotFound, apperr.KindValidationFailed:
		b.logWarn(operation, string(apperr.KindOf(err)), err, client, zap.String("note_id", noteID))
	default:
		b.logError(operation, "persist_failed", err, client, zap.String("note_id", noteID))
	}
}

func (b *Board) logWarn(operation string, reason string, err error, client *Client, fields ...zap.Field) {
	b.logger.Warn("board event rejected", b.fields(operation, reason, err, client, fields)...)
}

func (b *Board) logError(operation string, reason string, err error, client *Client, fields ...zap.Field) {
	b.logger.Error("board event failed", b.fields(operation, reason, err, client, fields)...)
}

func (b *Board) fields(operation string, reason string, err error, client *Client, extra []zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Int64("client_id", client.ID()),
		zap.String("user_id", client.Actor().ID),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	return append(fields, extra...)
}

func encodeFrame(event, room string, value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Room: room, Data: data})
}

func parseRoom(room string) (int64, error) {
	lobbyID, err := strconv.ParseInt(room, 10, 64)
	if err != nil {
		return 0, err
	}
	if lobbyID <= 0 {
		return 0, notes.ErrInvalidLobbyID
	}
	return lobbyID, nil
}
