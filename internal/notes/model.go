package notes

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidLobbyID indicates that a lobby identifier is not positive.
	ErrInvalidLobbyID = errors.New("notes: invalid lobby id")
)

// NoteID represents a validated, client generated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// Position places a note on the board; Z orders stacking within a lobby.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Size is the rendered note size.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Payload is the wire representation of a note exchanged with board clients.
type Payload struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Type     string   `json:"type"`
	Text     string   `json:"text"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
	Locked   bool     `json:"locked"`
	Color    string   `json:"color"`
}

// ZUpdate is one entry of a restack batch.
type ZUpdate struct {
	ID string  `json:"id"`
	Z  float64 `json:"z"`
}

// Note is the persisted board note.
type Note struct {
	ID          string  `gorm:"column:id;primaryKey;size:190;not null"`
	LobbyID     int64   `gorm:"column:lobby_id;not null;index:idx_brainstorm_notes_lobby"`
	Content     string  `gorm:"column:content;type:text;not null;default:''"`
	ContentType string  `gorm:"column:content_type;size:64;not null;default:''"`
	Text        string  `gorm:"column:note_text;type:text;not null;default:''"`
	X           float64 `gorm:"column:x;not null;default:0"`
	Y           float64 `gorm:"column:y;not null;default:0"`
	Z           float64 `gorm:"column:z;not null;default:0"`
	Width       float64 `gorm:"column:width;not null;default:0"`
	Height      float64 `gorm:"column:height;not null;default:0"`
	Locked      bool    `gorm:"column:locked;not null;default:false"`
	Color       string  `gorm:"column:color;size:64;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "brainstorm_notes"
}

// Payload converts the stored row to its wire form.
func (n Note) Payload() Payload {
	return Payload{
		ID:       n.ID,
		Content:  n.Content,
		Type:     n.ContentType,
		Text:     n.Text,
		Position: Position{X: n.X, Y: n.Y, Z: n.Z},
		Size:     Size{Width: n.Width, Height: n.Height},
		Locked:   n.Locked,
		Color:    n.Color,
	}
}

func noteFromPayload(lobbyID int64, id NoteID, payload Payload) Note {
	return Note{
		ID:          id.String(),
		LobbyID:     lobbyID,
		Content:     payload.Content,
		ContentType: payload.Type,
		Text:        payload.Text,
		X:           payload.Position.X,
		Y:           payload.Position.Y,
		Z:           payload.Position.Z,
		Width:       payload.Size.Width,
		Height:      payload.Size.Height,
		Locked:      payload.Locked,
		Color:       payload.Color,
	}
}
