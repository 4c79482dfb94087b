package lobbies

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	maxCodeLength   = 64
	defaultLanguage = "en"
)

var (
	// ErrInvalidCode indicates an empty or oversized lobby code.
	ErrInvalidCode = errors.New("lobbies: invalid code")
	// ErrInvalidLobbyID indicates a non positive lobby identifier.
	ErrInvalidLobbyID = errors.New("lobbies: invalid lobby id")
)

// Code is a normalised, case-insensitive lobby join code.
type Code string

// NewCode trims and lowercases raw input.
func NewCode(rawInput string) (Code, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	if len(normalized) > maxCodeLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCode, maxCodeLength)
	}
	return Code(normalized), nil
}

func (c Code) String() string {
	return string(c)
}

// Lobby groups challenges, members and a shared note board.
type Lobby struct {
	ID                 int64                      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name               string                     `gorm:"column:name;size:255;not null" json:"name"`
	Description        string                     `gorm:"column:description;type:text;not null;default:''" json:"description"`
	Code               string                     `gorm:"column:code;size:64;not null;uniqueIndex:idx_lobbies_code" json:"code"`
	Outcome            string                     `gorm:"column:outcome;type:text;not null;default:''" json:"outcome"`
	CreatedBy          string                     `gorm:"column:created_by;size:190;not null;index" json:"createdBy"`
	SnapTemplate       string                     `gorm:"column:snap_template;type:text;not null;default:''" json:"snapTemplate"`
	InstructionsBefore string                     `gorm:"column:page_before;type:text;not null;default:''" json:"instructionsBefore"`
	InstructionsAfter  string                     `gorm:"column:page_after;type:text;not null;default:''" json:"instructionsAfter"`
	Public             bool                       `gorm:"column:public;not null;default:false;index" json:"public"`
	Tag                string                     `gorm:"column:tag;size:190;not null;default:''" json:"tag"`
	Language           string                     `gorm:"column:language;size:16;not null;default:'en'" json:"language"`
	ChallengeOrder     datatypes.JSONSlice[int64] `gorm:"column:ord" json:"challengeOrder"`
	CreatedAt          time.Time                  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Lobby) TableName() string {
	return "lobbies"
}

// Member links a user to a lobby they joined by code.
type Member struct {
	UserID   string    `gorm:"column:user_id;primaryKey;size:190;not null" json:"userId"`
	LobbyID  int64     `gorm:"column:lobby_id;primaryKey;not null;index" json:"lobbyId"`
	Entered  bool      `gorm:"column:entered;not null;default:false" json:"entered"`
	JoinedAt time.Time `gorm:"column:joined_at;autoCreateTime" json:"joinedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "lobby_members"
}

// MemberView is a membership row joined with the user directory.
type MemberView struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Entered  bool   `json:"entered"`
}

// Challenge is an exercise inside a lobby.
type Challenge struct {
	ID               int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	LobbyID          int64          `gorm:"column:lobby_id;not null;index" json:"lobbyId"`
	Name             string         `gorm:"column:name;size:255;not null" json:"name"`
	Minigame         string         `gorm:"column:minigame;size:190;not null;default:''" json:"minigame"`
	MinigameCategory string         `gorm:"column:minigame_category;size:190;not null;default:''" json:"minigameCategory"`
	Description      string         `gorm:"column:description;type:text;not null;default:''" json:"description"`
	Variables        datatypes.JSON `gorm:"column:variables" json:"variables"`
	Tag              string         `gorm:"column:tag;size:190;not null;default:''" json:"tag"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Challenge) TableName() string {
	return "challenges"
}

// Level is an ordered step of a challenge.
type Level struct {
	ID              int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ChallengeID     int64          `gorm:"column:challenge_id;not null;index" json:"challengeId"`
	Ord             int            `gorm:"column:ord;not null;default:0" json:"ord"`
	Instructions    datatypes.JSON `gorm:"column:instructions" json:"instructions"`
	Snap            string         `gorm:"column:snap;type:text;not null;default:''" json:"snap"`
	SnapSolution    string         `gorm:"column:snap_solution;type:text;not null;default:''" json:"snapSolution,omitempty"`
	SolutionEnabled bool           `gorm:"column:solution_enabled;not null;default:false" json:"solutionEnabled"`
}

// TableName provides the explicit table binding for GORM.
func (Level) TableName() string {
	return "challenge_levels"
}

// PublicFilter narrows public lobby listings. Empty fields do not filter.
type PublicFilter struct {
	Query    string
	Language string
	Tag      string
}
