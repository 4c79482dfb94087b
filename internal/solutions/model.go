package solutions

import (
	"time"

	"gorm.io/datatypes"
)

// ChallengeSolution is a user's saved work for one level of a challenge.
type ChallengeSolution struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UserID       string         `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_challenge_solutions_key,priority:1" json:"userId"`
	ChallengeID  int64          `gorm:"column:challenge_id;not null;uniqueIndex:idx_challenge_solutions_key,priority:2;index" json:"challengeId"`
	LevelID      int64          `gorm:"column:level_id;not null;uniqueIndex:idx_challenge_solutions_key,priority:3" json:"levelId"`
	Snap         string         `gorm:"column:snap_solution;type:text;not null;default:''" json:"snapSolution"`
	Details      datatypes.JSON `gorm:"column:details" json:"details"`
	TimesUpdated int            `gorm:"column:times_updated;not null;default:0" json:"timesUpdated"`
	LastUpdate   time.Time      `gorm:"column:last_update;not null" json:"lastUpdate"`
}

// TableName provides the explicit table binding for GORM.
func (ChallengeSolution) TableName() string {
	return "challenge_solutions"
}

// LobbySolution is a user's saved work for a lobby as a whole.
type LobbySolution struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UserID       string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_lobby_solutions_key,priority:1" json:"userId"`
	LobbyID      int64     `gorm:"column:lobby_id;not null;uniqueIndex:idx_lobby_solutions_key,priority:2;index" json:"lobbyId"`
	Snap         string    `gorm:"column:snap_solution;type:text;not null;default:''" json:"snapSolution"`
	TimesUpdated int       `gorm:"column:times_updated;not null;default:0" json:"timesUpdated"`
	LastUpdate   time.Time `gorm:"column:last_update;not null" json:"lastUpdate"`
}

// TableName provides the explicit table binding for GORM.
func (LobbySolution) TableName() string {
	return "lobby_solutions"
}

// ChallengeKey identifies a challenge-level solution.
type ChallengeKey struct {
	UserID      string
	ChallengeID int64
	LevelID     int64
}

// LobbyKey identifies a lobby solution.
type LobbyKey struct {
	UserID  string
	LobbyID int64
}
