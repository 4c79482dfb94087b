package users

import (
	"strings"
	"time"
)

// User is the locally known record of an actor seen on an authenticated request.
type User struct {
	ID         string    `gorm:"column:id;primaryKey;size:190;not null"`
	Username   string    `gorm:"column:username;size:190;not null;default:''"`
	Role       string    `gorm:"column:role;size:64;not null"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

type cachedUser struct {
	username string
	role     string
	seenAt   time.Time
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
