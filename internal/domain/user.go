package domain

import (
	"strings"
	"time"
)

type User struct {
	UserID       string     `json:"id" dynamodbav:"user_id"`
	DisplayName  string     `json:"display_name" dynamodbav:"display_name"`
	Username     string     `json:"username" dynamodbav:"username"`
	Email        string     `json:"email" dynamodbav:"email"`
	PasswordHash string     `json:"-" dynamodbav:"password_hash"`
	IsAdmin      bool       `json:"is_admin" dynamodbav:"is_admin"`
	IsVerified   bool       `json:"is_verified" dynamodbav:"is_verified"`
	IsLocked     bool       `json:"is_locked" dynamodbav:"is_locked"`
	LastLogin    *time.Time `json:"last_login,omitempty" dynamodbav:"last_login"`
	CreatedAt    time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time  `json:"updated" dynamodbav:"updated_at"`
}

// NewUser builds an unsaved user. Username is always the lowercased display
// name; nothing else in the codebase may set it.
func NewUser(displayName, email, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		DisplayName:  displayName,
		Username:     strings.ToLower(displayName),
		Email:        strings.ToLower(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// UserFlag names the boolean account flags that may be toggled after creation.
type UserFlag string

const (
	FlagAdmin    UserFlag = "is_admin"
	FlagVerified UserFlag = "is_verified"
	FlagLocked   UserFlag = "is_locked"
)

// ReservedUsernames may never be registered.
var ReservedUsernames = []string{"kinkyharbor", "harbor", "admin", "root", "support"}

// UsernameReserved reports whether the folded username is on the reserved list.
func UsernameReserved(username string) bool {
	for _, r := range ReservedUsernames {
		if username == r {
			return true
		}
	}
	return false
}

// ProfileKeyKind discriminates the two ways a profile can be addressed.
type ProfileKeyKind int

const (
	ProfileKeyID ProfileKeyKind = iota
	ProfileKeyUsername
)

// ProfileKey is a tagged variant: a profile lookup either by user ID or by
// username. Construct via ProfileByID or ProfileByUsername and dispatch on Kind.
type ProfileKey struct {
	Kind  ProfileKeyKind
	Value string
}

func ProfileByID(userID string) ProfileKey {
	return ProfileKey{Kind: ProfileKeyID, Value: userID}
}

func ProfileByUsername(username string) ProfileKey {
	return ProfileKey{Kind: ProfileKeyUsername, Value: strings.ToLower(username)}
}
