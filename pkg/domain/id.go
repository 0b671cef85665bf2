package domain

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	MinIDLen   = 5
	MaxIDLen   = 90
	MaxUserLen = 30
)

// ID is a validated paste identifier: 5 to 90 characters of [0-9a-zA-Z_-].
type ID string

func ParseID(s string) (ID, error) {
	switch {
	case len(s) < MinIDLen:
		return "", ErrIDTooShort
	case len(s) > MaxIDLen:
		return "", ErrIDTooLong
	}
	for i := 0; i < len(s); i++ {
		if !isIDByte(s[i]) {
			return "", ErrIDInvalid
		}
	}
	return ID(s), nil
}

func isIDByte(b byte) bool {
	return b >= '0' && b <= '9' ||
		b >= 'a' && b <= 'z' ||
		b >= 'A' && b <= 'Z' ||
		b == '_' || b == '-'
}

func (id ID) String() string { return string(id) }

// User is an account name. Names are compared case-insensitively through
// Normalized.
type User string

func ParseUser(s string) (User, error) {
	if s == "" || strings.ContainsAny(s, "/:") {
		return "", ErrUserInvalid
	}
	if utf8.RuneCountInString(s) > MaxUserLen {
		return "", ErrUserTooLong
	}
	return User(s), nil
}

func (u User) String() string { return string(u) }

func (u User) Normalized() User {
	// Casers keep state between calls, so one is built per use.
	return User(cases.Lower(language.Und).String(string(u)))
}

func (u User) Equal(other User) bool {
	return u.Normalized() == other.Normalized()
}

// PasteID is either a Paste or a UserPaste. The set is closed: only types in
// this package implement it.
type PasteID interface {
	String() string
	Key() ID
	pasteID()
}

type Paste struct {
	ID ID
}

type UserPaste struct {
	User User
	ID   ID
}

func (p Paste) String() string     { return string(p.ID) }
func (p Paste) Key() ID            { return p.ID }
func (Paste) pasteID()             {}
func (p UserPaste) String() string { return string(p.User) + ":" + string(p.ID) }
func (p UserPaste) Key() ID        { return p.ID }
func (UserPaste) pasteID()         {}

// Owner returns the user a paste is scoped to, if any.
func Owner(p PasteID) (User, bool) {
	if up, ok := p.(UserPaste); ok {
		return up.User, true
	}
	return "", false
}

// ParsePasteID splits s at the first ':' into user and id. Both halves are
// validated on their own.
func ParsePasteID(s string) (PasteID, error) {
	user, id, scoped := strings.Cut(s, ":")
	if !scoped {
		pid, err := ParseID(s)
		if err != nil {
			return nil, err
		}
		return Paste{ID: pid}, nil
	}
	u, err := ParseUser(user)
	if err != nil {
		return nil, err
	}
	pid, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return UserPaste{User: u, ID: pid}, nil
}
