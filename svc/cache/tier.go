package cache

import "pobbin/pkg/domain"

type Tier int

const (
	// Default serves every request that is not made by the resource owner.
	Default Tier = iota
	// Owned holds responses rendered for the owner of a user scoped resource.
	Owned
)

var Tiers = []Tier{Default, Owned}

func (t Tier) String() string {
	if t == Owned {
		return "Owned"
	}
	return "Default"
}

func (t Tier) Namespace() string {
	if t == Owned {
		return "owned"
	}
	return "default"
}

// Select picks Owned only when the route is user scoped and the session user
// is that user. An empty value means absent.
func Select(session, owner domain.User) Tier {
	if session == "" || owner == "" {
		return Default
	}
	if session.Equal(owner) {
		return Owned
	}
	return Default
}
