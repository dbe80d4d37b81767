package domain

import "time"

// Role enumerates marketplace user roles.
type Role string

const (
	RoleBuyer     Role = "buyer"
	RoleSeller    Role = "seller"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Elevated reports whether the role grants more than base buyer access.
func (r Role) Elevated() bool {
	return r == RoleSeller || r.Administrative()
}

// Administrative reports whether the role carries moderation powers.
func (r Role) Administrative() bool {
	return r == RoleModerator || r == RoleAdmin
}

// Provider kinds attached to a user via ProviderLink.
const (
	ProviderChatApp = "chatapp"
	ProviderPhone   = "phone"
)

// ProviderLink associates a user with one external identity channel.
type ProviderLink struct {
	Provider   string    `json:"provider"`
	ProviderID string    `json:"provider_id"`
	LinkedAt   time.Time `json:"linked_at"`
}

// FavoriteRef points at a saved listing.
type FavoriteRef struct {
	ListingID int64     `json:"listing_id"`
	AddedAt   time.Time `json:"added_at"`
}

// User is the canonical identity record a person's logins resolve to.
// A user with MergedInto set is retired: it is excluded from identity
// lookups and never returned as the current user.
type User struct {
	ID             int64
	ChatID         int64 // chat-app user id, 0 when the account was created by phone
	AppID          string
	Username       string
	FirstName      string
	LastName       string
	Phone          string
	PhoneVerified  bool
	Role           Role
	Providers      []ProviderLink
	Favorites      []FavoriteRef
	FavoritesCount int
	IsActive       bool
	MergedFrom     []int64
	MergedInto     int64
	LastActiveAt   time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasProvider reports whether a link of the given provider kind exists.
func (u User) HasProvider(kind string) bool {
	for _, link := range u.Providers {
		if link.Provider == kind {
			return true
		}
	}
	return false
}

// HasFavorite reports whether the listing is already saved.
func (u User) HasFavorite(listingID int64) bool {
	for _, fav := range u.Favorites {
		if fav.ListingID == listingID {
			return true
		}
	}
	return false
}
