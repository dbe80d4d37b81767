package service

import (
	"time"

	"github.com/smallbiznis/bazar-auth/internal/domain"
)

// UserView is the sanitized user representation returned to callers. Raw
// provider-link records and merge bookkeeping never leave the service.
type UserView struct {
	ID             int64     `json:"id"`
	ProviderID     int64     `json:"provider_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	PhoneVerified  bool      `json:"phone_verified"`
	Role           string    `json:"role"`
	Providers      []string  `json:"providers"`
	ChatAppLinked  bool      `json:"chat_app_linked"`
	IsActive       bool      `json:"is_active"`
	FavoritesCount int       `json:"favorites_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func newUserView(user domain.User) UserView {
	providers := make([]string, 0, len(user.Providers))
	for _, link := range user.Providers {
		providers = append(providers, link.Provider)
	}
	return UserView{
		ID:             user.ID,
		ProviderID:     user.ChatID,
		Username:       user.Username,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		Phone:          user.Phone,
		PhoneVerified:  user.PhoneVerified,
		Role:           string(user.Role),
		Providers:      providers,
		ChatAppLinked:  user.ChatID != 0,
		IsActive:       user.IsActive,
		FavoritesCount: user.FavoritesCount,
		CreatedAt:      user.CreatedAt,
	}
}

// AuthResult carries the session credential plus the sanitized user.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserView  `json:"user"`
}

// CodeRequestResult acknowledges a code request. The code value itself only
// travels through the transport, never through this contract.
type CodeRequestResult struct {
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LinkResult is the phone-linking outcome. Merged flags a silent identity
// reconciliation so callers can react to it.
type LinkResult struct {
	AuthResult
	Merged       bool  `json:"merged"`
	MergedFromID int64 `json:"merged_from_id,omitempty"`
}
