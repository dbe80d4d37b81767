package service

import (
	"time"

	"github.com/smallbiznis/bazar-auth/internal/domain"
)

// mergeOutcome holds the post-merge snapshots of both records. Nothing is
// persisted here; the orchestrator commits target before source so a crash
// mid-merge never leaves an inactive user without a durable successor.
type mergeOutcome struct {
	target domain.User
	source domain.User
}

// mergeAccounts folds source into target as an ordered sequence of
// transformations over fresh copies: scalar backfill, provider-link union,
// favorites union, role promotion, merge bookkeeping. The input values are
// never mutated, so a failure at any later stage leaves both users intact.
func mergeAccounts(target, source domain.User, now time.Time) mergeOutcome {
	target = cloneUser(target)
	source = cloneUser(source)

	copyMissingScalars(&target, source)
	unionProviders(&target, source)
	unionFavorites(&target, source)
	promoteRole(&target, source)

	if !containsID(target.MergedFrom, source.ID) {
		target.MergedFrom = append(target.MergedFrom, source.ID)
	}
	target.LastActiveAt = now

	source.MergedInto = target.ID
	source.IsActive = false

	return mergeOutcome{target: target, source: source}
}

// ownerKeys lists every seller key dependent records may reference for the
// user: internal id, synthetic app id, and the chat-app id when linked.
func ownerKeys(user domain.User) []string {
	keys := make([]string, 0, 3)
	keys = append(keys, formatID(user.ID))
	if user.AppID != "" {
		keys = append(keys, user.AppID)
	}
	if user.ChatID != 0 {
		keys = append(keys, formatID(user.ChatID))
	}
	return keys
}

func copyMissingScalars(target *domain.User, source domain.User) {
	if target.ChatID == 0 {
		target.ChatID = source.ChatID
	}
	if target.AppID == "" {
		target.AppID = source.AppID
	}
	if target.Username == "" {
		target.Username = source.Username
	}
	if target.FirstName == "" {
		target.FirstName = source.FirstName
	}
	if target.LastName == "" {
		target.LastName = source.LastName
	}
}

func unionProviders(target *domain.User, source domain.User) {
	for _, link := range source.Providers {
		if !target.HasProvider(link.Provider) {
			target.Providers = append(target.Providers, link)
		}
	}
}

func unionFavorites(target *domain.User, source domain.User) {
	for _, fav := range source.Favorites {
		if !target.HasFavorite(fav.ListingID) {
			target.Favorites = append(target.Favorites, fav)
		}
	}
	target.FavoritesCount = len(target.Favorites)
}

// promoteRole applies the asymmetric promotion rules: administrative roles
// always win, seller only upgrades a plain buyer.
func promoteRole(target *domain.User, source domain.User) {
	switch {
	case source.Role.Administrative():
		target.Role = source.Role
	case source.Role == domain.RoleSeller && !target.Role.Elevated():
		target.Role = domain.RoleSeller
	}
}

func cloneUser(user domain.User) domain.User {
	user.Providers = append([]domain.ProviderLink(nil), user.Providers...)
	user.Favorites = append([]domain.FavoriteRef(nil), user.Favorites...)
	user.MergedFrom = append([]int64(nil), user.MergedFrom...)
	return user
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
