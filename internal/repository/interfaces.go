package repository

import (
	"context"

	"github.com/smallbiznis/bazar-auth/internal/domain"
)

// UserRepository exposes persistence for canonical user records. Lookups by
// chat id and phone must skip users that were merged into another record;
// the storage layer enforces uniqueness of chat id and of verified phone
// among active users.
type UserRepository interface {
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	GetByChatID(ctx context.Context, chatID int64) (domain.User, error)
	GetByPhone(ctx context.Context, phone string, activeOnly bool) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Save(ctx context.Context, user domain.User) error
}

// CodeRepository stores one-time phone codes. GetLatestUnconsumed skips
// verified codes so a consumed code is indistinguishable from an expired one.
type CodeRepository interface {
	Create(ctx context.Context, code domain.PhoneCode) error
	GetLatestUnconsumed(ctx context.Context, phone string, purpose domain.CodePurpose) (domain.PhoneCode, error)
	Save(ctx context.Context, code domain.PhoneCode) error
}

// ListingRepository is the ownership-rewrite collaborator: listings are
// keyed by seller key (internal user id or chat-app id, both serialized as
// strings) and a merge bulk-rewrites them to the surviving account.
type ListingRepository interface {
	ReassignOwner(ctx context.Context, fromKey, toKey string) (int64, error)
}

// CodeTransport delivers one-time codes out of band (SMS or chat message).
type CodeTransport interface {
	Send(ctx context.Context, phone, code string) error
}
