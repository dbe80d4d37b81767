package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/bazar-auth/internal/domain"
	"github.com/smallbiznis/bazar-auth/internal/initdata"
	"github.com/smallbiznis/bazar-auth/internal/repository"
)

// identityResolver finds or creates the canonical user for one verified
// identity channel.
type identityResolver interface {
	Resolve(ctx context.Context) (domain.User, error)
}

// materializer carries the find-or-create plumbing shared by both channel
// resolvers.
type materializer struct {
	users  repository.UserRepository
	node   *snowflake.Node
	logger *zap.Logger
}

func (m materializer) create(ctx context.Context, user domain.User) (domain.User, error) {
	now := time.Now().UTC()
	user.ID = m.node.Generate().Int64()
	if user.AppID == "" {
		user.AppID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = domain.RoleBuyer
	}
	user.IsActive = true
	user.LastActiveAt = now

	created, err := m.users.Create(ctx, user)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	m.logger.Info("user created",
		zap.Int64("user_id", created.ID),
		zap.Bool("chat_app", created.ChatID != 0),
		zap.Bool("phone_verified", created.PhoneVerified),
	)
	return created, nil
}

// ensureLink appends a provider link unless one of that kind already exists.
func ensureLink(user *domain.User, kind, providerID string, now time.Time) {
	if user.HasProvider(kind) {
		return
	}
	user.Providers = append(user.Providers, domain.ProviderLink{
		Provider:   kind,
		ProviderID: providerID,
		LinkedAt:   now,
	})
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// chatAppResolver materializes a user for a verified chat-app identity.
// When the identity is unseen and a pre-verified phone accompanies it, the
// chat identity attaches to the existing phone account instead of creating
// a duplicate.
type chatAppResolver struct {
	m             materializer
	identity      initdata.Identity
	verifiedPhone string
}

func (r chatAppResolver) Resolve(ctx context.Context) (domain.User, error) {
	now := time.Now().UTC()

	user, err := r.m.users.GetByChatID(ctx, r.identity.UserID)
	if err == nil {
		r.refreshProfile(&user, now)
		if err := r.m.users.Save(ctx, user); err != nil {
			return domain.User{}, fmt.Errorf("refresh chat-app user: %w", err)
		}
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("lookup by chat id: %w", err)
	}

	if r.verifiedPhone != "" {
		existing, err := r.m.users.GetByPhone(ctx, r.verifiedPhone, true)
		if err == nil {
			// Attach, not merge: no second account exists for this chat id yet.
			existing.ChatID = r.identity.UserID
			r.refreshProfile(&existing, now)
			if err := r.m.users.Save(ctx, existing); err != nil {
				return domain.User{}, fmt.Errorf("attach chat-app identity: %w", err)
			}
			return existing, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, fmt.Errorf("lookup by phone: %w", err)
		}
	}

	user = domain.User{
		ChatID:        r.identity.UserID,
		Username:      r.identity.Username,
		FirstName:     r.identity.FirstName,
		LastName:      r.identity.LastName,
		Phone:         r.verifiedPhone,
		PhoneVerified: r.verifiedPhone != "",
	}
	ensureLink(&user, domain.ProviderChatApp, formatID(r.identity.UserID), now)
	if r.verifiedPhone != "" {
		ensureLink(&user, domain.ProviderPhone, r.verifiedPhone, now)
	}
	return r.m.create(ctx, user)
}

func (r chatAppResolver) refreshProfile(user *domain.User, now time.Time) {
	user.Username = r.identity.Username
	if r.identity.FirstName != "" {
		user.FirstName = r.identity.FirstName
	}
	if r.identity.LastName != "" {
		user.LastName = r.identity.LastName
	}
	user.LastActiveAt = now
	ensureLink(user, domain.ProviderChatApp, formatID(r.identity.UserID), now)
}

// phoneResolver materializes a user for a phone number proven by a one-time
// code.
type phoneResolver struct {
	m     materializer
	phone string
}

func (r phoneResolver) Resolve(ctx context.Context) (domain.User, error) {
	now := time.Now().UTC()

	user, err := r.m.users.GetByPhone(ctx, r.phone, true)
	if err == nil {
		ensureLink(&user, domain.ProviderPhone, r.phone, now)
		user.LastActiveAt = now
		if err := r.m.users.Save(ctx, user); err != nil {
			return domain.User{}, fmt.Errorf("refresh phone user: %w", err)
		}
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("lookup by phone: %w", err)
	}

	user = domain.User{
		Phone:         r.phone,
		PhoneVerified: true,
	}
	ensureLink(&user, domain.ProviderPhone, r.phone, now)
	return r.m.create(ctx, user)
}
