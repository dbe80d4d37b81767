// Package bootstrap seeds operational data at startup.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/bazar-auth/internal/config"
	"github.com/smallbiznis/bazar-auth/internal/domain"
	"github.com/smallbiznis/bazar-auth/internal/repository"
)

// EnsureAdmin promotes the configured chat-app account to admin at startup.
// Marketplace operators sign in through the chat app, so the seed admin is
// keyed by chat id; nothing happens when ADMIN_CHAT_ID is unset.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, logger *zap.Logger) error {
	if cfg.AdminChatID == 0 {
		return nil
	}

	user, err := users.GetByChatID(ctx, cfg.AdminChatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The operator has not logged in yet; promotion happens on a
			// later restart once the account exists.
			logger.Info("admin bootstrap skipped, chat id unseen", zap.Int64("chat_id", cfg.AdminChatID))
			return nil
		}
		return fmt.Errorf("bootstrap lookup admin: %w", err)
	}

	if user.Role == domain.RoleAdmin {
		return nil
	}

	user.Role = domain.RoleAdmin
	user.LastActiveAt = time.Now().UTC()
	if err := users.Save(ctx, user); err != nil {
		return fmt.Errorf("bootstrap promote admin: %w", err)
	}

	logger.Info("bootstrap admin promoted",
		zap.Int64("chat_id", cfg.AdminChatID),
		zap.Int64("user_id", user.ID),
	)
	return nil
}
