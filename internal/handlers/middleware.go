package handlers

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// LogMiddleware logs every inbound message and button press with the time it
// took to handle.
func LogMiddleware(logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
			started := time.Now()
			next(ctx, b, update)

			switch {
			case update.Message != nil && update.Message.From != nil:
				logger.Info("[MSG]",
					userFields(update.Message.From,
						zap.String("text", update.Message.Text),
						zap.Duration("took", time.Since(started)))...)
			case update.CallbackQuery != nil:
				logger.Info("[CALLBACK]",
					userFields(&update.CallbackQuery.From,
						zap.String("data", update.CallbackQuery.Data),
						zap.Duration("took", time.Since(started)))...)
			}
		}
	}
}

func userFields(u *tgmodels.User, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.Int64("user_id", u.ID),
		zap.String("first_name", u.FirstName),
	}
	if u.Username != "" {
		fields = append(fields, zap.String("username", u.Username))
	}
	return append(fields, extra...)
}
