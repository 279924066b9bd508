package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/ad/go-telegram-airdrop/internal/models"
	"github.com/ad/go-telegram-airdrop/internal/services"
)

const (
	cmdStart    = "/start"
	cmdProgress = "/progress"
	cmdReset    = "/reset"
	cmdStats    = "/stats"
)

type BotHandler struct {
	engine       *services.ProgressEngine
	msgManager   *services.MessageManager
	errorManager *services.ErrorManager
	logger       *zap.Logger
}

func NewBotHandler(
	engine *services.ProgressEngine,
	msgManager *services.MessageManager,
	errorManager *services.ErrorManager,
	logger *zap.Logger,
) *BotHandler {
	return &BotHandler{
		engine:       engine,
		msgManager:   msgManager,
		errorManager: errorManager,
		logger:       logger,
	}
}

func (h *BotHandler) HandleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	defer h.recoverPanic(ctx, update)

	if update.Message != nil {
		h.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

func (h *BotHandler) recoverPanic(ctx context.Context, update *tgmodels.Update) {
	if r := recover(); r != nil {
		h.errorManager.NotifyAdmin(ctx, r, update)
	}
}

func (h *BotHandler) handleMessage(ctx context.Context, msg *tgmodels.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	identity := identityOf(msg.From)
	chatID := msg.Chat.ID

	command, isCommand := parseCommand(msg.Text)
	if !isCommand {
		if strings.TrimSpace(msg.Text) == "" {
			return
		}
		view, err := h.engine.FreeText(identity, msg.Text)
		h.reply(ctx, chatID, identity.ID, view, err)
		return
	}

	switch command {
	case cmdStart:
		view, err := h.engine.Start(identity)
		h.reply(ctx, chatID, identity.ID, view, err)
	case cmdProgress:
		view, err := h.engine.QueryProgress(identity)
		h.reply(ctx, chatID, identity.ID, view, err)
	case cmdReset:
		view, err := h.engine.Reset(identity)
		h.reply(ctx, chatID, identity.ID, view, err)
	case cmdStats:
		view, err := h.engine.AdminStats(identity.Username)
		if err != nil {
			h.replyError(ctx, chatID, identity.ID, err)
			return
		}
		if err := h.msgManager.SendText(ctx, chatID, view.Text); err != nil {
			h.logger.Warn("failed to send stats", zap.Int64("user_id", identity.ID), zap.Error(err))
		}
	default:
		// Unknown commands never reach wallet capture.
		view, err := h.engine.Start(identity)
		h.reply(ctx, chatID, identity.ID, view, err)
	}
}

func (h *BotHandler) handleCallback(ctx context.Context, callback *tgmodels.CallbackQuery) {
	h.msgManager.AnswerCallback(ctx, callback.ID, "")

	ref, ok := services.ParseActionRef(callback.Data)
	if !ok {
		h.logger.Debug("ignoring unknown callback", zap.String("data", callback.Data))
		return
	}

	identity := identityOf(&callback.From)
	view, err := h.engine.Dispatch(identity, ref)

	msg := callback.Message.Message
	if msg == nil {
		h.reply(ctx, identity.ID, identity.ID, view, err)
		return
	}

	if err != nil {
		h.replyError(ctx, msg.Chat.ID, identity.ID, err)
		return
	}

	if err := h.msgManager.EditView(ctx, msg.Chat.ID, msg.ID, identity.ID, view); err != nil {
		h.logger.Warn("failed to update view", zap.Int64("user_id", identity.ID), zap.Error(err))
	}
}

func (h *BotHandler) reply(ctx context.Context, chatID, userID int64, view *services.View, err error) {
	if err != nil {
		h.replyError(ctx, chatID, userID, err)
		return
	}
	if _, err := h.msgManager.SendView(ctx, chatID, userID, view); err != nil {
		h.logger.Warn("failed to send view", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (h *BotHandler) replyError(ctx context.Context, chatID, userID int64, err error) {
	view := services.ViewForError(err)
	if errors.Is(err, services.ErrUnauthorized) {
		h.logger.Info("unauthorized command", zap.Int64("user_id", userID))
	} else {
		h.logger.Error("action failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if sendErr := h.msgManager.SendText(ctx, chatID, view.Text); sendErr != nil {
		h.logger.Warn("failed to send error reply", zap.Int64("user_id", userID), zap.Error(sendErr))
	}
}

func identityOf(u *tgmodels.User) models.Identity {
	return models.Identity{
		ID:        u.ID,
		FirstName: u.FirstName,
		Username:  u.Username,
	}
}

// parseCommand returns the lower-cased command of a "/cmd@botname args" message.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	command := strings.Fields(text)[0]
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), true
}
