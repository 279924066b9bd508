package services

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const maxAdminMessageLength = 4000

// ErrorManager reports failures. Everything is logged; when an admin chat is
// configured the report is also sent there.
type ErrorManager struct {
	sender      Sender
	adminChatID int64
	logger      *zap.Logger
}

func NewErrorManager(sender Sender, adminChatID int64, logger *zap.Logger) *ErrorManager {
	return &ErrorManager{
		sender:      sender,
		adminChatID: adminChatID,
		logger:      logger,
	}
}

func (e *ErrorManager) NotifyAdmin(ctx context.Context, panicValue interface{}, update *models.Update) {
	userInfo := describeSender(update)
	stack := string(debug.Stack())

	e.logger.Error("panic in handler",
		zap.Any("panic", panicValue),
		zap.String("user", userInfo),
		zap.String("stack", stack))

	e.send(ctx, fmt.Sprintf("🚨 Panic in handler\nUser: %s\nError: %v\n\nStack trace:\n%s",
		userInfo, panicValue, stack))
}

func (e *ErrorManager) NotifyAdminWithCurl(ctx context.Context, chatID int64, request interface{}, err error) {
	e.logger.Error("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))

	e.send(ctx, fmt.Sprintf("❌ Failed to send message\nUser: [%d]\nError: %v\n\nCurl:\n%s",
		chatID, err, buildCurlCommand(request)))
}

func (e *ErrorManager) send(ctx context.Context, msg string) {
	if e.adminChatID == 0 || e.sender == nil {
		return
	}

	if len(msg) > maxAdminMessageLength {
		msg = msg[:maxAdminMessageLength] + "\n... (truncated)"
	}

	_, err := e.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: e.adminChatID,
		Text:   msg,
	})
	if err != nil {
		e.logger.Warn("failed to notify admin chat", zap.Int64("admin_chat_id", e.adminChatID), zap.Error(err))
	}
}

func describeSender(update *models.Update) string {
	if update == nil {
		return "unknown"
	}

	var from *models.User
	switch {
	case update.Message != nil && update.Message.From != nil:
		from = update.Message.From
	case update.CallbackQuery != nil && update.CallbackQuery.From.ID != 0:
		from = &update.CallbackQuery.From
	default:
		return "unknown"
	}

	info := fmt.Sprintf("[%d]", from.ID)
	if from.FirstName != "" {
		info = from.FirstName + " " + info
	}
	if from.Username != "" {
		info = info + " @" + from.Username
	}
	return info
}

func buildCurlCommand(request interface{}) string {
	jsonData, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return fmt.Sprintf("# Failed to serialize request: %v", err)
	}

	return fmt.Sprintf("curl -X POST 'https://api.telegram.org/bot[BOT_TOKEN]/sendMessage' \\\n  -H 'Content-Type: application/json' \\\n  -d '%s'",
		string(jsonData))
}
