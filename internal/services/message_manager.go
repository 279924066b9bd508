package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/ad/go-telegram-airdrop/internal/models"
)

// Sender is the part of *bot.Bot the managers need.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*tgmodels.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type ChatStateStore interface {
	Get(userID int64) (*models.ChatState, error)
	UpdateTaskMessageID(userID, chatID int64, messageID int) error
	Clear(userID int64) error
}

var ErrSendFailed = errors.New("failed to send message after retry")

type MessageManager struct {
	sender    Sender
	chatState ChatStateStore
	errMgr    *ErrorManager
	logger    *zap.Logger
	maxRetry  int
}

func NewMessageManager(sender Sender, chatState ChatStateStore, errMgr *ErrorManager, logger *zap.Logger) *MessageManager {
	return &MessageManager{
		sender:    sender,
		chatState: chatState,
		errMgr:    errMgr,
		logger:    logger,
		maxRetry:  2,
	}
}

func (m *MessageManager) SendWithRetry(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	var lastErr error
	for attempt := 0; attempt < m.maxRetry; attempt++ {
		msg, err := m.sender.SendMessage(ctx, params)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		m.logger.Warn("send message failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	chatID, _ := params.ChatID.(int64)
	m.errMgr.NotifyAdminWithCurl(ctx, chatID, params, lastErr)
	return nil, errors.Join(ErrSendFailed, lastErr)
}

// SendView sends the view as a new message and remembers it as the user's
// current task message. The previous one is deleted first so the chat only
// ever shows one live set of task buttons.
func (m *MessageManager) SendView(ctx context.Context, chatID, userID int64, view *View) (*tgmodels.Message, error) {
	m.DeletePreviousMessage(ctx, userID)

	msg, err := m.SendWithRetry(ctx, &bot.SendMessageParams{
		ChatID:             chatID,
		Text:               view.Text,
		ParseMode:          tgmodels.ParseModeHTML,
		ReplyMarkup:        replyMarkup(view),
		LinkPreviewOptions: noPreview(),
	})
	if err != nil {
		return nil, err
	}

	if len(view.Actions) > 0 {
		if err := m.chatState.UpdateTaskMessageID(userID, chatID, msg.ID); err != nil {
			m.logger.Warn("failed to remember task message", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return msg, nil
}

// EditView replaces the message the button was pressed on. When the message
// can no longer be edited the view is sent as a new message instead.
func (m *MessageManager) EditView(ctx context.Context, chatID int64, messageID int, userID int64, view *View) error {
	_, err := m.sender.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:             chatID,
		MessageID:          messageID,
		Text:               view.Text,
		ParseMode:          tgmodels.ParseModeHTML,
		ReplyMarkup:        replyMarkup(view),
		LinkPreviewOptions: noPreview(),
	})
	if err == nil {
		if err := m.chatState.UpdateTaskMessageID(userID, chatID, messageID); err != nil {
			m.logger.Warn("failed to remember task message", zap.Int64("user_id", userID), zap.Error(err))
		}
		return nil
	}

	if isNotModified(err) {
		return nil
	}

	m.logger.Debug("edit failed, sending new message",
		zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.Error(err))
	_, err = m.SendView(ctx, chatID, userID, view)
	return err
}

// SendText sends a plain reply that does not replace the task message.
func (m *MessageManager) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := m.SendWithRetry(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	return err
}

func (m *MessageManager) AnswerCallback(ctx context.Context, callbackID, text string) {
	_, err := m.sender.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		m.logger.Debug("answer callback failed", zap.String("callback_id", callbackID), zap.Error(err))
	}
}

func (m *MessageManager) DeletePreviousMessage(ctx context.Context, userID int64) {
	state, err := m.chatState.Get(userID)
	if err != nil || state == nil || state.LastTaskMessageID == 0 {
		return
	}

	_ = m.DeleteMessage(ctx, state.ChatID, state.LastTaskMessageID)
	_ = m.chatState.Clear(userID)
}

func (m *MessageManager) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := m.sender.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return err
}

// Keyboard lays the view's actions out one per row.
func Keyboard(view *View) *tgmodels.InlineKeyboardMarkup {
	if len(view.Actions) == 0 {
		return nil
	}

	rows := make([][]tgmodels.InlineKeyboardButton, 0, len(view.Actions))
	for _, action := range view.Actions {
		button := tgmodels.InlineKeyboardButton{Text: action.Label}
		if action.IsLink() {
			button.URL = action.URL
		} else {
			button.CallbackData = action.Ref.CallbackData()
		}
		rows = append(rows, []tgmodels.InlineKeyboardButton{button})
	}
	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func replyMarkup(view *View) tgmodels.ReplyMarkup {
	if kb := Keyboard(view); kb != nil {
		return kb
	}
	return nil
}

func noPreview() *tgmodels.LinkPreviewOptions {
	disabled := true
	return &tgmodels.LinkPreviewOptions{IsDisabled: &disabled}
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
