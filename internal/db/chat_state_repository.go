package db

import (
	"database/sql"

	"github.com/ad/go-telegram-airdrop/internal/models"
)

type ChatStateRepository struct {
	queue *DBQueue
}

func NewChatStateRepository(queue *DBQueue) *ChatStateRepository {
	return &ChatStateRepository{queue: queue}
}

func (r *ChatStateRepository) Get(userID int64) (*models.ChatState, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		var state models.ChatState
		err := db.QueryRow(`
			SELECT user_id, chat_id, last_task_message_id
			FROM user_chat_state WHERE user_id = ?
		`, userID).Scan(&state.UserID, &state.ChatID, &state.LastTaskMessageID)
		if err != nil {
			return nil, err
		}
		return &state, nil
	})
	if err != nil {
		return nil, wrapErr("get_chat_state", err)
	}
	return result.(*models.ChatState), nil
}

func (r *ChatStateRepository) UpdateTaskMessageID(userID, chatID int64, messageID int) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`
			INSERT INTO user_chat_state (user_id, chat_id, last_task_message_id)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				chat_id = excluded.chat_id,
				last_task_message_id = excluded.last_task_message_id
		`, userID, chatID, messageID)
		return nil, err
	})
	return wrapErr("update_task_message", err)
}

func (r *ChatStateRepository) Clear(userID int64) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`UPDATE user_chat_state SET last_task_message_id = 0 WHERE user_id = ?`, userID)
		return nil, err
	})
	return wrapErr("clear_chat_state", err)
}
