package models

// ChatState remembers the last task message sent to a user so it can be
// removed once a newer one replaces it.
type ChatState struct {
	UserID            int64
	ChatID            int64
	LastTaskMessageID int
}
