package models

import (
	"fmt"
	"strings"
	"time"
)

// Identity is what the transport knows about the sender of an action.
type Identity struct {
	ID        int64
	FirstName string
	Username  string
}

type User struct {
	ID            int64
	FirstName     string
	Username      string
	CurrentStep   int
	TaskCompleted []bool
	WalletAddress string
	JoinedAt      time.Time
	LastActiveAt  time.Time
}

func (u *User) DisplayName() string {
	var parts []string
	if u.FirstName != "" {
		parts = append(parts, u.FirstName)
	}
	if u.Username != "" {
		parts = append(parts, fmt.Sprintf("@%s", u.Username))
	}
	parts = append(parts, fmt.Sprintf("[%d]", u.ID))
	return strings.Join(parts, " ")
}

func (u *User) CompletedCount() int {
	count := 0
	for _, done := range u.TaskCompleted {
		if done {
			count++
		}
	}
	return count
}

// IsFinished reports whether the user is past the last task.
func (u *User) IsFinished() bool {
	return u.CurrentStep > len(u.TaskCompleted)
}

func (u *User) HasWallet() bool {
	return u.WalletAddress != ""
}

// TaskStatus returns the status of the task at the 1-based position.
func (u *User) TaskStatus(position int) TaskStatus {
	if position < 1 || position > len(u.TaskCompleted) {
		return TaskStatusPending
	}
	if u.TaskCompleted[position-1] {
		return TaskStatusDone
	}
	if position == u.CurrentStep {
		return TaskStatusCurrent
	}
	return TaskStatusPending
}
