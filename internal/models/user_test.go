package models

import (
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestUserDisplayName_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		user := &User{
			ID:        rapid.Int64().Draw(t, "id"),
			FirstName: rapid.String().Draw(t, "firstName"),
			Username:  rapid.String().Draw(t, "username"),
		}

		result := user.DisplayName()

		idStr := fmt.Sprintf("[%d]", user.ID)
		if !strings.Contains(result, idStr) {
			t.Fatalf("DisplayName must always contain user_id: got %q, expected to contain %q", result, idStr)
		}

		if user.FirstName != "" && !strings.Contains(result, user.FirstName) {
			t.Fatalf("DisplayName must contain first_name when non-empty: got %q", result)
		}

		if user.Username != "" && !strings.Contains(result, "@"+user.Username) {
			t.Fatalf("DisplayName must contain @username when non-empty: got %q", result)
		}
	})
}

func TestUserTaskStatus_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "taskCount")
		flags := rapid.SliceOfN(rapid.Bool(), n, n).Draw(t, "flags")
		step := rapid.IntRange(1, n+1).Draw(t, "step")
		user := &User{CurrentStep: step, TaskCompleted: flags}

		done := 0
		for pos := 1; pos <= n; pos++ {
			status := user.TaskStatus(pos)
			switch {
			case flags[pos-1]:
				if status != TaskStatusDone {
					t.Fatalf("position %d completed but status %s", pos, status)
				}
				done++
			case pos == step:
				if status != TaskStatusCurrent {
					t.Fatalf("position %d is the current step but status %s", pos, status)
				}
			default:
				if status != TaskStatusPending {
					t.Fatalf("position %d expected pending, got %s", pos, status)
				}
			}
		}

		if user.CompletedCount() != done {
			t.Fatalf("CompletedCount = %d, want %d", user.CompletedCount(), done)
		}
		if user.IsFinished() != (step == n+1) {
			t.Fatalf("IsFinished = %v for step %d of %d", user.IsFinished(), step, n)
		}
		if user.TaskStatus(0) != TaskStatusPending || user.TaskStatus(n+1) != TaskStatusPending {
			t.Fatalf("out-of-range positions must be pending")
		}
	})
}

func TestAdminStatsCompletionRate(t *testing.T) {
	empty := &AdminStats{}
	if empty.CompletionRate() != 0 {
		t.Errorf("expected 0 for no users, got %v", empty.CompletionRate())
	}

	stats := &AdminStats{TotalUsers: 8, CompletedAll: 2}
	if stats.CompletionRate() != 25 {
		t.Errorf("expected 25, got %v", stats.CompletionRate())
	}
}
