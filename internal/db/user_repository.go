package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ad/go-telegram-airdrop/internal/models"
)

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

// UserRepository persists one record per user plus the set of completed
// task positions. taskCount is the size of the catalog the flags are sized to.
type UserRepository struct {
	queue     *DBQueue
	taskCount int
	now       func() time.Time
}

func NewUserRepository(queue *DBQueue, taskCount int) *UserRepository {
	return &UserRepository{
		queue:     queue,
		taskCount: taskCount,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (r *UserRepository) WithClock(now func() time.Time) *UserRepository {
	r.now = now
	return r
}

func (r *UserRepository) TaskCount() int {
	return r.taskCount
}

func (r *UserRepository) timestamp() time.Time {
	return r.now().UTC()
}

// GetOrCreate returns the user's record, creating it on first contact.
// An existing record only gets its name fields and last_active_at refreshed.
func (r *UserRepository) GetOrCreate(identity models.Identity) (*models.User, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		var user *models.User
		err := withTx(db, func(tx *sql.Tx) error {
			now := r.timestamp()
			_, err := tx.Exec(`
				INSERT INTO users (user_id, username, first_name, current_step, joined_at, last_active_at)
				VALUES (?, ?, ?, 1, ?, ?)
				ON CONFLICT(user_id) DO UPDATE SET
					username = excluded.username,
					first_name = excluded.first_name,
					last_active_at = excluded.last_active_at
			`, identity.ID, identity.Username, identity.FirstName, now, now)
			if err != nil {
				return err
			}

			user, err = r.load(tx, identity.ID)
			return err
		})
		return user, err
	})
	if err != nil {
		return nil, wrapErr("get_or_create", err)
	}
	return result.(*models.User), nil
}

func (r *UserRepository) Get(userID int64) (*models.User, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		return r.load(db, userID)
	})
	if err != nil {
		return nil, wrapErr("get", err)
	}
	return result.(*models.User), nil
}

func (r *UserRepository) load(q queryer, userID int64) (*models.User, error) {
	row := q.QueryRow(`
		SELECT user_id, username, first_name, current_step, wallet_address, joined_at, last_active_at
		FROM users WHERE user_id = ?
	`, userID)

	var user models.User
	var username, firstName, wallet sql.NullString
	err := row.Scan(&user.ID, &username, &firstName, &user.CurrentStep, &wallet, &user.JoinedAt, &user.LastActiveAt)
	if err != nil {
		return nil, err
	}
	user.Username = username.String
	user.FirstName = firstName.String
	user.WalletAddress = wallet.String

	// A catalog shrunk between deployments must not leave the step beyond "finished".
	if user.CurrentStep > r.taskCount+1 {
		user.CurrentStep = r.taskCount + 1
	}
	if user.CurrentStep < 1 {
		user.CurrentStep = 1
	}

	user.TaskCompleted = make([]bool, r.taskCount)
	rows, err := q.Query(`
		SELECT task_position FROM user_task_completions
		WHERE user_id = ? AND task_position BETWEEN 1 AND ?
	`, userID, r.taskCount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var position int
		if err := rows.Scan(&position); err != nil {
			return nil, err
		}
		user.TaskCompleted[position-1] = true
	}
	return &user, rows.Err()
}

func (r *UserRepository) SetStep(userID int64, step int) error {
	if step < 1 || step > r.taskCount+1 {
		return fmt.Errorf("%w: step %d", ErrInvalidPosition, step)
	}

	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		res, err := db.Exec(`
			UPDATE users SET current_step = ?, last_active_at = ? WHERE user_id = ?
		`, step, r.timestamp(), userID)
		if err != nil {
			return nil, err
		}
		return nil, requireRow(res)
	})
	return wrapErr("set_step", err)
}

// MarkTaskComplete records the task as done. The step advances to position+1
// only when the user is currently on that position; the check and the update
// are one statement inside one transaction, so a duplicate call is a no-op.
func (r *UserRepository) MarkTaskComplete(userID int64, position int) (bool, error) {
	if position < 1 || position > r.taskCount {
		return false, fmt.Errorf("%w: task %d", ErrInvalidPosition, position)
	}

	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		advanced := false
		err := withTx(db, func(tx *sql.Tx) error {
			now := r.timestamp()
			res, err := tx.Exec(`UPDATE users SET last_active_at = ? WHERE user_id = ?`, now, userID)
			if err != nil {
				return err
			}
			if err := requireRow(res); err != nil {
				return err
			}

			_, err = tx.Exec(`
				INSERT OR IGNORE INTO user_task_completions (user_id, task_position, completed_at)
				VALUES (?, ?, ?)
			`, userID, position, now)
			if err != nil {
				return err
			}

			res, err = tx.Exec(`
				UPDATE users SET current_step = ? WHERE user_id = ? AND current_step = ?
			`, position+1, userID, position)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			advanced = n == 1
			return nil
		})
		return advanced, err
	})
	if err != nil {
		return false, wrapErr("mark_task_complete", err)
	}
	return result.(bool), nil
}

// SetWallet stores the address unless one is already recorded for the
// current epoch. It reports whether the address was stored.
func (r *UserRepository) SetWallet(userID int64, address string) (bool, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		stored := false
		err := withTx(db, func(tx *sql.Tx) error {
			res, err := tx.Exec(`UPDATE users SET last_active_at = ? WHERE user_id = ?`, r.timestamp(), userID)
			if err != nil {
				return err
			}
			if err := requireRow(res); err != nil {
				return err
			}

			res, err = tx.Exec(`
				UPDATE users SET wallet_address = ?
				WHERE user_id = ? AND (wallet_address IS NULL OR wallet_address = '')
			`, address, userID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			stored = n == 1
			return nil
		})
		return stored, err
	})
	if err != nil {
		return false, wrapErr("set_wallet", err)
	}
	return result.(bool), nil
}

// Reset starts a new epoch: all completions and the wallet are cleared and
// the step returns to 1. joined_at is kept.
func (r *UserRepository) Reset(userID int64) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		return nil, withTx(db, func(tx *sql.Tx) error {
			res, err := tx.Exec(`
				UPDATE users SET current_step = 1, wallet_address = NULL, last_active_at = ?
				WHERE user_id = ?
			`, r.timestamp(), userID)
			if err != nil {
				return err
			}
			if err := requireRow(res); err != nil {
				return err
			}

			_, err = tx.Exec(`DELETE FROM user_task_completions WHERE user_id = ?`, userID)
			return err
		})
	})
	return wrapErr("reset", err)
}

func (r *UserRepository) Touch(userID int64) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		res, err := db.Exec(`UPDATE users SET last_active_at = ? WHERE user_id = ?`, r.timestamp(), userID)
		if err != nil {
			return nil, err
		}
		return nil, requireRow(res)
	})
	return wrapErr("touch", err)
}

func (r *UserRepository) CountAll() (int, error) {
	return r.count("count_all", `SELECT COUNT(*) FROM users`)
}

func (r *UserRepository) CountWithAllTasksComplete() (int, error) {
	return r.count("count_completed", `
		SELECT COUNT(*) FROM (
			SELECT user_id FROM user_task_completions
			WHERE task_position BETWEEN 1 AND ?
			GROUP BY user_id
			HAVING COUNT(*) = ?
		)
	`, r.taskCount, r.taskCount)
}

// CountCreatedToday counts users that joined since midnight UTC.
func (r *UserRepository) CountCreatedToday() (int, error) {
	now := r.timestamp()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return r.count("count_today", `SELECT COUNT(*) FROM users WHERE joined_at >= ?`, midnight)
}

func (r *UserRepository) CountWithWallet() (int, error) {
	return r.count("count_wallets", `
		SELECT COUNT(*) FROM users WHERE wallet_address IS NOT NULL AND wallet_address != ''
	`)
}

func (r *UserRepository) count(op, query string, args ...any) (int, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		var count int
		err := db.QueryRow(query, args...).Scan(&count)
		return count, err
	})
	if err != nil {
		return 0, wrapErr(op, err)
	}
	return result.(int), nil
}

// MostRecentCompleters returns up to limit users that finished every task,
// newest completion first.
func (r *UserRepository) MostRecentCompleters(limit int) ([]models.RecentUser, error) {
	if limit <= 0 {
		return nil, nil
	}
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		rows, err := db.Query(`
			SELECT u.user_id, u.username, u.joined_at, c.completed_at
			FROM users u
			JOIN user_task_completions c ON c.user_id = u.user_id
			WHERE c.completed_at = (
				SELECT MAX(c2.completed_at) FROM user_task_completions c2
				WHERE c2.user_id = u.user_id AND c2.task_position BETWEEN 1 AND ?
			)
			AND u.user_id IN (
				SELECT user_id FROM user_task_completions
				WHERE task_position BETWEEN 1 AND ?
				GROUP BY user_id
				HAVING COUNT(*) = ?
			)
			ORDER BY c.completed_at DESC, u.user_id DESC
		`, r.taskCount, r.taskCount, r.taskCount)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		seen := make(map[int64]bool)
		var users []models.RecentUser
		for rows.Next() {
			var u models.RecentUser
			var username sql.NullString
			var completedAt time.Time
			if err := rows.Scan(&u.UserID, &username, &u.JoinedAt, &completedAt); err != nil {
				return nil, err
			}
			// Several tasks may share the latest completion timestamp.
			if seen[u.UserID] {
				continue
			}
			seen[u.UserID] = true
			u.Username = username.String
			u.CompletedAt = &completedAt
			users = append(users, u)
			if len(users) == limit {
				break
			}
		}
		return users, rows.Err()
	})
	if err != nil {
		return nil, wrapErr("recent_completers", err)
	}
	return result.([]models.RecentUser), nil
}

// RecentUsers returns the newest users by join time.
func (r *UserRepository) RecentUsers(limit int) ([]models.RecentUser, error) {
	if limit <= 0 {
		return nil, nil
	}
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		rows, err := db.Query(`
			SELECT user_id, username, joined_at FROM users
			ORDER BY joined_at DESC, user_id DESC
			LIMIT ?
		`, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var users []models.RecentUser
		for rows.Next() {
			var u models.RecentUser
			var username sql.NullString
			if err := rows.Scan(&u.UserID, &username, &u.JoinedAt); err != nil {
				return nil, err
			}
			u.Username = username.String
			users = append(users, u)
		}
		return users, rows.Err()
	})
	if err != nil {
		return nil, wrapErr("recent_users", err)
	}
	return result.([]models.RecentUser), nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
