package db

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrQueueClosed = errors.New("db queue closed")

type DBTask struct {
	Exec func(*sql.DB) (interface{}, error)
	Resp chan DBResult
}

type DBResult struct {
	Data interface{}
	Err  error
}

// DBQueue runs every task on a single worker goroutine, so writes to the
// store never interleave. Failed tasks are retried with linear backoff unless
// the error is permanent.
type DBQueue struct {
	tasks      chan DBTask
	db         *sql.DB
	maxRetry   int
	retryDelay time.Duration
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type QueueOption func(*DBQueue)

func WithRetry(maxRetry int, delay time.Duration) QueueOption {
	return func(q *DBQueue) {
		if maxRetry > 0 {
			q.maxRetry = maxRetry
		}
		q.retryDelay = delay
	}
}

func WithQueueLogger(logger *zap.Logger) QueueOption {
	return func(q *DBQueue) {
		q.logger = logger
	}
}

func NewDBQueue(db *sql.DB, opts ...QueueOption) *DBQueue {
	q := &DBQueue{
		tasks:      make(chan DBTask, 100),
		db:         db,
		maxRetry:   3,
		retryDelay: 100 * time.Millisecond,
		logger:     zap.NewNop(),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.worker()
	return q
}

func NewDBQueueForTest(db *sql.DB) *DBQueue {
	return NewDBQueue(db, WithRetry(3, time.Millisecond))
}

// Execute runs task on the worker and waits for its result.
func (q *DBQueue) Execute(task func(*sql.DB) (interface{}, error)) (interface{}, error) {
	resp := make(chan DBResult, 1)

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	q.tasks <- DBTask{Exec: task, Resp: resp}
	q.mu.RUnlock()

	result := <-resp
	return result.Data, result.Err
}

func (q *DBQueue) worker() {
	defer close(q.done)
	for task := range q.tasks {
		task.Resp <- q.executeWithRetry(task)
	}
}

func (q *DBQueue) executeWithRetry(task DBTask) DBResult {
	var lastErr error
	for attempt := 0; attempt < q.maxRetry; attempt++ {
		data, err := task.Exec(q.db)
		if err == nil {
			return DBResult{Data: data}
		}
		lastErr = err

		if isPermanent(err) {
			break
		}

		q.logger.Warn("db task failed", zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt < q.maxRetry-1 {
			time.Sleep(time.Duration(attempt+1) * q.retryDelay)
		}
	}
	return DBResult{Err: lastErr}
}

// Close stops accepting tasks and waits for queued ones to finish.
// It is safe to call more than once.
func (q *DBQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *DBQueue) DB() *sql.DB {
	return q.db
}

func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
