package db

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

var testDBCounter int64

type fataler interface {
	Fatalf(format string, args ...any)
}

// openTestDB opens a private in-memory database with the schema applied.
func openTestDB(t fataler) *sql.DB {
	n := atomic.AddInt64(&testDBCounter, 1)
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", n))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := InitSchema(sqlDB); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return sqlDB
}

func setupTestRepo(t fataler, taskCount int) (*UserRepository, *fakeClock, func()) {
	sqlDB := openTestDB(t)
	queue := NewDBQueueForTest(sqlDB)
	clock := newFakeClock()
	repo := NewUserRepository(queue, taskCount).WithClock(clock.Now)
	return repo, clock, func() {
		queue.Close()
		sqlDB.Close()
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
