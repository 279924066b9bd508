package services

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"
	"pgregory.net/rapid"

	"github.com/ad/go-telegram-airdrop/internal/catalog"
	"github.com/ad/go-telegram-airdrop/internal/db"
	"github.com/ad/go-telegram-airdrop/internal/models"
)

var testDBCounter int64

type fataler interface {
	Fatalf(format string, args ...any)
}

type testEnv struct {
	engine  *ProgressEngine
	repo    *db.UserRepository
	catalog *catalog.Catalog
	cleanup func()
}

func testCatalog(t fataler, n int) *catalog.Catalog {
	tasks := make([]models.Task, n)
	for i := range tasks {
		tasks[i] = models.Task{
			Name:        fmt.Sprintf("Task %c", 'A'+i),
			Description: fmt.Sprintf("Do thing %d", i+1),
			URL:         fmt.Sprintf("https://example.com/%d", i+1),
			ButtonText:  fmt.Sprintf("Done %d", i+1),
		}
	}
	c, err := catalog.New(models.Campaign{Title: "Earn", Reward: "100 TKN"}, tasks)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func setupEngine(t fataler, n int) *testEnv {
	id := atomic.AddInt64(&testDBCounter, 1)
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("file:enginedb%d?mode=memory&cache=shared", id))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.InitSchema(sqlDB); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	queue := db.NewDBQueueForTest(sqlDB)
	c := testCatalog(t, n)
	repo := db.NewUserRepository(queue, c.Count())
	admins := NewAdminAccess([]string{"@boss"})
	engine := NewProgressEngine(c, repo, NewStatisticsService(repo), admins, zap.NewNop())

	return &testEnv{
		engine:  engine,
		repo:    repo,
		catalog: c,
		cleanup: func() {
			queue.Close()
			sqlDB.Close()
		},
	}
}

var alice = models.Identity{ID: 1001, FirstName: "Alice", Username: "alice"}

func (env *testEnv) user(t fataler, id int64) *models.User {
	u, err := env.repo.Get(id)
	if err != nil {
		t.Fatalf("get user %d: %v", id, err)
	}
	return u
}

func TestVerifyAtCurrentStep_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "taskCount")
		k := rapid.IntRange(1, n).Draw(t, "k")

		env := setupEngine(t, n)
		defer env.cleanup()

		if _, err := env.engine.Start(alice); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := env.engine.Navigate(alice, k); err != nil {
			t.Fatalf("Navigate(%d): %v", k, err)
		}
		if _, err := env.engine.Verify(alice, k); err != nil {
			t.Fatalf("Verify(%d): %v", k, err)
		}

		u := env.user(t, alice.ID)
		if !u.TaskCompleted[k-1] {
			t.Fatalf("task %d not completed", k)
		}
		want := k + 1
		if want > n+1 {
			want = n + 1
		}
		if u.CurrentStep != want {
			t.Fatalf("step = %d, want %d", u.CurrentStep, want)
		}
	})
}

func TestReset_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "taskCount")
		env := setupEngine(t, n)
		defer env.cleanup()

		if _, err := env.engine.Start(alice); err != nil {
			t.Fatalf("Start: %v", err)
		}

		steps := rapid.IntRange(0, 15).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			pos := rapid.IntRange(-1, n+2).Draw(t, "pos")
			var err error
			switch rapid.IntRange(0, 2).Draw(t, "action") {
			case 0:
				_, err = env.engine.Verify(alice, pos)
			case 1:
				_, err = env.engine.Navigate(alice, pos)
			case 2:
				_, err = env.engine.FreeText(alice, "0x52908400098527886E0F7030069857D2E4169EE7")
			}
			if err != nil {
				t.Fatalf("action failed: %v", err)
			}
		}

		if _, err := env.engine.Reset(alice); err != nil {
			t.Fatalf("Reset: %v", err)
		}
		once := env.user(t, alice.ID)

		if _, err := env.engine.Reset(alice); err != nil {
			t.Fatalf("second Reset: %v", err)
		}
		twice := env.user(t, alice.ID)

		if once.CurrentStep != 1 {
			t.Fatalf("step after reset = %d", once.CurrentStep)
		}
		if once.CompletedCount() != 0 || len(once.TaskCompleted) != n {
			t.Fatalf("flags after reset = %v", once.TaskCompleted)
		}
		if once.HasWallet() {
			t.Fatalf("wallet survived reset")
		}
		if diff := cmp.Diff(once.TaskCompleted, twice.TaskCompleted); diff != "" || once.CurrentStep != twice.CurrentStep {
			t.Fatalf("reset is not idempotent: %s", diff)
		}
	})
}

func TestStartTwice_KeepsSingleRecord(t *testing.T) {
	env := setupEngine(t, 3)
	defer env.cleanup()

	first, err := env.engine.Start(alice)
	require.NoError(t, err)
	joined := env.user(t, alice.ID).JoinedAt

	second, err := env.engine.Start(models.Identity{ID: alice.ID, FirstName: "Alicia", Username: "alicia"})
	require.NoError(t, err)

	u := env.user(t, alice.ID)
	assert.True(t, u.JoinedAt.Equal(joined))
	assert.Equal(t, "alicia", u.Username)
	assert.Empty(t, cmp.Diff(first, second))

	total, err := env.repo.CountAll()
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestConcurrentDuplicateVerify_AdvancesOnce(t *testing.T) {
	env := setupEngine(t, 5)
	defer env.cleanup()

	_, err := env.engine.Start(alice)
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := env.engine.Verify(alice, 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	u := env.user(t, alice.ID)
	assert.Equal(t, 2, u.CurrentStep)
	assert.Equal(t, []bool{true, false, false, false, false}, u.TaskCompleted)
}

func TestScenario_CompleteAllInOrder(t *testing.T) {
	env := setupEngine(t, 5)
	defer env.cleanup()

	view, err := env.engine.Start(alice)
	require.NoError(t, err)
	assert.Contains(t, view.Text, "Current Task 1: Task A")

	for k := 1; k <= 5; k++ {
		view, err = env.engine.Verify(alice, k)
		require.NoError(t, err)
		if k < 5 {
			assert.Contains(t, view.Text, fmt.Sprintf("Current Task %d:", k+1))
		}
	}
	assert.Contains(t, view.Text, "All Tasks Completed")

	u := env.user(t, alice.ID)
	assert.Equal(t, 6, u.CurrentStep)
	assert.Equal(t, 5, u.CompletedCount())

	progress, err := env.engine.QueryProgress(alice)
	require.NoError(t, err)
	assert.Contains(t, progress.Text, "Completed: 5/5")
	assert.Contains(t, progress.Text, "All tasks completed! Contact admins")
	assert.Contains(t, progress.Text, "@boss")

	again, err := env.engine.Start(alice)
	require.NoError(t, err)
	assert.Contains(t, again.Text, "All Tasks Completed")
}

func TestScenario_NavigateThenVerify(t *testing.T) {
	env := setupEngine(t, 5)
	defer env.cleanup()

	_, err := env.engine.Start(alice)
	require.NoError(t, err)

	view, err := env.engine.Navigate(alice, 3)
	require.NoError(t, err)
	assert.Contains(t, view.Text, "Current Task 3: Task C")

	_, err = env.engine.Verify(alice, 3)
	require.NoError(t, err)

	u := env.user(t, alice.ID)
	assert.Equal(t, []bool{false, false, true, false, false}, u.TaskCompleted)
	assert.Equal(t, 4, u.CurrentStep)
}

// A stale button for task 3 pressed while the user is on step 1 records the
// task but does not move the step.
func TestScenario_VerifyOffCurrentStep_DoesNotAdvance(t *testing.T) {
	env := setupEngine(t, 5)
	defer env.cleanup()

	_, err := env.engine.Start(alice)
	require.NoError(t, err)

	view, err := env.engine.Verify(alice, 3)
	require.NoError(t, err)
	assert.Contains(t, view.Text, "Current Task 1: Task A")
	assert.Contains(t, view.Text, "✅ Task 3: Task C")

	u := env.user(t, alice.ID)
	assert.Equal(t, []bool{false, false, true, false, false}, u.TaskCompleted)
	assert.Equal(t, 1, u.CurrentStep)
}

func TestVerify_OutOfRangeIsNoop(t *testing.T) {
	env := setupEngine(t, 3)
	defer env.cleanup()

	for _, k := range []int{-1, 0, 4, 99} {
		view, err := env.engine.Verify(alice, k)
		require.NoError(t, err)
		assert.Contains(t, view.Text, "Current Task 1:")
	}

	u := env.user(t, alice.ID)
	assert.Equal(t, 1, u.CurrentStep)
	assert.Equal(t, 0, u.CompletedCount())
}

func TestNavigate_Clamps(t *testing.T) {
	env := setupEngine(t, 3)
	defer env.cleanup()

	_, err := env.engine.Navigate(alice, -4)
	require.NoError(t, err)
	assert.Equal(t, 1, env.user(t, alice.ID).CurrentStep)

	view, err := env.engine.Navigate(alice, 99)
	require.NoError(t, err)
	assert.Equal(t, 4, env.user(t, alice.ID).CurrentStep)
	assert.Contains(t, view.Text, "All Tasks Completed")
}

func TestTaskView_Actions(t *testing.T) {
	env := setupEngine(t, 3)
	defer env.cleanup()

	view, err := env.engine.Navigate(alice, 2)
	require.NoError(t, err)

	want := []Action{
		{Label: "🔗 Open Link", URL: "https://example.com/2"},
		{Label: "Done 2", Ref: ActionRef{Kind: ActionVerify, Position: 2}},
		{Label: "◀️ Previous Task", Ref: ActionRef{Kind: ActionTask, Position: 1}},
	}
	if diff := cmp.Diff(want, view.Actions); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}

	first, err := env.engine.Navigate(alice, 1)
	require.NoError(t, err)
	assert.Len(t, first.Actions, 2, "first task has no previous button")
}

func TestReset_ShowsFirstTask(t *testing.T) {
	env := setupEngine(t, 3)
	defer env.cleanup()

	_, err := env.engine.Verify(alice, 1)
	require.NoError(t, err)

	view, err := env.engine.Reset(alice)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(view.Text, "🔄 Your progress has been reset."))
	assert.Contains(t, view.Text, "Current Task 1:")
	assert.Equal(t, ActionRef{Kind: ActionVerify, Position: 1}, view.Actions[1].Ref)
}

func TestFreeText_WalletCapture(t *testing.T) {
	env := setupEngine(t, 2)
	defer env.cleanup()

	start, err := env.engine.Start(alice)
	require.NoError(t, err)

	view, err := env.engine.FreeText(alice, "hello")
	require.NoError(t, err)
	if diff := cmp.Diff(start, view); diff != "" {
		t.Errorf("non-wallet text should re-show the current step (-start +got):\n%s", diff)
	}

	const wallet = "0x52908400098527886E0F7030069857D2E4169EE7"
	view, err = env.engine.FreeText(alice, "  "+wallet+"  ")
	require.NoError(t, err)
	assert.Contains(t, view.Text, "Wallet address saved")
	assert.Equal(t, wallet, env.user(t, alice.ID).WalletAddress)

	view, err = env.engine.FreeText(alice, "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq")
	require.NoError(t, err)
	assert.Contains(t, view.Text, "already recorded")
	assert.Equal(t, wallet, env.user(t, alice.ID).WalletAddress)

	for k := 1; k <= 2; k++ {
		_, err = env.engine.Verify(alice, k)
		require.NoError(t, err)
	}
	done, err := env.engine.Start(alice)
	require.NoError(t, err)
	assert.Contains(t, done.Text, "Wallet on record")
}

func TestFreeText_LongWalletKeepsValidUTF8(t *testing.T) {
	env := setupEngine(t, 2)
	defer env.cleanup()

	view, err := env.engine.FreeText(alice, "0x1"+strings.Repeat("é", 200))
	require.NoError(t, err)

	stored := env.user(t, alice.ID).WalletAddress
	assert.True(t, utf8.ValidString(stored), "stored wallet must be valid UTF-8")
	assert.True(t, utf8.ValidString(view.Text))
	assert.LessOrEqual(t, len(stored), 256)
	assert.Equal(t, "0x1"+strings.Repeat("é", 126), stored)

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 400, -1).Draw(t, "text")
		trimmed := trimWallet(text)
		if utf8.ValidString(text) && !utf8.ValidString(trimmed) {
			t.Fatalf("trimWallet(%q) produced invalid UTF-8", text)
		}
		if len(trimmed) > 256 {
			t.Fatalf("trimWallet kept %d bytes", len(trimmed))
		}
	})
}

func TestAdminStats(t *testing.T) {
	env := setupEngine(t, 2)
	defer env.cleanup()
	env.engine.WithClock(func() time.Time { return time.Now().Add(time.Hour) })

	_, err := env.engine.AdminStats("@alice")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, UnauthorizedView(), ViewForError(err))

	_, err = env.engine.AdminStats("")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.engine.Start(alice)
	require.NoError(t, err)
	_, err = env.engine.Start(models.Identity{ID: 2, Username: "bob"})
	require.NoError(t, err)
	for k := 1; k <= 2; k++ {
		_, err = env.engine.Verify(alice, k)
		require.NoError(t, err)
	}

	view, err := env.engine.AdminStats("BOSS")
	require.NoError(t, err)
	assert.Contains(t, view.Text, "Total Users: 2")
	assert.Contains(t, view.Text, "Completed All Tasks: 1")
	assert.Contains(t, view.Text, "Completion Rate: 50.0%")
	assert.Contains(t, view.Text, "Joined Today: 2")
	assert.Contains(t, view.Text, "• @alice - finished 1 hour ago")
	assert.Contains(t, view.Text, "• @bob - joined 1 hour ago")
}

func TestDispatch(t *testing.T) {
	env := setupEngine(t, 3)
	defer env.cleanup()

	view, err := env.engine.Dispatch(alice, ActionRef{Kind: ActionVerify, Position: 1})
	require.NoError(t, err)
	assert.Contains(t, view.Text, "Current Task 2:")

	view, err = env.engine.Dispatch(alice, ActionRef{Kind: ActionTask, Position: 1})
	require.NoError(t, err)
	assert.Contains(t, view.Text, "Current Task 1:")

	view, err = env.engine.Dispatch(alice, ActionRef{Kind: ActionProgress})
	require.NoError(t, err)
	assert.Contains(t, view.Text, "Completed: 1/3")

	view, err = env.engine.Dispatch(alice, ActionRef{Kind: ActionReset})
	require.NoError(t, err)
	assert.Contains(t, view.Text, "has been reset")
}

// failingStore fails the chosen operation and records what was attempted.
type failingStore struct {
	UserStore
	failOn string
	gets   int
}

var errStoreDown = errors.New("store down")

func (s *failingStore) GetOrCreate(identity models.Identity) (*models.User, error) {
	if s.failOn == "get_or_create" {
		return nil, &db.StorageError{Op: "get_or_create", Err: errStoreDown}
	}
	return s.UserStore.GetOrCreate(identity)
}

func (s *failingStore) Get(userID int64) (*models.User, error) {
	s.gets++
	return s.UserStore.Get(userID)
}

func (s *failingStore) MarkTaskComplete(userID int64, position int) (bool, error) {
	if s.failOn == "mark_task_complete" {
		return false, &db.StorageError{Op: "mark_task_complete", Err: errStoreDown}
	}
	return s.UserStore.MarkTaskComplete(userID, position)
}

func (s *failingStore) SetStep(userID int64, step int) error {
	if s.failOn == "set_step" {
		return &db.StorageError{Op: "set_step", Err: errStoreDown}
	}
	return s.UserStore.SetStep(userID, step)
}

func (s *failingStore) SetWallet(userID int64, address string) (bool, error) {
	if s.failOn == "set_wallet" {
		return false, &db.StorageError{Op: "set_wallet", Err: errStoreDown}
	}
	return s.UserStore.SetWallet(userID, address)
}

func (s *failingStore) Reset(userID int64) error {
	if s.failOn == "reset" {
		return &db.StorageError{Op: "reset", Err: errStoreDown}
	}
	return s.UserStore.Reset(userID)
}

func TestStorageFailure_NoViewAndNoStateChange(t *testing.T) {
	for _, op := range []string{"get_or_create", "mark_task_complete", "reset", "set_step", "set_wallet"} {
		t.Run(op, func(t *testing.T) {
			env := setupEngine(t, 3)
			defer env.cleanup()

			_, err := env.engine.Verify(alice, 1)
			require.NoError(t, err)
			before := env.user(t, alice.ID)

			store := &failingStore{UserStore: env.repo, failOn: op}
			engine := NewProgressEngine(env.catalog, store, NewStatisticsService(env.repo), NewAdminAccess(nil), zap.NewNop())

			var view *View
			switch op {
			case "reset":
				view, err = engine.Reset(alice)
			case "set_step":
				view, err = engine.Navigate(alice, 3)
			case "set_wallet":
				view, err = engine.FreeText(alice, "0x52908400098527886E0F7030069857D2E4169EE7")
			default:
				view, err = engine.Verify(alice, 2)
			}

			require.Error(t, err)
			assert.Nil(t, view)
			var storageErr *db.StorageError
			assert.True(t, errors.As(err, &storageErr))
			assert.Equal(t, FailureView(), ViewForError(err))
			assert.Equal(t, 0, store.gets, "no state may be read back after a failed write")

			after := env.user(t, alice.ID)
			assert.Equal(t, before.CurrentStep, after.CurrentStep)
			assert.Equal(t, before.TaskCompleted, after.TaskCompleted)
			assert.Equal(t, before.WalletAddress, after.WalletAddress)
		})
	}
}
