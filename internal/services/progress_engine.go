package services

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ad/go-telegram-airdrop/internal/catalog"
	"github.com/ad/go-telegram-airdrop/internal/models"
)

type UserStore interface {
	GetOrCreate(identity models.Identity) (*models.User, error)
	Get(userID int64) (*models.User, error)
	SetStep(userID int64, step int) error
	MarkTaskComplete(userID int64, position int) (bool, error)
	SetWallet(userID int64, address string) (bool, error)
	Reset(userID int64) error
}

// ProgressEngine applies inbound actions to a user's record and returns the
// view to show. Every action except AdminStats starts with GetOrCreate, so
// a missing record is never an error for users. State shown after a write is
// always re-read from the store.
type ProgressEngine struct {
	catalog  *catalog.Catalog
	store    UserStore
	stats    *StatisticsService
	admins   *AdminAccess
	renderer *Renderer
	logger   *zap.Logger
	now      func() time.Time
}

func NewProgressEngine(
	c *catalog.Catalog,
	store UserStore,
	stats *StatisticsService,
	admins *AdminAccess,
	logger *zap.Logger,
) *ProgressEngine {
	return &ProgressEngine{
		catalog:  c,
		store:    store,
		stats:    stats,
		admins:   admins,
		renderer: NewRenderer(c, admins),
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source used for relative times. Used by tests.
func (e *ProgressEngine) WithClock(now func() time.Time) *ProgressEngine {
	e.now = now
	return e
}

func (e *ProgressEngine) Renderer() *Renderer {
	return e.renderer
}

func (e *ProgressEngine) Start(identity models.Identity) (*View, error) {
	user, err := e.store.GetOrCreate(identity)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return e.renderer.StepView(user, user.CurrentStep), nil
}

// Navigate moves the user to position k without requiring earlier tasks.
// k is clamped to [1, N+1]; N+1 shows the completion view.
func (e *ProgressEngine) Navigate(identity models.Identity, k int) (*View, error) {
	user, err := e.store.GetOrCreate(identity)
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	k = e.clampStep(k)
	if k != user.CurrentStep {
		if err := e.store.SetStep(user.ID, k); err != nil {
			return nil, fmt.Errorf("navigate: %w", err)
		}
		user.CurrentStep = k
	}
	return e.renderer.StepView(user, k), nil
}

// Verify marks task k as done. The step advances only when k is the user's
// current step; verifying any other valid task just records it.
// Positions outside the catalog are ignored.
func (e *ProgressEngine) Verify(identity models.Identity, k int) (*View, error) {
	user, err := e.store.GetOrCreate(identity)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	if k < 1 || k > e.catalog.Count() {
		e.logger.Debug("verify ignored, position out of range",
			zap.Int64("user_id", user.ID), zap.Int("position", k))
		return e.renderer.StepView(user, user.CurrentStep), nil
	}

	advanced, err := e.store.MarkTaskComplete(user.ID, k)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	user, err = e.store.Get(user.ID)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	e.logger.Info("task verified",
		zap.Int64("user_id", user.ID),
		zap.Int("position", k),
		zap.Bool("advanced", advanced),
		zap.Int("current_step", user.CurrentStep))

	if advanced && user.IsFinished() {
		e.logger.Info("all tasks completed", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	}

	return e.renderer.StepView(user, user.CurrentStep), nil
}

func (e *ProgressEngine) Reset(identity models.Identity) (*View, error) {
	user, err := e.store.GetOrCreate(identity)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	if err := e.store.Reset(user.ID); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	user, err = e.store.Get(user.ID)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	e.logger.Info("progress reset", zap.Int64("user_id", user.ID))
	return e.renderer.ResetView(user), nil
}

func (e *ProgressEngine) QueryProgress(identity models.Identity) (*View, error) {
	user, err := e.store.GetOrCreate(identity)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	return e.renderer.ProgressView(user), nil
}

// FreeText offers the text to wallet capture first. Anything that is not a
// wallet re-shows the user's current step.
func (e *ProgressEngine) FreeText(identity models.Identity, text string) (*View, error) {
	user, err := e.store.GetOrCreate(identity)
	if err != nil {
		return nil, fmt.Errorf("free text: %w", err)
	}

	if ClassifyWallet(text) == NotWallet {
		return e.renderer.StepView(user, user.CurrentStep), nil
	}

	stored, err := e.store.SetWallet(user.ID, trimWallet(text))
	if err != nil {
		return nil, fmt.Errorf("free text: %w", err)
	}

	user, err = e.store.Get(user.ID)
	if err != nil {
		return nil, fmt.Errorf("free text: %w", err)
	}

	if !stored {
		return e.renderer.WalletKnownView(user), nil
	}

	e.logger.Info("wallet recorded", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return e.renderer.WalletSavedView(user), nil
}

// AdminStats returns aggregate counters. Non-admins get ErrUnauthorized and
// nothing else.
func (e *ProgressEngine) AdminStats(requestingHandle string) (*View, error) {
	if !e.admins.IsAdmin(requestingHandle) {
		e.logger.Warn("stats requested by non-admin", zap.String("handle", requestingHandle))
		return nil, ErrUnauthorized
	}

	stats, err := e.stats.Collect()
	if err != nil {
		return nil, fmt.Errorf("admin stats: %w", err)
	}
	return e.renderer.StatsView(stats, e.now()), nil
}

// Dispatch routes a button press to its action.
func (e *ProgressEngine) Dispatch(identity models.Identity, ref ActionRef) (*View, error) {
	switch ref.Kind {
	case ActionVerify:
		return e.Verify(identity, ref.Position)
	case ActionTask:
		return e.Navigate(identity, ref.Position)
	case ActionProgress:
		return e.QueryProgress(identity)
	case ActionReset:
		return e.Reset(identity)
	}
	return e.Start(identity)
}

func (e *ProgressEngine) clampStep(k int) int {
	if k < 1 {
		return 1
	}
	if last := e.catalog.Count() + 1; k > last {
		return last
	}
	return k
}

func trimWallet(text string) string {
	const maxWalletLength = 256
	text = strings.TrimSpace(text)
	if len(text) <= maxWalletLength {
		return text
	}
	cut := maxWalletLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
