package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ad/go-telegram-airdrop/internal/catalog"
	"github.com/ad/go-telegram-airdrop/internal/config"
	"github.com/ad/go-telegram-airdrop/internal/db"
	"github.com/ad/go-telegram-airdrop/internal/handlers"
	"github.com/ad/go-telegram-airdrop/internal/logging"
	"github.com/ad/go-telegram-airdrop/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireBotToken(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tasks, err := catalog.Load(cfg.TasksFile)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlDB.Close()

	if err := db.InitSchema(sqlDB); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	dbQueue := db.NewDBQueue(sqlDB, db.WithQueueLogger(logger))
	defer dbQueue.Close()

	userRepo := db.NewUserRepository(dbQueue, tasks.Count())
	chatStateRepo := db.NewChatStateRepository(dbQueue)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	opts := []bot.Option{
		bot.WithHTTPClient(15*time.Second, httpClient),
		bot.WithErrorsHandler(func(err error) {
			logger.Warn("telegram api error", zap.Error(err))
		}),
	}
	if cfg.Webhook.Secret != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.Webhook.Secret))
	}

	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	botInfo, err := getMeWithRetry(b, logger)
	if err != nil {
		return err
	}

	admins := services.NewAdminAccess(cfg.Admins)
	statsService := services.NewStatisticsService(userRepo)
	engine := services.NewProgressEngine(tasks, userRepo, statsService, admins, logger)
	errorManager := services.NewErrorManager(b, cfg.AdminChatID, logger)
	msgManager := services.NewMessageManager(b, chatStateRepo, errorManager, logger)

	handler := handlers.NewBotHandler(engine, msgManager, errorManager, logger)

	b.RegisterHandlerMatchFunc(func(update *tgmodels.Update) bool {
		return true
	}, handler.HandleUpdate, handlers.LogMiddleware(logger))

	if _, err := b.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: botCommands()}); err != nil {
		logger.Warn("failed to set bot commands", zap.Error(err))
	}

	logger.Info("bot started",
		zap.String("username", botInfo.Username),
		zap.String("db", cfg.DBPath),
		zap.Int("tasks", tasks.Count()),
		zap.Strings("admins", admins.Handles()),
		zap.Bool("webhook", cfg.WebhookEnabled()))

	if !cfg.WebhookEnabled() {
		if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			logger.Warn("failed to delete webhook", zap.Error(err))
		}
		b.Start(ctx)
		return nil
	}

	return runWebhook(ctx, b, cfg, logger)
}

func runWebhook(ctx context.Context, b *bot.Bot, cfg *config.Config, logger *zap.Logger) error {
	if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         cfg.Webhook.URL,
		SecretToken: cfg.Webhook.Secret,
	}); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}

	go b.StartWebhook(ctx)

	server := &http.Server{
		Addr:              cfg.Webhook.Listen,
		Handler:           b.WebhookHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening for webhook updates", zap.String("addr", cfg.Webhook.Listen))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

func getMeWithRetry(b *bot.Bot, logger *zap.Logger) (*tgmodels.User, error) {
	var botInfo *tgmodels.User
	var err error
	for i := 0; i < 3; i++ {
		logger.Info("connecting to Telegram API", zap.Int("attempt", i+1))
		getMeCtx, getMeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		botInfo, err = b.GetMe(getMeCtx)
		getMeCancel()
		if err == nil {
			return botInfo, nil
		}
		logger.Warn("failed to get bot info", zap.Int("attempt", i+1), zap.Error(err))
		if i < 2 {
			time.Sleep(2 * time.Second)
		}
	}
	return nil, fmt.Errorf("failed to get bot info after 3 attempts: %w", err)
}

func botCommands() []tgmodels.BotCommand {
	return []tgmodels.BotCommand{
		{Command: "start", Description: "Start or continue the airdrop tasks"},
		{Command: "progress", Description: "Show your progress"},
		{Command: "reset", Description: "Start over from the first task"},
		{Command: "stats", Description: "Admin statistics"},
	}
}
