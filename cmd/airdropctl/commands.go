package main

import (
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ad/go-telegram-airdrop/internal/catalog"
	"github.com/ad/go-telegram-airdrop/internal/config"
	"github.com/ad/go-telegram-airdrop/internal/db"
	"github.com/ad/go-telegram-airdrop/internal/logging"
	"github.com/ad/go-telegram-airdrop/internal/services"
)

// Commands carrying this annotation run against a database whose schema
// may be behind.
const annotationSkipSchemaCheck = "skip-schema-check"

// app holds what a subcommand needs. It is opened in PersistentPreRunE and
// closed in PersistentPostRun.
type app struct {
	dbPath    string
	tasksFile string
	verbose   bool

	logger  *zap.Logger
	sqlDB   *sql.DB
	queue   *db.DBQueue
	catalog *catalog.Catalog
	users   *db.UserRepository
	now     func() time.Time
}

func newRootCmd() *cobra.Command {
	a := &app{now: time.Now}

	root := &cobra.Command{
		Use:           "airdropctl",
		Short:         "Operator tool for the airdrop task bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (default from DB_PATH)")
	root.PersistentFlags().StringVar(&a.tasksFile, "tasks", "", "task catalog YAML (default from TASKS_FILE, else built-in)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect or reset a single user",
	}
	userCmd.AddCommand(a.userShowCmd(), a.userResetCmd())

	root.AddCommand(a.statsCmd(), userCmd, a.tasksCmd(), a.migrateCmd())
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	if a.tasksFile != "" {
		cfg.TasksFile = a.tasksFile
	}

	level := "warn"
	if a.verbose {
		level = "debug"
	}
	a.logger, err = logging.New(level, "console")
	if err != nil {
		return err
	}

	a.catalog, err = catalog.Load(cfg.TasksFile)
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	a.sqlDB, err = sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if cmd.Annotations[annotationSkipSchemaCheck] == "" {
		if err := db.CheckSchema(a.sqlDB); err != nil {
			return err
		}
	}

	a.queue = db.NewDBQueue(a.sqlDB, db.WithQueueLogger(a.logger))
	a.users = db.NewUserRepository(a.queue, a.catalog.Count())
	a.logger.Debug("database opened", zap.String("path", cfg.DBPath), zap.Int("tasks", a.catalog.Count()))
	return nil
}

func (a *app) close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) statsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print aggregate progress counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := services.NewStatisticsService(a.users).WithRecentLimit(limit).Collect()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Total users:      %s\n", humanize.Comma(int64(stats.TotalUsers)))
			fmt.Fprintf(out, "Completed all:    %s\n", humanize.Comma(int64(stats.CompletedAll)))
			fmt.Fprintf(out, "Completion rate:  %.1f%%\n", stats.CompletionRate())
			fmt.Fprintf(out, "Joined today:     %s\n", humanize.Comma(int64(stats.JoinedToday)))
			fmt.Fprintf(out, "Wallets recorded: %s\n", humanize.Comma(int64(stats.WithWallet)))

			now := a.now()
			if len(stats.RecentCompleters) > 0 {
				fmt.Fprintln(out, "\nRecent completers:")
				w := newTable(out)
				for _, u := range stats.RecentCompleters {
					finished := u.JoinedAt
					if u.CompletedAt != nil {
						finished = *u.CompletedAt
					}
					fmt.Fprintf(w, "  %d\t%s\t%s\n", u.UserID, handle(u.Username), humanize.RelTime(finished, now, "ago", "from now"))
				}
				w.Flush()
			}
			if len(stats.RecentJoiners) > 0 {
				fmt.Fprintln(out, "\nRecent users:")
				w := newTable(out)
				for _, u := range stats.RecentJoiners {
					fmt.Fprintf(w, "  %d\t%s\t%s\n", u.UserID, handle(u.Username), humanize.RelTime(u.JoinedAt, now, "ago", "from now"))
				}
				w.Flush()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent users to list")
	return cmd
}

func (a *app) userShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print one user's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			u, err := a.users.Get(userID)
			if err != nil {
				return fmt.Errorf("user %d: %w", userID, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "User:      %s (%d)\n", u.DisplayName(), u.ID)
			fmt.Fprintf(out, "Username:  %s\n", handle(u.Username))
			if u.IsFinished() {
				fmt.Fprintf(out, "Step:      finished\n")
			} else {
				fmt.Fprintf(out, "Step:      %d of %d\n", u.CurrentStep, a.catalog.Count())
			}
			fmt.Fprintf(out, "Completed: %d/%d\n", u.CompletedCount(), a.catalog.Count())
			wallet := u.WalletAddress
			if wallet == "" {
				wallet = "-"
			}
			fmt.Fprintf(out, "Wallet:    %s\n", wallet)
			fmt.Fprintf(out, "Joined:    %s\n", humanize.RelTime(u.JoinedAt, a.now(), "ago", "from now"))
			fmt.Fprintf(out, "Active:    %s\n", humanize.RelTime(u.LastActiveAt, a.now(), "ago", "from now"))

			w := newTable(out)
			for _, task := range a.catalog.Tasks() {
				fmt.Fprintf(w, "  %d\t%s\t%s\n", task.ID, task.Name, u.TaskStatus(task.ID))
			}
			return w.Flush()
		},
	}
}

func (a *app) userResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Clear a user's progress and wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			if err := a.users.Reset(userID); err != nil {
				return fmt.Errorf("user %d: %w", userID, err)
			}
			a.logger.Info("user reset", zap.Int64("user_id", userID))
			fmt.Fprintf(cmd.OutOrStdout(), "User %d reset to task 1\n", userID)
			return nil
		},
	}
}

func (a *app) tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "tasks",
		Short:       "List the task catalog",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSkipSchemaCheck: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			campaign := a.catalog.Campaign()
			fmt.Fprintf(out, "%s: %s\n", campaign.Title, campaign.Reward)

			w := newTable(out)
			for _, task := range a.catalog.Tasks() {
				fmt.Fprintf(w, "  %d\t%s\t%s\n", task.ID, task.Name, task.URL)
			}
			return w.Flush()
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "migrate",
		Short:       "Apply pending schema migrations and print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationSkipSchemaCheck: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.InitSchema(a.sqlDB); err != nil {
				return fmt.Errorf("failed to apply migrations: %w", err)
			}
			version, dirty, err := db.SchemaVersion(a.sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func parseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

func handle(username string) string {
	if username == "" {
		return "-"
	}
	return "@" + username
}
