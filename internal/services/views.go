package services

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ad/go-telegram-airdrop/internal/catalog"
	"github.com/ad/go-telegram-airdrop/internal/models"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	iconDone    = "✅"
	iconCurrent = "👉"
	iconPending = "⭕"
)

// Renderer turns user records into views. It never touches storage.
type Renderer struct {
	catalog *catalog.Catalog
	admins  []string
}

func NewRenderer(c *catalog.Catalog, admins *AdminAccess) *Renderer {
	return &Renderer{
		catalog: c,
		admins:  admins.Handles(),
	}
}

// StepView shows the task at step, or the completion view past the last task.
func (r *Renderer) StepView(user *models.User, step int) *View {
	if step > r.catalog.Count() {
		return r.CompletionView(user)
	}
	if step < 1 {
		step = 1
	}
	return r.TaskView(user, step)
}

func (r *Renderer) TaskView(user *models.User, position int) *View {
	task, err := r.catalog.Get(position)
	if err != nil {
		return r.CompletionView(user)
	}

	campaign := r.catalog.Campaign()
	var sb strings.Builder
	sb.WriteString("💰 " + FormatBold(strings.TrimSpace(campaign.Title+" "+campaign.Reward)) + "\n\n")
	sb.WriteString(FormatBold(fmt.Sprintf("Current Task %d: %s", position, task.Name)) + "\n")
	if task.Description != "" {
		sb.WriteString("👉 " + FormatItalic(task.Description) + "\n")
	}
	sb.WriteString("\n📋 " + FormatBold("Your Progress:") + "\n")
	r.writeTaskList(&sb, user, true)
	sb.WriteString("\n" + FormatBold("Note:") + " Complete this task before proceeding to the next. ")
	sb.WriteString("After all tasks, send your wallet address here and your screenshots to the admins.")

	actions := []Action{
		{Label: "🔗 Open Link", URL: task.URL},
		{Label: task.ButtonText, Ref: ActionRef{Kind: ActionVerify, Position: position}},
	}
	if position > 1 {
		actions = append(actions, Action{
			Label: "◀️ Previous Task",
			Ref:   ActionRef{Kind: ActionTask, Position: position - 1},
		})
	}

	return &View{Text: sb.String(), Actions: actions}
}

func (r *Renderer) CompletionView(user *models.User) *View {
	campaign := r.catalog.Campaign()
	var sb strings.Builder
	sb.WriteString("🎉 " + FormatBold("Congratulations! All Tasks Completed!") + "\n\n")
	sb.WriteString("✅ You have successfully completed all social tasks.\n\n")
	sb.WriteString("📸 " + FormatBold("Next Steps:") + "\n")
	sb.WriteString("1. Take screenshots of all completed tasks\n")
	if user.HasWallet() {
		sb.WriteString("2. Wallet on record: " + FormatInlineCode(user.WalletAddress) + "\n")
	} else {
		sb.WriteString("2. Send your wallet address in this chat\n")
	}
	sb.WriteString("3. Send proof to our admins:\n\n")
	sb.WriteString(FormatBold("Admins to Contact:") + "\n")
	r.writeAdmins(&sb)
	sb.WriteString("\nSend them:\n")
	sb.WriteString("• Your username: " + escape(handleOrNA(user.Username)) + "\n")
	sb.WriteString("• Screenshot proofs\n")
	sb.WriteString("• Your wallet address")
	if campaign.Reward != "" {
		sb.WriteString("\n\n💰 You will receive " + escape(campaign.Reward) + " after verification!")
	}

	actions := make([]Action, 0, len(r.admins)+1)
	for _, admin := range r.admins {
		actions = append(actions, Action{
			Label: "💬 Contact " + admin,
			URL:   "https://t.me/" + strings.TrimPrefix(admin, "@"),
		})
	}
	actions = append(actions, Action{Label: "📊 My Progress", Ref: ActionRef{Kind: ActionProgress}})

	return &View{Text: sb.String(), Actions: actions}
}

// ProgressView summarizes the record: per-task status, completed/N and the
// recommended next action.
func (r *Renderer) ProgressView(user *models.User) *View {
	var sb strings.Builder
	sb.WriteString("📊 " + FormatBold("Your Airdrop Progress") + "\n\n")
	sb.WriteString(fmt.Sprintf("%s Completed: %d/%d\n\n", iconDone, user.CompletedCount(), r.catalog.Count()))
	r.writeTaskList(&sb, user, false)

	var actions []Action
	if task, err := r.catalog.Get(user.CurrentStep); err == nil {
		sb.WriteString(fmt.Sprintf("\nCurrent Task: %d. %s", task.ID, escape(task.Name)))
		actions = append(actions, Action{
			Label: "▶️ Continue",
			Ref:   ActionRef{Kind: ActionTask, Position: task.ID},
		})
	} else {
		sb.WriteString("\n🎉 All tasks completed! Contact admins:\n")
		r.writeAdmins(&sb)
	}
	actions = append(actions, Action{Label: "🔄 Start Over", Ref: ActionRef{Kind: ActionReset}})

	return &View{Text: strings.TrimRight(sb.String(), "\n"), Actions: actions}
}

func (r *Renderer) ResetView(user *models.User) *View {
	task := r.TaskView(user, 1)
	return &View{
		Text:    "🔄 Your progress has been reset.\n\n" + task.Text,
		Actions: task.Actions,
	}
}

func (r *Renderer) WalletSavedView(user *models.User) *View {
	var sb strings.Builder
	sb.WriteString("✅ Wallet address saved!\n")
	sb.WriteString(FormatInlineCode(user.WalletAddress) + "\n\n")
	sb.WriteString("Now please send your task completion screenshots to our admins:\n")
	r.writeAdmins(&sb)
	return &View{
		Text:    strings.TrimRight(sb.String(), "\n"),
		Actions: []Action{{Label: "📊 My Progress", Ref: ActionRef{Kind: ActionProgress}}},
	}
}

func (r *Renderer) WalletKnownView(user *models.User) *View {
	var sb strings.Builder
	sb.WriteString("👛 A wallet address is already recorded:\n")
	sb.WriteString(FormatInlineCode(user.WalletAddress) + "\n\n")
	sb.WriteString("Use /reset to start over with a different address.")
	return &View{
		Text:    sb.String(),
		Actions: []Action{{Label: "📊 My Progress", Ref: ActionRef{Kind: ActionProgress}}},
	}
}

func (r *Renderer) StatsView(stats *models.AdminStats, now time.Time) *View {
	var sb strings.Builder
	sb.WriteString("📊 " + FormatBold("Admin Statistics") + "\n\n")
	sb.WriteString(fmt.Sprintf("👥 Total Users: %d\n", stats.TotalUsers))
	sb.WriteString(fmt.Sprintf("✅ Completed All Tasks: %d\n", stats.CompletedAll))
	sb.WriteString(fmt.Sprintf("📈 Completion Rate: %.1f%%\n", stats.CompletionRate()))
	sb.WriteString(fmt.Sprintf("🆕 Joined Today: %d\n", stats.JoinedToday))
	sb.WriteString(fmt.Sprintf("👛 Wallets Recorded: %d\n", stats.WithWallet))

	if len(stats.RecentCompleters) > 0 {
		sb.WriteString("\n🏁 " + FormatBold("Recent Completers:") + "\n")
		for _, u := range stats.RecentCompleters {
			finished := u.JoinedAt
			if u.CompletedAt != nil {
				finished = *u.CompletedAt
			}
			sb.WriteString(fmt.Sprintf("• %s - finished %s\n",
				escape(handleOrNA(u.Username)), humanize.RelTime(finished, now, "ago", "from now")))
		}
	}

	if len(stats.RecentJoiners) > 0 {
		sb.WriteString("\n🆕 " + FormatBold("Recent Users:") + "\n")
		for _, u := range stats.RecentJoiners {
			sb.WriteString(fmt.Sprintf("• %s - joined %s\n",
				escape(handleOrNA(u.Username)), humanize.RelTime(u.JoinedAt, now, "ago", "from now")))
		}
	}

	return &View{Text: strings.TrimRight(sb.String(), "\n")}
}

func (r *Renderer) writeTaskList(sb *strings.Builder, user *models.User, numbered bool) {
	for _, task := range r.catalog.Tasks() {
		icon := iconPending
		switch user.TaskStatus(task.ID) {
		case models.TaskStatusDone:
			icon = iconDone
		case models.TaskStatusCurrent:
			icon = iconCurrent
		}
		if numbered {
			sb.WriteString(fmt.Sprintf("%s Task %d: %s\n", icon, task.ID, escape(task.Name)))
		} else {
			sb.WriteString(fmt.Sprintf("%s %s\n", icon, escape(task.Name)))
		}
	}
}

func (r *Renderer) writeAdmins(sb *strings.Builder) {
	for _, admin := range r.admins {
		sb.WriteString(FormatHandleLink(admin) + "\n")
	}
}

func UnauthorizedView() *View {
	return &View{Text: "❌ Admin only command."}
}

func FailureView() *View {
	return &View{Text: "⚠️ Something went wrong. Please try again in a moment."}
}

// ViewForError maps an engine error to what the user is shown.
// Nothing about the failure itself is disclosed.
func ViewForError(err error) *View {
	if errors.Is(err, ErrUnauthorized) {
		return UnauthorizedView()
	}
	return FailureView()
}

func handleOrNA(username string) string {
	if username == "" {
		return "N/A"
	}
	return "@" + username
}

func escape(s string) string {
	return html.EscapeString(s)
}
