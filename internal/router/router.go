// Package router maps incoming chat commands onto reminder engine
// operations and renders the replies.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/schedule"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const timeFormat = "Mon, 02 Jan 2006 15:04"

const usage = `I can remind you about things.

/remind <task> <when> - create a reminder
    /remind call mom in 2 hours
    /remind pay rent on the first day of every month
    /remind take meds every day at 8pm
/list - show this chat's reminders
/edit <id> <task> <when> - rewrite a reminder
/delete <id> - delete one reminder
/delete all - delete every reminder in this chat`

// Engine is the subset of the reminder engine the router drives.
type Engine interface {
	Create(ctx context.Context, chatID, userID int64, username string, isGroup bool, text string) (storage.Reminder, error)
	List(ctx context.Context, chatID int64) ([]storage.Reminder, error)
	Edit(ctx context.Context, chatID, id int64, text string) (storage.Reminder, error)
	Delete(ctx context.Context, chatID, id int64) error
	DeleteAll(ctx context.Context, chatID int64) (int, error)
}

// Notifier sends replies back to the chat.
type Notifier interface {
	Send(chatID int64, text string) error
}

type Router struct {
	engine   Engine
	notifier Notifier
	loc      *time.Location
	owners   map[int64]bool
	log      logx.Logger
	now      func() time.Time
}

// New builds a router. owners, when non-empty, restricts /delete all in
// group chats to the listed user ids.
func New(engine Engine, notifier Notifier, loc *time.Location, owners []int64, log logx.Logger) *Router {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	om := make(map[int64]bool, len(owners))
	for _, id := range owners {
		om[id] = true
	}
	return &Router{engine: engine, notifier: notifier, loc: loc, owners: om, log: log, now: time.Now}
}

// Run consumes messages until ctx is cancelled or the channel closes.
func (r *Router) Run(ctx context.Context, in <-chan transport.Message) {
	r.log.Info("router started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("router stopped", logx.Err(ctx.Err()))
			return
		case msg, ok := <-in:
			if !ok {
				r.log.Info("router stopped (channel closed)")
				return
			}
			r.dispatch(ctx, msg)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, msg transport.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic handling command",
				logx.Int64("chat_id", msg.ChatID),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	word, rest := splitCommand(text)

	switch word {
	case "start", "help":
		r.reply(msg.ChatID, usage)
	case "remind":
		r.handleRemind(ctx, msg, rest)
	case "list":
		r.handleList(ctx, msg)
	case "edit":
		r.handleEdit(ctx, msg, rest)
	case "delete":
		r.handleDelete(ctx, msg, rest)
	default:
		r.reply(msg.ChatID, "Unknown command. Try /help.")
	}
}

// splitCommand returns the command word (without the slash and any @bot
// suffix) and the remaining text.
func splitCommand(text string) (word, rest string) {
	word = strings.TrimPrefix(text, "/")
	if i := strings.IndexAny(word, " \t\n"); i >= 0 {
		word, rest = word[:i], strings.TrimSpace(word[i+1:])
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), rest
}

func (r *Router) handleRemind(ctx context.Context, msg transport.Message, rest string) {
	if rest == "" {
		r.reply(msg.ChatID, "Tell me what and when, e.g. /remind call mom in 2 hours")
		return
	}
	created, err := r.engine.Create(ctx, msg.ChatID, msg.FromID, msg.FromUsername, msg.IsGroup, rest)
	switch {
	case errors.Is(err, reminder.ErrParse):
		r.reply(msg.ChatID, "I could not find a time in that. Try something like:\n/remind call mom in 2 hours")
		return
	case errors.Is(err, reminder.ErrSchedule):
		r.reply(msg.ChatID, fmt.Sprintf("Reminder #%d saved, but scheduling is degraded; it will be armed on the next restart.", created.ID))
		return
	case err != nil:
		r.log.Error("create failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		r.reply(msg.ChatID, "Something went wrong saving that reminder.")
		return
	}
	r.reply(msg.ChatID, fmt.Sprintf("Reminder #%d set: %s\nNext: %s%s",
		created.ID, created.Task, r.format(created.NextExecution), describe(created)))
}

func (r *Router) handleList(ctx context.Context, msg transport.Message) {
	rows, err := r.engine.List(ctx, msg.ChatID)
	if err != nil {
		r.log.Error("list failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		r.reply(msg.ChatID, "Something went wrong listing reminders.")
		return
	}
	if len(rows) == 0 {
		r.reply(msg.ChatID, "No reminders in this chat. Create one with /remind.")
		return
	}
	var b strings.Builder
	b.WriteString("Reminders:\n")
	now := r.now()
	for _, row := range rows {
		overdue := ""
		if !row.NextExecution.After(now) {
			overdue = " [overdue]"
		}
		fmt.Fprintf(&b, "#%d — %s — %s%s%s\n", row.ID, row.Task, r.format(row.NextExecution), describe(row), overdue)
	}
	r.reply(msg.ChatID, strings.TrimRight(b.String(), "\n"))
}

func (r *Router) handleEdit(ctx context.Context, msg transport.Message, rest string) {
	idStr, text, _ := strings.Cut(rest, " ")
	id, err := strconv.ParseInt(idStr, 10, 64)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		r.reply(msg.ChatID, "Usage: /edit <id> <task> <when>, e.g. /edit 3 standup every day at 9:30am")
		return
	}
	edited, err := r.engine.Edit(ctx, msg.ChatID, id, text)
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		r.reply(msg.ChatID, fmt.Sprintf("No reminder #%d in this chat.", id))
		return
	case errors.Is(err, reminder.ErrParse):
		r.reply(msg.ChatID, "I could not find a time in that. Try something like:\n/edit 3 standup every day at 9:30am")
		return
	case errors.Is(err, reminder.ErrSchedule):
		r.reply(msg.ChatID, fmt.Sprintf("Reminder #%d updated, but scheduling is degraded; it will be armed on the next restart.", id))
		return
	case err != nil:
		r.log.Error("edit failed", logx.Int64("chat_id", msg.ChatID), logx.Int64("id", id), logx.Err(err))
		r.reply(msg.ChatID, "Something went wrong updating that reminder.")
		return
	}
	r.reply(msg.ChatID, fmt.Sprintf("Reminder #%d updated: %s\nNext: %s%s",
		edited.ID, edited.Task, r.format(edited.NextExecution), describe(edited)))
}

func (r *Router) handleDelete(ctx context.Context, msg transport.Message, rest string) {
	rest = strings.TrimSpace(rest)
	if strings.EqualFold(rest, "all") {
		if msg.IsGroup && len(r.owners) > 0 && !r.owners[msg.FromID] {
			r.reply(msg.ChatID, "Only the bot owner can delete all reminders in a group.")
			return
		}
		n, err := r.engine.DeleteAll(ctx, msg.ChatID)
		if err != nil {
			r.log.Error("delete all failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
			r.reply(msg.ChatID, "Something went wrong deleting reminders.")
			return
		}
		if n == 0 {
			r.reply(msg.ChatID, "Nothing to delete.")
			return
		}
		r.reply(msg.ChatID, fmt.Sprintf("Deleted %d reminder(s).", n))
		return
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		r.reply(msg.ChatID, "Usage: /delete <id> or /delete all")
		return
	}
	switch err := r.engine.Delete(ctx, msg.ChatID, id); {
	case errors.Is(err, reminder.ErrNotFound):
		r.reply(msg.ChatID, fmt.Sprintf("No reminder #%d in this chat.", id))
	case err != nil:
		r.log.Error("delete failed", logx.Int64("chat_id", msg.ChatID), logx.Int64("id", id), logx.Err(err))
		r.reply(msg.ChatID, "Something went wrong deleting that reminder.")
	default:
		r.reply(msg.ChatID, fmt.Sprintf("Reminder #%d deleted.", id))
	}
}

func (r *Router) reply(chatID int64, text string) {
	if err := r.notifier.Send(chatID, text); err != nil {
		r.log.Warn("reply not sent", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (r *Router) format(t time.Time) string {
	return t.In(r.loc).Format(timeFormat)
}

func describe(row storage.Reminder) string {
	switch {
	case row.Modifier == schedule.ModFirstDay:
		return " (first day of every month)"
	case row.Modifier == schedule.ModLastDay:
		return " (last day of every month)"
	case row.Frequency != schedule.FreqNone:
		return " (" + string(row.Frequency) + ")"
	default:
		return ""
	}
}
