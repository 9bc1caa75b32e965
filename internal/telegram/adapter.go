package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/eatd/vl-desktop-agent/internal/agent"
	"github.com/eatd/vl-desktop-agent/internal/state"
	"github.com/eatd/vl-desktop-agent/internal/types"
)

const maxTelegramMessage = 4096

// Controller is the part of the agent loop the chat can drive.
type Controller interface {
	Start(ctx context.Context, req agent.Request) (types.SessionID, error)
	Stop() error
	Status() types.Status
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the agent loop. When ChatID is set, only that
// chat may issue commands and it receives run notifications.
type Adapter struct {
	bot    *tgbotapi.BotAPI
	send   sender
	ctl    Controller
	tasks  *state.TaskStore
	chatID int64
	logger *slog.Logger
}

// New creates a Telegram adapter. tasks may be nil.
func New(token string, chatID int64, ctl Controller, tasks *state.TaskStore, logger *slog.Logger) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		bot:    bot,
		send:   bot,
		ctl:    ctl,
		tasks:  tasks,
		chatID: chatID,
		logger: logger,
	}, nil
}

// Run long-polls for Telegram updates until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return nil
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if a.chatID != 0 && chatID != a.chatID {
		a.logger.Warn("ignoring message from unknown chat", "chat_id", chatID)
		return
	}
	if !msg.IsCommand() {
		a.sendResponse(chatID, helpText)
		return
	}
	a.sendResponse(chatID, a.command(ctx, msg.Command(), strings.TrimSpace(msg.CommandArguments())))
}

const helpText = "Available: /run <goal>, /task <name>, /stop, /status"

func (a *Adapter) command(ctx context.Context, name, args string) string {
	switch name {
	case "start", "help":
		return "I drive this desktop. " + helpText

	case "run":
		if args == "" {
			return "Usage: /run <goal>"
		}
		return a.startRun(ctx, agent.Request{Goal: args})

	case "task":
		if a.tasks == nil {
			return "No task store configured."
		}
		task, err := a.tasks.Get(args)
		if err != nil {
			return fmt.Sprintf("Unknown task %q.", args)
		}
		return a.startRun(ctx, agent.Request{Goal: task.Goal, MaxSteps: task.MaxSteps})

	case "stop":
		if err := a.ctl.Stop(); err != nil {
			if errors.Is(err, agent.ErrNotRunning) {
				return "Nothing is running."
			}
			return "Stop failed: " + err.Error()
		}
		return "Stopping after the current step."

	case "status":
		return formatStatus(a.ctl.Status())

	default:
		return "Unknown command. " + helpText
	}
}

func (a *Adapter) startRun(ctx context.Context, req agent.Request) string {
	id, err := a.ctl.Start(ctx, req)
	switch {
	case errors.Is(err, agent.ErrAlreadyRunning):
		return "A run is already in progress. /stop it first."
	case err != nil:
		return "Could not start: " + err.Error()
	}
	return fmt.Sprintf("Started %s\nGoal: %s", id, req.Goal)
}

func formatStatus(st types.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s", st.State)
	if st.SessionID != "" {
		fmt.Fprintf(&b, "\nSession: %s\nGoal: %s\nStep: %d/%d", st.SessionID, st.Goal, st.Step, st.MaxSteps)
	}
	if st.DryRun {
		b.WriteString("\nDry run")
	}
	if st.Reason != "" {
		fmt.Fprintf(&b, "\nResult: %s", st.Reason)
	}
	if st.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", st.Error)
	}
	return b.String()
}

// Send forwards errors, warnings and finished runs to the configured chat.
// It implements events.Sink.
func (a *Adapter) Send(_ context.Context, ev types.Event) error {
	if a.chatID == 0 {
		return nil
	}
	text, ok := formatEvent(ev)
	if !ok {
		return nil
	}
	a.sendResponse(a.chatID, text)
	return nil
}

func formatEvent(ev types.Event) (string, bool) {
	switch ev.Type {
	case types.EventError, types.EventWarning:
		var p types.MessagePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", false
		}
		label := "Warning"
		if ev.Type == types.EventError {
			label = "Error"
		}
		if p.Step > 0 {
			return fmt.Sprintf("%s at step %d: %s", label, p.Step, p.Message), true
		}
		return fmt.Sprintf("%s: %s", label, p.Message), true

	case types.EventStatus:
		var st types.Status
		if err := json.Unmarshal(ev.Payload, &st); err != nil {
			return "", false
		}
		if st.Reason == "" || (st.State != types.StateStopped && st.State != types.StateFailed) {
			return "", false
		}
		return "Run finished\n" + formatStatus(st), true
	}
	return "", false
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := a.send.Send(msg); err != nil {
			a.logger.Error("send telegram message", "chat_id", chatID, "error", err)
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
