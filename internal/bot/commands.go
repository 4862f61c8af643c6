// Package bot is the chat command interface: it answers subscription
// commands and reads the source catalog.
package bot

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"patchbell/internal/catalog"
	"patchbell/internal/storage"
	kit "patchbell/internal/transport"
	logx "patchbell/pkg/logx"
)

const (
	defaultTimeout = 10 * time.Second
	defaultWorkers = 4
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Logger  logx.Logger
}

// SubscriberID is the identity the store keys subscriptions on.
func (r *Request) SubscriberID() string { return strconv.FormatInt(r.Chat.ChatID, 10) }

type Handler struct {
	cat    *catalog.Catalog
	store  storage.Store
	sender kit.Sender
	log    logx.Logger

	cmds  []Command
	index map[string]*Command
}

func New(cat *catalog.Catalog, store storage.Store, sender kit.Sender, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{cat: cat, store: store, sender: sender, log: log, index: map[string]*Command{}}
	h.cmds = h.commands()
	for i := range h.cmds {
		c := &h.cmds[i]
		h.index[c.Name] = c
		for _, a := range c.Aliases {
			h.index[a] = c
		}
	}
	return h
}

// MenuCommands is the list published to the Telegram command menu.
func (h *Handler) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(h.cmds))
	for _, c := range h.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// DispatchLoop answers updates with a bounded worker pool until ctx is done
// or updates is closed.
func (h *Handler) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	jobs := make(chan kit.Update, 64)
	var wg sync.WaitGroup
	for i := 0; i < defaultWorkers; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for up := range jobs {
				func() {
					defer func() {
						if r := recover(); r != nil {
							h.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
						}
					}()
					h.HandleUpdate(ctx, up)
				}()
			}
		}()
	}
	h.log.Info("command dispatcher started", logx.Int("workers", defaultWorkers))
	defer func() {
		close(jobs)
		wg.Wait()
		h.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// HandleUpdate routes one update synchronously.
func (h *Handler) HandleUpdate(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	cmd, ok := h.index[name]
	if !ok {
		return
	}

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
	}
	req.Logger = h.log.With(logx.Int64("chat_id", msg.ChatID), logx.String("cmd", cmd.Name))

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	run := wrap(cmd.Handle, recoverPanics, logCommand, withDeadline(timeout))
	if err := run(ctx, req); err != nil {
		h.reply(ctx, req, "Something went wrong, please try again later.")
	}
}

// parseCommand splits "/cmd@bot a b" into ("cmd", [a b]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)
	if word == "" {
		return "", nil, false
	}
	return word, parts[1:], true
}

func (h *Handler) reply(ctx context.Context, req *Request, text string) {
	if _, err := h.sender.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}
