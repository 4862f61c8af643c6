package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"patchbell/internal/catalog"
	"patchbell/internal/storage"
	logx "patchbell/pkg/logx"
)

func (h *Handler) commands() []Command {
	return []Command{
		{Name: "start", Description: "about this bot", Usage: "/start", Handle: h.cmdStart},
		{Name: "help", Description: "list commands", Usage: "/help", Handle: h.cmdStart},
		{Name: "games", Description: "list available games", Usage: "/games", Handle: h.cmdGames},
		{Name: "subscribe", Description: "subscribe to a game", Usage: "/subscribe <game_key>", Handle: h.cmdSubscribe},
		{Name: "unsubscribe", Description: "unsubscribe from a game", Usage: "/unsubscribe <game_key>", Handle: h.cmdUnsubscribe},
		{Name: "mysubscriptions", Aliases: []string{"list"}, Description: "show your subscriptions", Usage: "/mysubscriptions", Handle: h.cmdMySubscriptions},
	}
}

func (h *Handler) helpText() string {
	var b strings.Builder
	b.WriteString("Hi! I send notifications about game updates.\nCommands:")
	for _, c := range h.cmds {
		if c.Name == "start" || c.Name == "help" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(c.Usage)
	}
	return b.String()
}

func (h *Handler) cmdStart(ctx context.Context, req *Request) error {
	h.reply(ctx, req, h.helpText())
	return nil
}

func (h *Handler) cmdGames(ctx context.Context, req *Request) error {
	lines := []string{"Available games:"}
	for _, s := range h.cat.All() {
		lines = append(lines, s.Key+" — "+s.Name)
	}
	h.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}

func (h *Handler) cmdSubscribe(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		h.reply(ctx, req, "Usage: /subscribe cs2")
		return nil
	}
	src, err := h.cat.Find(req.Args[0])
	if errors.Is(err, catalog.ErrUnknownSource) {
		req.Logger.Debug("unknown game requested", logx.Err(err))
		h.reply(ctx, req, "Unknown game. See /games")
		return nil
	}
	res, err := h.store.AddSubscription(ctx, req.SubscriberID(), src.Key)
	if err != nil {
		req.Logger.Error("add subscription failed", logx.String("source", src.Key), logx.Err(err))
		return fmt.Errorf("subscribe %s: %w", src.Key, err)
	}
	if res == storage.AlreadyExists {
		h.reply(ctx, req, "Already subscribed.")
		return nil
	}
	h.reply(ctx, req, "Subscribed to "+src.Name+".")
	return nil
}

func (h *Handler) cmdUnsubscribe(ctx context.Context, req *Request) error {
	if len(req.Args) < 1 {
		h.reply(ctx, req, "Usage: /unsubscribe cs2")
		return nil
	}
	src, err := h.cat.Find(req.Args[0])
	if errors.Is(err, catalog.ErrUnknownSource) {
		req.Logger.Debug("unknown game requested", logx.Err(err))
		h.reply(ctx, req, "Unknown game. See /games")
		return nil
	}
	res, err := h.store.RemoveSubscription(ctx, req.SubscriberID(), src.Key)
	if err != nil {
		req.Logger.Error("remove subscription failed", logx.String("source", src.Key), logx.Err(err))
		return fmt.Errorf("unsubscribe %s: %w", src.Key, err)
	}
	if res == storage.NotFound {
		h.reply(ctx, req, "You were not subscribed to this game.")
		return nil
	}
	h.reply(ctx, req, "Unsubscribed from "+src.Name+".")
	return nil
}

func (h *Handler) cmdMySubscriptions(ctx context.Context, req *Request) error {
	keys, err := h.store.ListSubscriptions(ctx, req.SubscriberID())
	if err != nil {
		req.Logger.Error("list subscriptions failed", logx.Err(err))
		return fmt.Errorf("list subscriptions: %w", err)
	}
	if len(keys) == 0 {
		h.reply(ctx, req, "You have no subscriptions.")
		return nil
	}
	lines := []string{"Your subscriptions:"}
	for _, k := range keys {
		name := k
		if src, ok := h.cat.Lookup(k); ok {
			name = src.Name
		}
		lines = append(lines, "- "+k+" — "+name)
	}
	h.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}
