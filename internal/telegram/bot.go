package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/mtzanidakis/swarmhub/internal/config"
	"github.com/mtzanidakis/swarmhub/internal/natsbus"
	"github.com/mtzanidakis/swarmhub/internal/registry"
	"github.com/mtzanidakis/swarmhub/internal/swarm"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"
)

// Bot announces swarm events to the configured chats and answers a couple
// of read-only commands.
type Bot struct {
	bot      *telego.Bot
	engine   *swarm.Engine
	registry *registry.Registry
	nats     *natsbus.Client
	cfg      config.TelegramConfig
}

func NewBot(cfg config.TelegramConfig, engine *swarm.Engine, reg *registry.Registry, nc *natsbus.Client) (*Bot, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Bot{
		bot:      bot,
		engine:   engine,
		registry: reg,
		nats:     nc,
		cfg:      cfg,
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	var sub *nats.Subscription
	if b.nats != nil {
		var err error
		sub, err = b.nats.SubscribeEvents(natsbus.TopicEventsAll, func(ev swarm.Event) {
			b.announce(ctx, ev)
		})
		if err != nil {
			return fmt.Errorf("subscribe events: %w", err)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.reply(ctx, message.Chat.ID, b.leaderboardText(ctx))
		return nil
	}, th.CommandEqual("leaderboard"))

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.reply(ctx, message.Chat.ID, b.swarmsText(ctx))
		return nil
	}, th.CommandEqual("swarms"))

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		b.reply(ctx, message.Chat.ID, helpText)
		return nil
	}, th.Or(th.CommandEqual("start"), th.CommandEqual("help")))

	go func() { _ = handler.Start() }()

	slog.Info("telegram bot started", "chats", len(b.cfg.ChatIDs))
	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

const helpText = `**SwarmHub**
/swarms - swarms currently recruiting
/leaderboard - top agents by reputation`

// announce posts ev to every configured chat. Events without an
// announcement are ignored.
func (b *Bot) announce(ctx context.Context, ev swarm.Event) {
	text := formatEvent(ev)
	if text == "" {
		return
	}
	for _, chatID := range b.cfg.ChatIDs {
		if err := b.SendMessage(ctx, chatID, text); err != nil {
			slog.Error("failed to send telegram announcement", "chat", chatID, "type", ev.Type, "error", err)
		}
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if len(b.cfg.ChatIDs) > 0 && !slices.Contains(b.cfg.ChatIDs, chatID) {
		slog.Warn("ignoring command from unlisted chat", "chat_id", chatID)
		return
	}
	if err := b.SendMessage(ctx, chatID, text); err != nil {
		slog.Error("failed to send telegram reply", "chat", chatID, "error", err)
	}
}

func (b *Bot) leaderboardText(ctx context.Context) string {
	board, err := b.registry.Leaderboard(ctx, 10)
	if err != nil {
		slog.Error("leaderboard failed", "error", err)
		return "Sorry, the leaderboard is unavailable right now."
	}
	return formatLeaderboard(board)
}

func (b *Bot) swarmsText(ctx context.Context) string {
	swarms, err := b.engine.ListSwarms(ctx, swarm.SwarmFilter{Status: swarm.StatusRecruiting, Limit: 10})
	if err != nil {
		slog.Error("list swarms failed", "error", err)
		return "Sorry, swarms are unavailable right now."
	}
	return formatSwarms(swarms)
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	chunks := chunkMessage(toTelegramMarkdown(text), 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk).WithParseMode(telego.ModeMarkdown)
		_, err := b.bot.SendMessage(ctx, msg)
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
