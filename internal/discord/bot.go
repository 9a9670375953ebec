package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/NgigiN/qris-gateway/internal/storage"
	"github.com/bwmarrin/discordgo"
)

// Ledger is the read side of the transaction store the bot answers from.
type Ledger interface {
	Get(id string) (storage.Transaction, error)
	ListPending() []storage.Transaction
}

type messageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot posts payment notifications to a Discord channel and answers status
// commands typed in that channel.
type Bot struct {
	session   *discordgo.Session
	sender    messageSender
	ledger    Ledger
	channelID string
	logger    *slog.Logger
	now       func() time.Time
}

func NewBot(token, channelID string, ledger Ledger, logger *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	bot := &Bot{
		session:   session,
		sender:    session,
		ledger:    ledger,
		channelID: channelID,
		logger:    logger,
		now:       time.Now,
	}

	session.AddHandler(bot.handleMessage)
	session.Identify.Intents = discordgo.IntentGuildMessages | discordgo.IntentMessageContent

	return bot, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	return nil
}

func (b *Bot) Stop() {
	if err := b.session.Close(); err != nil {
		b.logger.Warn("closing discord session failed", "error", err)
	}
}

// NotifyPaid implements lifecycle.Notifier.
func (b *Bot) NotifyPaid(ctx context.Context, tx storage.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.sender.ChannelMessageSend(b.channelID, paymentMessage(tx)); err != nil {
		return fmt.Errorf("failed to send payment notification: %w", err)
	}
	b.logger.Info("payment notification sent", "id", tx.ID, "channel", b.channelID)
	return nil
}

func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return //bot's messages
	}

	if m.ChannelID != b.channelID {
		return //specific to the channel
	}

	reply, ok := b.reply(m.Content)
	if !ok {
		return
	}
	if _, err := b.sender.ChannelMessageSend(m.ChannelID, reply); err != nil {
		b.logger.Warn("failed to answer discord command", "error", err)
	}
}

// reply answers a channel message; ok is false when the message is not a command.
func (b *Bot) reply(content string) (string, bool) {
	args := strings.Fields(content)
	if len(args) == 0 {
		return "", false
	}

	switch strings.ToLower(args[0]) {
	case "!pending":
		return b.pendingSummary(), true
	case "!status":
		if len(args) != 2 {
			return "Usage: !status <transaction id>", true
		}
		return b.statusOf(args[1]), true
	default:
		return "", false
	}
}

func (b *Bot) pendingSummary() string {
	now := b.now()
	var live []storage.Transaction
	for _, tx := range b.ledger.ListPending() {
		if tx.EffectiveStatus(now) == storage.StatusPending {
			live = append(live, tx)
		}
	}
	if len(live) == 0 {
		return "No pending payments."
	}

	var total int64
	response := "**Pending Payments**\n\n"

	// Show the oldest 10
	limit := 10
	if len(live) < limit {
		limit = len(live)
	}
	for _, tx := range live[:limit] {
		total += tx.FinalAmount
		response += fmt.Sprintf("• **%s** %s, expires in %s\n",
			FormatRupiah(tx.FinalAmount), tx.ID, tx.ExpiresAt.Sub(now).Round(time.Second))
	}
	if len(live) > limit {
		response += fmt.Sprintf("... and %d more\n", len(live)-limit)
	}

	response += fmt.Sprintf("\n**Total**: %s (%d payments)", FormatRupiah(total), len(live))
	return response
}

func (b *Bot) statusOf(id string) string {
	tx, err := b.ledger.Get(id)
	if err != nil {
		return fmt.Sprintf("Transaction %s not found.", id)
	}
	return fmt.Sprintf("%s: %s for %s", tx.ID, strings.ToUpper(string(tx.EffectiveStatus(b.now()))), FormatRupiah(tx.FinalAmount))
}
