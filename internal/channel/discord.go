// Package channel adapts the Discord gateway to the relay's message ports.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"stonksrelay/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen = 2000
	directFallback   = "DM"
)

// MessageHandler receives every normalized inbound message.
type MessageHandler func(ctx context.Context, msg domain.IncomingMessage)

// ReadyHandler is told the bot's own account once the gateway session is ready.
type ReadyHandler func(userID, username string)

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token   string
	GuildID string // when set, guild messages from other guilds are dropped
	Logger  *slog.Logger
}

// Discord connects to the gateway and implements domain.Reactor and
// domain.MessageLookup on top of the REST API.
type Discord struct {
	guildID string
	session *discordgo.Session
	logger  *slog.Logger
}

// NewDiscord creates a Discord adapter. The gateway connection is opened by Open.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Discord{
		guildID: cfg.GuildID,
		session: session,
		logger:  cfg.Logger,
	}, nil
}

// Open registers the gateway handlers and connects. Messages arriving after
// ctx is cancelled are dropped so a draining relay receives no new work.
func (d *Discord) Open(ctx context.Context, onMessage MessageHandler, onReady ReadyHandler) error {
	d.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		d.logger.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
		if onReady != nil {
			onReady(r.User.ID, r.User.Username)
		}
	})

	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if ctx.Err() != nil || skipMessage(m.Message, d.guildID) {
			return
		}

		msg := toIncoming(m.Message, d.channel(m.ChannelID), d.guildName(m.GuildID))
		d.logger.Debug("discord message received",
			"message_id", msg.ID,
			"author", msg.Author.Username,
			"channel_id", msg.ChannelID,
			"content_len", len(msg.Content),
		)
		onMessage(ctx, msg)
	})

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	if u := d.session.State.User; u != nil && onReady != nil {
		onReady(u.ID, u.Username)
	}
	d.logger.Info("discord bot connected")
	return nil
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	d.logger.Info("discord bot disconnecting")
	return d.session.Close()
}

// React adds an emoji reaction to a message.
func (d *Discord) React(ctx context.Context, channelID, messageID, emoji string) error {
	if err := d.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord reaction: %w", err)
	}
	return nil
}

// Reply posts content as a reply to a message, split at the platform limit.
func (d *Discord) Reply(ctx context.Context, channelID, messageID, content string) error {
	ref := &discordgo.MessageReference{MessageID: messageID, ChannelID: channelID}
	for i, chunk := range splitMessage(content, discordMaxMsgLen) {
		var err error
		if i == 0 {
			_, err = d.session.ChannelMessageSendReply(channelID, chunk, ref, discordgo.WithContext(ctx))
		} else {
			_, err = d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return fmt.Errorf("discord reply: %w", err)
		}
	}
	return nil
}

// MessageAuthorID fetches a message and returns its author's id.
func (d *Discord) MessageAuthorID(ctx context.Context, channelID, messageID string) (string, error) {
	m, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord message lookup: %w", err)
	}
	if m.Author == nil {
		return "", fmt.Errorf("discord message %s has no author", messageID)
	}
	return m.Author.ID, nil
}

// channel resolves a channel from the state cache, falling back to REST.
func (d *Discord) channel(channelID string) *discordgo.Channel {
	if ch, err := d.session.State.Channel(channelID); err == nil {
		return ch
	}
	ch, err := d.session.Channel(channelID)
	if err != nil {
		d.logger.Debug("discord channel lookup failed", "channel_id", channelID, "err", err)
		return nil
	}
	return ch
}

func (d *Discord) guildName(guildID string) string {
	if guildID == "" {
		return ""
	}
	if g, err := d.session.State.Guild(guildID); err == nil {
		return g.Name
	}
	return ""
}

// skipMessage reports whether m can be dropped before any channel or guild
// lookup: it has no author, comes from a bot, or belongs to another guild.
func skipMessage(m *discordgo.Message, guildID string) bool {
	if m == nil || m.Author == nil || m.Author.Bot {
		return true
	}
	return guildID != "" && m.GuildID != "" && m.GuildID != guildID
}

// toIncoming converts a gateway message into the relay's snapshot type.
// ch may be nil when the channel could not be resolved.
func toIncoming(m *discordgo.Message, ch *discordgo.Channel, guildName string) domain.IncomingMessage {
	msg := domain.IncomingMessage{
		ID:          m.ID,
		Content:     m.Content,
		ChannelID:   m.ChannelID,
		ChannelKind: domain.ChannelGuild,
		GuildID:     m.GuildID,
		GuildName:   guildName,
		Timestamp:   m.Timestamp,
	}

	if m.Author != nil {
		msg.Author = domain.Author{
			ID:         m.Author.ID,
			Username:   m.Author.Username,
			Tag:        m.Author.String(),
			GlobalName: m.Author.GlobalName,
			Bot:        m.Author.Bot,
		}
	}
	if m.Member != nil {
		msg.Author.GuildNick = m.Member.Nick
	}

	if isDirect(m, ch) {
		msg.ChannelKind = domain.ChannelDirect
		msg.GuildID = ""
		msg.GuildName = ""
	}
	msg.ChannelName = channelName(ch, msg.Author)

	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.Mentions = append(msg.Mentions, u.ID)
		}
	}
	return msg
}

func isDirect(m *discordgo.Message, ch *discordgo.Channel) bool {
	if ch != nil {
		return ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM
	}
	return m.GuildID == ""
}

// channelName returns the channel's name. Direct-message channels have none,
// so the other participant's username stands in.
func channelName(ch *discordgo.Channel, author domain.Author) string {
	if ch == nil {
		return ""
	}
	if ch.Name != "" {
		return ch.Name
	}
	for _, r := range ch.Recipients {
		if r != nil && r.Username != "" {
			return r.Username
		}
	}
	if author.Username != "" {
		return author.Username
	}
	return directFallback
}

// splitMessage splits a message into chunks that fit within maxLen,
// preferring newline boundaries.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
