package relay

import (
	"time"

	"stonksrelay/internal/domain"
)

// DirectSessionGuild stands in for the guild id in session keys of direct messages.
const DirectSessionGuild = "DM"

// SessionKey groups events from the same guild and channel.
func SessionKey(guildID, channelID string) string {
	if guildID == "" {
		guildID = DirectSessionGuild
	}
	return "guild:" + guildID + ":channel:" + channelID
}

// DisplayName picks the most specific name: guild nickname, then global
// display name, then username.
func DisplayName(a domain.Author) string {
	switch {
	case a.GuildNick != "":
		return a.GuildNick
	case a.GlobalName != "":
		return a.GlobalName
	default:
		return a.Username
	}
}

// BuildEvent assembles the outbound record for a forwarded message.
// It returns false when the decision does not qualify for forwarding.
func BuildEvent(msg domain.IncomingMessage, d domain.TriggerDecision, now time.Time) (domain.OutboundEvent, bool) {
	if !d.Forward() {
		return domain.OutboundEvent{}, false
	}

	evt := domain.OutboundEvent{
		TriggerType:  d.Kind,
		RawContent:   d.Content,
		MessageID:    msg.ID,
		ChannelID:    msg.ChannelID,
		ChannelName:  msg.ChannelName,
		UserID:       msg.Author.ID,
		UserTag:      msg.Author.Tag,
		UserNickname: DisplayName(msg.Author),
		SessionID:    SessionKey(guildOf(msg), msg.ChannelID),
		Timestamp:    msg.Timestamp,
	}
	if d.Kind == domain.TriggerPrefix {
		evt.Command = d.Command
	}
	if evt.UserTag == "" {
		evt.UserTag = msg.Author.Username
	}
	if guildID := guildOf(msg); guildID != "" {
		guildName := msg.GuildName
		evt.GuildID = &guildID
		evt.GuildName = &guildName
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = now
	}
	return evt, true
}

func guildOf(msg domain.IncomingMessage) string {
	if msg.IsDirect() {
		return ""
	}
	return msg.GuildID
}
