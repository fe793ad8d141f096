package domain

import "time"

// ChannelKind distinguishes guild text channels from direct-message channels.
type ChannelKind string

const (
	ChannelGuild  ChannelKind = "guild"
	ChannelDirect ChannelKind = "direct"
)

// Author identifies who sent an inbound message.
type Author struct {
	ID         string
	Username   string
	Tag        string // username, or username#discriminator for legacy accounts
	GlobalName string // platform-wide display name
	GuildNick  string // per-guild nickname, empty outside guilds
	Bot        bool
}

// IncomingMessage is a read-only snapshot of a platform message as seen by the relay.
type IncomingMessage struct {
	ID          string
	Content     string
	Author      Author
	ChannelID   string
	ChannelName string
	ChannelKind ChannelKind
	GuildID     string // empty for direct messages
	GuildName   string
	ReplyToID   string   // id of the referenced message, empty when not a reply
	Mentions    []string // user ids mentioned in the message
	Timestamp   time.Time
}

// IsDirect reports whether the message arrived in a direct-message channel.
func (m IncomingMessage) IsDirect() bool {
	return m.ChannelKind == ChannelDirect
}

// MentionsUser reports whether userID appears in the message's mention list.
func (m IncomingMessage) MentionsUser(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range m.Mentions {
		if id == userID {
			return true
		}
	}
	return false
}

// TriggerKind is the reason a message is forwarded.
type TriggerKind string

const (
	TriggerNone          TriggerKind = ""
	TriggerPrefix        TriggerKind = "prefix"
	TriggerMention       TriggerKind = "mention"
	TriggerReply         TriggerKind = "reply"
	TriggerDirectMessage TriggerKind = "dm"
)

// TriggerDecision is the classifier's verdict for one message.
type TriggerDecision struct {
	Kind    TriggerKind
	Content string // trigger markup stripped
	Command string // first token after the prefix, prefix triggers only
}

// Forward reports whether the decision should produce an outbound event.
func (d TriggerDecision) Forward() bool {
	return d.Kind != TriggerNone && d.Content != ""
}

// OutboundEvent is the JSON record delivered to the automation webhook.
type OutboundEvent struct {
	TriggerType  TriggerKind `json:"triggerType"`
	RawContent   string      `json:"rawContent"`
	Command      string      `json:"command,omitempty"`
	MessageID    string      `json:"messageId"`
	ChannelID    string      `json:"channelId"`
	ChannelName  string      `json:"channelName"`
	GuildID      *string     `json:"guildId"`
	GuildName    *string     `json:"guildName"`
	UserID       string      `json:"userId"`
	UserTag      string      `json:"userTag"`
	UserNickname string      `json:"userNickname"`
	SessionID    string      `json:"sessionId"`
	Timestamp    time.Time   `json:"timestamp"`
}
