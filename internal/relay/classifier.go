package relay

import (
	"regexp"
	"strings"

	"stonksrelay/internal/domain"
)

// mentionPattern matches user mention markup, including the legacy nickname form.
var mentionPattern = regexp.MustCompile(`<@!?\d+>`)

// Identity is the relay's own account on the messaging platform.
type Identity struct {
	UserID   string
	Username string
}

// Rules selects which triggers are active. An empty Prefix disables prefix commands.
type Rules struct {
	DirectMessage bool
	Prefix        string
	Mention       bool
	Reply         bool
}

// Classify decides whether msg should be forwarded and under which trigger.
// repliedToSelf must report whether msg replies to a message authored by self;
// it is only consulted when no higher-priority rule matched.
func Classify(msg domain.IncomingMessage, self Identity, rules Rules, repliedToSelf bool) domain.TriggerDecision {
	d := match(msg, self, rules, repliedToSelf)
	if d.Content == "" {
		return domain.TriggerDecision{}
	}
	return d
}

// needsReplyLookup reports whether the outcome for msg depends on who
// authored the message it replies to.
func needsReplyLookup(msg domain.IncomingMessage, self Identity, rules Rules) bool {
	if !rules.Reply || msg.ReplyToID == "" || isAutomated(msg, self) {
		return false
	}
	return match(msg, self, rules, false).Kind == domain.TriggerNone
}

// match applies the rules in priority order. The returned content may be
// empty; Classify downgrades such decisions.
func match(msg domain.IncomingMessage, self Identity, rules Rules, repliedToSelf bool) domain.TriggerDecision {
	if isAutomated(msg, self) {
		return domain.TriggerDecision{}
	}

	if rules.DirectMessage && msg.IsDirect() {
		return domain.TriggerDecision{Kind: domain.TriggerDirectMessage, Content: msg.Content}
	}

	if rules.Prefix != "" && strings.HasPrefix(msg.Content, rules.Prefix) {
		rest := strings.TrimSpace(msg.Content[len(rules.Prefix):])
		return domain.TriggerDecision{
			Kind:    domain.TriggerPrefix,
			Content: rest,
			Command: commandName(rest),
		}
	}

	if rules.Mention && msg.MentionsUser(self.UserID) {
		return domain.TriggerDecision{Kind: domain.TriggerMention, Content: StripMentions(msg.Content)}
	}

	if rules.Reply && msg.ReplyToID != "" && repliedToSelf {
		return domain.TriggerDecision{Kind: domain.TriggerReply, Content: msg.Content}
	}

	return domain.TriggerDecision{}
}

// isAutomated rejects bot accounts, the relay itself included.
func isAutomated(msg domain.IncomingMessage, self Identity) bool {
	return msg.Author.Bot || (self.UserID != "" && msg.Author.ID == self.UserID)
}

// StripMentions removes every user mention token and trims the result.
func StripMentions(content string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(content, ""))
}

func commandName(rest string) string {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}
