// Package policy implements the deterministic, hot-reloadable per-channel
// and per-chat access control engine: who may talk, when the assistant
// replies, which tools are permitted, and which persona applies.
package policy

// WhoCanTalkMode gates whether a sender's message is accepted at all.
type WhoCanTalkMode string

const (
	WhoCanTalkEveryone  WhoCanTalkMode = "everyone"
	WhoCanTalkAllowlist WhoCanTalkMode = "allowlist"
	WhoCanTalkOwnerOnly WhoCanTalkMode = "owner_only"
)

// WhenToReplyMode gates whether an accepted message gets a reply.
type WhenToReplyMode string

const (
	WhenToReplyAll           WhenToReplyMode = "all"
	WhenToReplyOff           WhenToReplyMode = "off"
	WhenToReplyMentionOnly   WhenToReplyMode = "mention_only"
	WhenToReplyAllowedSender WhenToReplyMode = "allowed_senders"
	WhenToReplyOwnerOnly     WhenToReplyMode = "owner_only"
)

// AllowedToolsMode controls how the tool allowlist is computed.
type AllowedToolsMode string

const (
	AllowedToolsAll       AllowedToolsMode = "all"
	AllowedToolsAllowlist AllowedToolsMode = "allowlist"
)

// VoiceOutputMode controls when a reply is synthesized as audio.
type VoiceOutputMode string

const (
	VoiceOutputText   VoiceOutputMode = "text"
	VoiceOutputInKind VoiceOutputMode = "in_kind"
	VoiceOutputAlways VoiceOutputMode = "always"
	VoiceOutputOff    VoiceOutputMode = "off" // alias of text
)

// WhoCanTalk gates whether a message is accepted.
type WhoCanTalk struct {
	Mode    WhoCanTalkMode `json:"mode,omitempty"`
	Senders []string       `json:"senders,omitempty"`
}

// WhenToReply gates whether an accepted message receives a reply.
type WhenToReply struct {
	Mode    WhenToReplyMode `json:"mode,omitempty"`
	Senders []string        `json:"senders,omitempty"`
}

// BlockedSenders is an unconditional deny-list, evaluated before WhoCanTalk.
type BlockedSenders struct {
	Senders []string `json:"senders,omitempty"`
}

// AllowedTools computes the effective tool set for a chat.
type AllowedTools struct {
	Mode  AllowedToolsMode `json:"mode,omitempty"`
	Tools []string         `json:"tools,omitempty"`
	Deny  []string         `json:"deny,omitempty"`
}

// VoiceInput configures wake-phrase detection for voice notes.
type VoiceInput struct {
	WakePhrases []string `json:"wakePhrases,omitempty"`
}

// VoiceOutput configures TTS synthesis of replies.
type VoiceOutput struct {
	Mode         VoiceOutputMode `json:"mode,omitempty"`
	MaxSentences int             `json:"maxSentences,omitempty"`
	MaxChars     int             `json:"maxChars,omitempty"`
}

// Voice bundles the input wake-phrase and output TTS tuning for a chat.
type Voice struct {
	Input  VoiceInput  `json:"input,omitempty"`
	Output VoiceOutput `json:"output,omitempty"`
}

// Level is one node of the policy hierarchy: built-in defaults, the
// top-level "defaults" block, a channel's "default" block, or one chat's
// override block. Any field left at its zero value is considered unset
// and does not override a less-specific level.
type Level struct {
	WhoCanTalk     *WhoCanTalk     `json:"whoCanTalk,omitempty"`
	WhenToReply    *WhenToReply    `json:"whenToReply,omitempty"`
	BlockedSenders *BlockedSenders `json:"blockedSenders,omitempty"`
	AllowedTools   *AllowedTools   `json:"allowedTools,omitempty"`
	PersonaFile    *string         `json:"personaFile,omitempty"`
	Voice          *Voice          `json:"voice,omitempty"`
}

// ChannelSpec is one channel's policy tree: its own default level plus
// per-chat overrides keyed by chat_id.
type ChannelSpec struct {
	Default Level            `json:"default"`
	Chats   map[string]Level `json:"chats,omitempty"`
}

// Runtime holds orchestrator-wide tuning knobs that are not per-chat.
type Runtime struct {
	ReloadOnChange                bool `json:"reloadOnChange"`
	ReloadCheckIntervalSeconds    float64 `json:"reloadCheckIntervalSeconds,omitempty"`
	AdminCommandRateLimitPerMinute int    `json:"adminCommandRateLimitPerMinute,omitempty"`
	AdminRequireConfirmForRisky   bool    `json:"adminRequireConfirmForRisky"`
}

// Spec is the full parsed policy document, "policy.json" on disk.
type Spec struct {
	Version  int                    `json:"version"`
	Owners   map[string][]string    `json:"owners,omitempty"`
	Defaults Level                  `json:"defaults"`
	Channels map[string]ChannelSpec `json:"channels,omitempty"`
	Runtime  Runtime                `json:"runtime"`
}

// Decision is the policy engine's verdict for one inbound message.
type Decision struct {
	AcceptMessage bool            `json:"accept_message"`
	ShouldRespond bool            `json:"should_respond"`
	AllowedTools  map[string]bool `json:"allowed_tools"`
	DeniedTools   map[string]bool `json:"denied_tools"`
	PersonaFile   string          `json:"persona_file,omitempty"`
	Voice         Voice           `json:"voice"`
	Reason        string          `json:"reason"`
}

const minReloadCheckIntervalSeconds = 0.1

// builtinDefaults is the bottom of the merge hierarchy: everyone may talk,
// the assistant always replies, every tool is allowed, no persona override.
func builtinDefaults() Level {
	return Level{
		WhoCanTalk:     &WhoCanTalk{Mode: WhoCanTalkEveryone},
		WhenToReply:    &WhenToReply{Mode: WhenToReplyAll},
		BlockedSenders: &BlockedSenders{},
		AllowedTools:   &AllowedTools{Mode: AllowedToolsAll},
		Voice: &Voice{
			Output: VoiceOutput{Mode: VoiceOutputText, MaxSentences: 6, MaxChars: 600},
		},
	}
}
