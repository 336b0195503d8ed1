package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/lattice-run/lattice/pkg/fileutil"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the top-level, once-at-startup configuration tree. It is
// distinct from policy.json, which pkg/policy owns and hot-reloads on
// its own (spec.md §9, "Config vs policy").
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Session   SessionConfig   `json:"session,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Bridge    BridgeConfig    `json:"bridge,omitempty"`
	Policy    PolicyConfig    `json:"policy,omitempty"`
	Archive   ArchiveConfig   `json:"archive,omitempty"`
	Memory    MemoryConfig    `json:"memory,omitempty"`
	Tools     ToolsConfig     `json:"tools"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

// ArchiveConfig points at the SQLite-backed inbound message archive and
// controls how long records survive before the daily retention sweep
// purges them.
type ArchiveConfig struct {
	DBPath        string `json:"db_path"          env:"LATTICE_ARCHIVE_DB_PATH"`
	RetentionDays int    `json:"retention_days"   env:"LATTICE_ARCHIVE_RETENTION_DAYS"`
	SweepHour     int    `json:"sweep_hour"       env:"LATTICE_ARCHIVE_SWEEP_HOUR"`
	DedupTTLSecs  int    `json:"dedup_ttl_secs"   env:"LATTICE_ARCHIVE_DEDUP_TTL_SECS"`
	DedupMaxSize  int    `json:"dedup_max_size"   env:"LATTICE_ARCHIVE_DEDUP_MAX_SIZE"`
}

// MemoryConfig points at the long-term memory store and gates capture.
type MemoryConfig struct {
	DBPath              string              `json:"db_path"               env:"LATTICE_MEMORY_DB_PATH"`
	Channels            FlexibleStringSlice `json:"channels,omitempty"    env:"LATTICE_MEMORY_CHANNELS"`
	CaptureAssistant    bool                `json:"capture_assistant"     env:"LATTICE_MEMORY_CAPTURE_ASSISTANT"`
	MinConfidence       float64             `json:"min_confidence"        env:"LATTICE_MEMORY_MIN_CONFIDENCE"`
	MinSalience         float64             `json:"min_salience"          env:"LATTICE_MEMORY_MIN_SALIENCE"`
	OwnerOnlyPreference bool                `json:"owner_only_preference" env:"LATTICE_MEMORY_OWNER_ONLY_PREFERENCE"`
	QueueSize           int                 `json:"queue_size"            env:"LATTICE_MEMORY_QUEUE_SIZE"`
}

// BridgeConfig configures the loopback WhatsApp bridge process this
// gateway connects to as a client. It is loaded once at startup, unlike
// policy.json which hot-reloads.
type BridgeConfig struct {
	Host         string `json:"host"          env:"LATTICE_BRIDGE_HOST"`
	Port         int    `json:"port"          env:"LATTICE_BRIDGE_PORT"`
	Token        string `json:"token"         env:"LATTICE_BRIDGE_TOKEN"`
	AccountID    string `json:"account_id"    env:"LATTICE_BRIDGE_ACCOUNT_ID"`
	StorePath    string `json:"store_path"    env:"LATTICE_BRIDGE_STORE_PATH"`
	AcceptFromMe bool   `json:"accept_from_me" env:"LATTICE_BRIDGE_ACCEPT_FROM_ME"`
}

// PolicyConfig points at the hot-reloadable policy.json and the directory
// the admin handler persists owner-issued overrides into.
type PolicyConfig struct {
	SpecPath string `json:"spec_path" env:"LATTICE_POLICY_SPEC_PATH"`
	StateDir string `json:"state_dir" env:"LATTICE_POLICY_STATE_DIR"`
}

// MarshalJSON omits the providers section when empty and session when empty.
func (c Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	aux := &struct {
		Providers *ProvidersConfig `json:"providers,omitempty"`
		Session   *SessionConfig   `json:"session,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(&c),
	}

	if !c.Providers.IsEmpty() {
		aux.Providers = &c.Providers
	}

	if c.Session.DMScope != "" || len(c.Session.IdentityLinks) > 0 {
		aux.Session = &c.Session
	}

	return json.Marshal(aux)
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type SessionConfig struct {
	DMScope       string              `json:"dm_scope,omitempty"`
	IdentityLinks map[string][]string `json:"identity_links,omitempty"`
}

// AgentDefaults configures the single Responder this runtime drives.
type AgentDefaults struct {
	Workspace           string `json:"workspace"             env:"LATTICE_AGENTS_DEFAULTS_WORKSPACE"`
	RestrictToWorkspace bool   `json:"restrict_to_workspace" env:"LATTICE_AGENTS_DEFAULTS_RESTRICT_TO_WORKSPACE"`
	Provider            string `json:"provider"              env:"LATTICE_AGENTS_DEFAULTS_PROVIDER"`
	ModelName           string `json:"model_name,omitempty"  env:"LATTICE_AGENTS_DEFAULTS_MODEL_NAME"`
	Model               string `json:"model"                 env:"LATTICE_AGENTS_DEFAULTS_MODEL"` // Deprecated: use model_name instead
	MaxTokens           int    `json:"max_tokens"            env:"LATTICE_AGENTS_DEFAULTS_MAX_TOKENS"`
}

// GetModelName returns the effective model name for the agent defaults.
// It prefers the new "model_name" field but falls back to "model" for backward compatibility.
func (d *AgentDefaults) GetModelName() string {
	if d.ModelName != "" {
		return d.ModelName
	}
	return d.Model
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	Feishu   FeishuConfig   `json:"feishu"`
	Discord  DiscordConfig  `json:"discord"`
}

// GroupTriggerConfig controls when the bot responds in group chats.
type GroupTriggerConfig struct {
	MentionOnly bool     `json:"mention_only,omitempty"`
	Prefixes    []string `json:"prefixes,omitempty"`
}

// TypingConfig controls typing indicator behavior.
type TypingConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// PlaceholderConfig controls placeholder message behavior.
type PlaceholderConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Text    string `json:"text,omitempty"`
}

type WhatsAppConfig struct {
	Enabled            bool   `json:"enabled"              env:"LATTICE_CHANNELS_WHATSAPP_ENABLED"`
	BridgeURL          string `json:"bridge_url"           env:"LATTICE_CHANNELS_WHATSAPP_BRIDGE_URL"`
	UseNative          bool   `json:"use_native"           env:"LATTICE_CHANNELS_WHATSAPP_USE_NATIVE"`
	SessionStorePath   string `json:"session_store_path"   env:"LATTICE_CHANNELS_WHATSAPP_SESSION_STORE_PATH"`
	ReasoningChannelID string `json:"reasoning_channel_id" env:"LATTICE_CHANNELS_WHATSAPP_REASONING_CHANNEL_ID"`
}

type TelegramConfig struct {
	Enabled            bool               `json:"enabled"                 env:"LATTICE_CHANNELS_TELEGRAM_ENABLED"`
	Token              string             `json:"token"                   env:"LATTICE_CHANNELS_TELEGRAM_TOKEN"`
	Proxy              string             `json:"proxy"                   env:"LATTICE_CHANNELS_TELEGRAM_PROXY"`
	GroupTrigger       GroupTriggerConfig `json:"group_trigger,omitempty"`
	Typing             TypingConfig       `json:"typing,omitempty"`
	Placeholder        PlaceholderConfig  `json:"placeholder,omitempty"`
	ReasoningChannelID string             `json:"reasoning_channel_id"    env:"LATTICE_CHANNELS_TELEGRAM_REASONING_CHANNEL_ID"`
}

type FeishuConfig struct {
	Enabled            bool               `json:"enabled"                 env:"LATTICE_CHANNELS_FEISHU_ENABLED"`
	AppID              string             `json:"app_id"                  env:"LATTICE_CHANNELS_FEISHU_APP_ID"`
	AppSecret          string             `json:"app_secret"              env:"LATTICE_CHANNELS_FEISHU_APP_SECRET"`
	EncryptKey         string             `json:"encrypt_key"             env:"LATTICE_CHANNELS_FEISHU_ENCRYPT_KEY"`
	VerificationToken  string             `json:"verification_token"      env:"LATTICE_CHANNELS_FEISHU_VERIFICATION_TOKEN"`
	GroupTrigger       GroupTriggerConfig `json:"group_trigger,omitempty"`
	ReasoningChannelID string             `json:"reasoning_channel_id"    env:"LATTICE_CHANNELS_FEISHU_REASONING_CHANNEL_ID"`
}

type DiscordConfig struct {
	Enabled            bool               `json:"enabled"                 env:"LATTICE_CHANNELS_DISCORD_ENABLED"`
	Token              string             `json:"token"                   env:"LATTICE_CHANNELS_DISCORD_TOKEN"`
	MentionOnly        bool               `json:"mention_only"            env:"LATTICE_CHANNELS_DISCORD_MENTION_ONLY"`
	GroupTrigger       GroupTriggerConfig `json:"group_trigger,omitempty"`
	Typing             TypingConfig       `json:"typing,omitempty"`
	Placeholder        PlaceholderConfig  `json:"placeholder,omitempty"`
	ReasoningChannelID string             `json:"reasoning_channel_id"    env:"LATTICE_CHANNELS_DISCORD_REASONING_CHANNEL_ID"`
}

type HeartbeatConfig struct {
	Enabled  bool `json:"enabled"  env:"LATTICE_HEARTBEAT_ENABLED"`
	Interval int  `json:"interval" env:"LATTICE_HEARTBEAT_INTERVAL"` // minutes, min 5
}

// ProvidersConfig holds credentials for the one wired Responder adapter
// (pkg/responder/anthropic). It is not a multi-provider routing table.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic"`
}

// IsEmpty checks if the provider config has no API key or API base set.
func (p ProvidersConfig) IsEmpty() bool {
	return p.Anthropic.APIKey == "" && p.Anthropic.APIBase == ""
}

// MarshalJSON omits the entire providers section when empty.
func (p ProvidersConfig) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	type Alias ProvidersConfig
	return json.Marshal((*Alias)(&p))
}

type ProviderConfig struct {
	APIKey         string `json:"api_key"                   env:"LATTICE_PROVIDERS_ANTHROPIC_API_KEY"`
	APIBase        string `json:"api_base"                  env:"LATTICE_PROVIDERS_ANTHROPIC_API_BASE"`
	Proxy          string `json:"proxy,omitempty"           env:"LATTICE_PROVIDERS_ANTHROPIC_PROXY"`
	RequestTimeout int    `json:"request_timeout,omitempty" env:"LATTICE_PROVIDERS_ANTHROPIC_REQUEST_TIMEOUT"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"LATTICE_GATEWAY_HOST"`
	Port int    `json:"port" env:"LATTICE_GATEWAY_PORT"`
}

type MediaCleanupConfig struct {
	Enabled  bool `json:"enabled"          env:"LATTICE_MEDIA_CLEANUP_ENABLED"`
	MaxAge   int  `json:"max_age_minutes"  env:"LATTICE_MEDIA_CLEANUP_MAX_AGE"`
	Interval int  `json:"interval_minutes" env:"LATTICE_MEDIA_CLEANUP_INTERVAL"`
}

type ToolsConfig struct {
	MediaCleanup MediaCleanupConfig `json:"media_cleanup"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.migrateChannelConfigs()

	return cfg, nil
}

func (c *Config) migrateChannelConfigs() {
	// Discord: mention_only -> group_trigger.mention_only
	if c.Channels.Discord.MentionOnly && !c.Channels.Discord.GroupTrigger.MentionOnly {
		c.Channels.Discord.GroupTrigger.MentionOnly = true
	}
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	// Use unified atomic write utility with explicit sync for flash storage reliability.
	return fileutil.WriteFileAtomic(path, data, 0o600)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Agents.Defaults.Workspace)
}

// GetAPIKey returns the Anthropic API key. pkg/responder/anthropic is the
// single wired Responder adapter, so this is a direct field read rather
// than a provider-priority fallback chain.
func (c *Config) GetAPIKey() string {
	return c.Providers.Anthropic.APIKey
}

func (c *Config) GetAPIBase() string {
	return c.Providers.Anthropic.APIBase
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
