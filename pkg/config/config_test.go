package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_HeartbeatEnabled(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Heartbeat.Enabled {
		t.Error("expected heartbeat enabled by default")
	}
}

func TestDefaultConfig_WorkspacePath(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Agents.Defaults.Workspace != "~/.lattice/workspace" {
		t.Errorf("unexpected default workspace: %q", cfg.Agents.Defaults.Workspace)
	}
}

func TestDefaultConfig_Model(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Agents.Defaults.GetModelName() != "" {
		t.Errorf("expected empty default model name, got %q", cfg.Agents.Defaults.GetModelName())
	}
}

func TestDefaultConfig_MaxTokens(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Agents.Defaults.MaxTokens != 32768 {
		t.Errorf("unexpected default max tokens: %d", cfg.Agents.Defaults.MaxTokens)
	}
}

func TestDefaultConfig_Gateway(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Gateway.Host != "127.0.0.1" || cfg.Gateway.Port != 18790 {
		t.Errorf("unexpected default gateway: %+v", cfg.Gateway)
	}
}

func TestDefaultConfig_Providers(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Providers.Anthropic.APIKey != "" {
		t.Error("expected empty default anthropic API key")
	}
}

func TestDefaultConfig_Channels(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Channels.WhatsApp.Enabled || cfg.Channels.Telegram.Enabled ||
		cfg.Channels.Feishu.Enabled || cfg.Channels.Discord.Enabled {
		t.Error("expected all channels disabled by default")
	}
}

func TestDefaultConfig_DMScope(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Session.DMScope != "per-channel-peer" {
		t.Errorf("unexpected default dm scope: %q", cfg.Session.DMScope)
	}
}

func TestGetAPIKey_ReturnsAnthropicKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.Anthropic.APIKey = "sk-ant-test"
	if got := cfg.GetAPIKey(); got != "sk-ant-test" {
		t.Errorf("GetAPIKey() = %q, want %q", got, "sk-ant-test")
	}
}

func TestGetAPIKey_EmptyWhenUnset(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetAPIKey(); got != "" {
		t.Errorf("GetAPIKey() = %q, want empty", got)
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := DefaultConfig()

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("unexpected file permissions: %o", perm)
	}
}

func TestSaveConfig_IncludesEmptyLegacyModelField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := DefaultConfig()

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	agents, ok := raw["agents"].(map[string]any)
	if !ok {
		t.Fatal("missing agents section")
	}
	defaults, ok := agents["defaults"].(map[string]any)
	if !ok {
		t.Fatal("missing agents.defaults section")
	}
	model, ok := defaults["model"]
	if !ok {
		t.Fatal("expected legacy model field present in saved config")
	}
	if model != "" {
		t.Errorf("expected empty legacy model field, got %v", model)
	}
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("expected default config, got gateway port %d", cfg.Gateway.Port)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"gateway":{"host":"0.0.0.0","port":9999}}`), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Gateway.Host != "0.0.0.0" || cfg.Gateway.Port != 9999 {
		t.Errorf("unexpected gateway config: %+v", cfg.Gateway)
	}
	// Fields not present in the override file keep their defaults.
	if cfg.Archive.RetentionDays != 90 {
		t.Errorf("expected default retention days to survive partial override, got %d", cfg.Archive.RetentionDays)
	}
}

func TestMigrateChannelConfigs_DiscordMentionOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels.Discord.MentionOnly = true
	cfg.migrateChannelConfigs()
	if !cfg.Channels.Discord.GroupTrigger.MentionOnly {
		t.Error("expected mention_only to migrate into group_trigger.mention_only")
	}
}

func TestProvidersConfig_MarshalJSON_OmitsWhenEmpty(t *testing.T) {
	cfg := DefaultConfig()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := raw["providers"]; ok {
		t.Error("expected providers section to be omitted when empty")
	}
}

func TestProvidersConfig_MarshalJSON_IncludesWhenSet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.Anthropic.APIKey = "sk-ant-test"
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := raw["providers"]; !ok {
		t.Error("expected providers section present when an API key is set")
	}
}

func TestFlexibleStringSlice_UnmarshalMixedTypes(t *testing.T) {
	var f FlexibleStringSlice
	if err := json.Unmarshal([]byte(`["abc", 123, 456.0]`), &f); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	want := FlexibleStringSlice{"abc", "123", "456"}
	if len(f) != len(want) {
		t.Fatalf("unexpected length: %v", f)
	}
	for i := range want {
		if f[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, f[i], want[i])
		}
	}
}
