// Package serve implements the "serve" subcommand: it wires every
// SPEC_FULL component (archive, memory, policy, security, the 13-stage
// pipeline, the channel manager and its adapters, the bridge-facing
// orchestrator) into one running process and blocks until interrupted.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/lattice-run/lattice/pkg/archive"
	"github.com/lattice-run/lattice/pkg/bus"
	"github.com/lattice-run/lattice/pkg/cache"
	"github.com/lattice-run/lattice/pkg/channels"
	_ "github.com/lattice-run/lattice/pkg/channels/discord"
	_ "github.com/lattice-run/lattice/pkg/channels/feishu"
	_ "github.com/lattice-run/lattice/pkg/channels/telegram"
	_ "github.com/lattice-run/lattice/pkg/channels/whatsapp"
	_ "github.com/lattice-run/lattice/pkg/channels/whatsapp_native"
	"github.com/lattice-run/lattice/pkg/config"
	"github.com/lattice-run/lattice/pkg/health"
	"github.com/lattice-run/lattice/pkg/logger"
	"github.com/lattice-run/lattice/pkg/media"
	"github.com/lattice-run/lattice/pkg/memory"
	"github.com/lattice-run/lattice/pkg/orchestrator"
	"github.com/lattice-run/lattice/pkg/pipeline"
	"github.com/lattice-run/lattice/pkg/policy"
	"github.com/lattice-run/lattice/pkg/responder/anthropic"
	"github.com/lattice-run/lattice/pkg/security"
)

const (
	botSenderID         = "assistant"
	shutdownTimeout     = 15 * time.Second
	defaultMaxTokens    = 1024
	memoryQueueFallback = 256
)

func maxTokensOrDefault(cfg *config.Config) int64 {
	if cfg.Agents.Defaults.MaxTokens > 0 {
		return int64(cfg.Agents.Defaults.MaxTokens)
	}
	return defaultMaxTokens
}

// NewCommand builds the "serve" cobra command.
func NewCommand(cfgPath *string, debug *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant runtime: pipeline, channels, policy, memory",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(*cfgPath, *debug)
		},
	}
}

func run(cfgPath string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	workspace := cfg.WorkspacePath()

	archiveStore, err := archive.Open(resolvePath(workspace, cfg.Archive.DBPath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	memoryStore, err := memory.Open(resolvePath(workspace, cfg.Memory.DBPath))
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	policyEngine, err := policy.NewEngine(resolvePath(workspace, cfg.Policy.SpecPath))
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	policyEngine.Start()
	defer policyEngine.Stop()

	policyAdmin := policy.NewAdminHandler(policyEngine, resolvePath(workspace, cfg.Policy.SpecPath), resolvePath(workspace, cfg.Policy.StateDir))

	secSpecs, err := security.LoadRuleSpecs(resolvePath(workspace, "security_rules.json"))
	if err != nil {
		return fmt.Errorf("load security rules: %w", err)
	}
	secEngine, err := security.Compile(secSpecs)
	if err != nil {
		return fmt.Errorf("compile security rules: %w", err)
	}

	queueSize := cfg.Memory.QueueSize
	if queueSize <= 0 {
		queueSize = memoryQueueFallback
	}
	capturer := memory.NewCapturer(memoryStore, memory.NewHeuristicExtractor(), memory.CaptureConfig{
		Channels:            cfg.Memory.Channels,
		CaptureAssistant:    cfg.Memory.CaptureAssistant,
		MinConfidence:       cfg.Memory.MinConfidence,
		MinSalience:         cfg.Memory.MinSalience,
		OwnerOnlyPreference: cfg.Memory.OwnerOnlyPreference,
	}, queueSize)

	recaller := memory.NewRecaller(memoryStore, memory.DefaultRecallWeights)

	dedupTTL := time.Duration(cfg.Archive.DedupTTLSecs) * time.Second
	dedupCache := cache.New(dedupTTL, cfg.Archive.DedupMaxSize)

	apiKey := cfg.GetAPIKey()
	if apiKey == "" {
		return fmt.Errorf("no Anthropic API key configured; set providers.anthropic.api_key")
	}
	responderAdapter := anthropic.New(apiKey, anthropicsdk.Model(cfg.Agents.Defaults.GetModelName()), maxTokensOrDefault(cfg))

	runner := pipeline.New(
		pipeline.Normalize(),
		pipeline.Dedup(dedupCache),
		pipeline.Archive(archiveStore),
		pipeline.ReplyContextEnrich(archiveStore, botSenderID),
		pipeline.AdminCommand(policyEngine, policyAdmin),
		pipeline.Policy(policyEngine),
		pipeline.IdeaCapture(memoryStore),
		pipeline.AccessControl(),
		pipeline.NewChatNotify(),
		pipeline.NoReplyFilter(),
		pipeline.InputSecurity(secEngine),
		pipeline.ResponderStage(responderAdapter, recaller, secEngine),
		pipeline.Outbound(nil),
	)

	mediaStore := media.NewFileMediaStoreWithCleanup(media.MediaCleanerConfig{
		Enabled:  cfg.Tools.MediaCleanup.Enabled,
		MaxAge:   time.Duration(cfg.Tools.MediaCleanup.MaxAge) * time.Minute,
		Interval: time.Duration(cfg.Tools.MediaCleanup.Interval) * time.Minute,
	})
	mediaStore.Start()

	msgBus := bus.NewMessageBus()

	channelManager, err := channels.NewManager(cfg, msgBus, mediaStore)
	if err != nil {
		mediaStore.Stop()
		return fmt.Errorf("create channel manager: %w", err)
	}

	enabled := channelManager.GetEnabledChannels()
	if len(enabled) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", enabled)
	} else {
		fmt.Println("⚠ Warning: no channels enabled")
	}

	orch := orchestrator.New(msgBus, runner, channelManager, capturer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go capturer.Run(ctx)
	go func() {
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorCF("serve", "orchestrator stopped", map[string]any{"error": err.Error()})
		}
	}()

	retentionDays := cfg.Archive.RetentionDays
	if retentionDays <= 0 {
		retentionDays = 90
	}
	sweeper := archive.NewRetentionSweeper(archiveStore, time.Duration(retentionDays)*24*time.Hour, cfg.Archive.SweepHour)
	sweeper.Start()

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	channelManager.SetupHTTPServer(addr, healthServer)

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
	}
	fmt.Printf("✓ Runtime started, health endpoints at http://%s/health and /ready\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	msgBus.Close()
	sweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	channelManager.StopAll(shutdownCtx)
	mediaStore.Stop()

	fmt.Println("✓ Stopped")
	return nil
}

func resolvePath(workspace, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
