// Package policycmd implements the two CLI touch-points the policy engine
// exposes outside the DM admin path: a passthrough to the same admin
// handler backend DM commands use, and a standalone decision-trace dump.
package policycmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lattice-run/lattice/pkg/config"
	"github.com/lattice-run/lattice/pkg/policy"
)

// NewCommand builds the "policy" cobra command with its "admin" and
// "explain" subcommands.
func NewCommand(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect or administer the policy engine",
	}

	cmd.AddCommand(newAdminCommand(cfgPath))
	cmd.AddCommand(newExplainCommand(cfgPath))
	return cmd
}

func newAdminCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:                "admin -- <subcommand> [args...]",
		Short:              "Run a /policy admin subcommand from the CLI",
		DisableFlagParsing: true,
		RunE: func(_ *cobra.Command, args []string) error {
			engine, admin, err := loadEngineAndAdmin(*cfgPath)
			if err != nil {
				return err
			}
			defer engine.Stop()

			result := admin.Handle("cli", "cli-operator", "cli", "", strings.Join(args, " "))
			fmt.Println(result)
			return nil
		},
	}
}

func newExplainCommand(cfgPath *string) *cobra.Command {
	var channel, chatID, sender string

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the merged policy and decision trace for a channel/chat/sender",
		RunE: func(_ *cobra.Command, _ []string) error {
			engine, _, err := loadEngineAndAdmin(*cfgPath)
			if err != nil {
				return err
			}
			defer engine.Stop()

			explanation := engine.Explain(channel, chatID, sender)
			out, err := json.MarshalIndent(explanation, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal explanation: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Channel name")
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID")
	cmd.Flags().StringVar(&sender, "sender", "", "Sender ID")
	cmd.MarkFlagRequired("channel")
	cmd.MarkFlagRequired("chat")
	cmd.MarkFlagRequired("sender")

	return cmd
}

func loadEngineAndAdmin(cfgPath string) (*policy.Engine, *policy.AdminHandler, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	engine, err := policy.NewEngine(cfg.Policy.SpecPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load policy: %w", err)
	}
	admin := policy.NewAdminHandler(engine, cfg.Policy.SpecPath, cfg.Policy.StateDir)
	return engine, admin, nil
}
