package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/atlasforge/agent"
	"github.com/hupe1980/atlasforge/config"
	"github.com/hupe1980/atlasforge/core"
	"github.com/hupe1980/atlasforge/orchestrator"
	"github.com/spf13/cobra"
)

func newAskCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ask <agent> <message>",
		Short: "Send one question to a single agent and print its reply",
		Long: `Spawn one agent from the configured roster (or the default roster) and
ask it a question. The reply is printed once the agent answers.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			spec, ok := findSpec(rosterOf(cfg), args[0])
			if !ok {
				return fmt.Errorf("%w: %s", core.ErrAgentNotFound, args[0])
			}

			forge, err := a.newForge(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = forge.Close() }()

			target, err := forge.Spawn(spec, func(o *agent.Options) { o.AutonomyInterval = 0 })
			if err != nil {
				return err
			}
			defer target.Dispose()

			replies := make(chan core.Message, 1)
			caller, err := agent.NewRuntime(forge.Broker,
				core.AgentDescriptor{Name: core.CallerTopic, Role: "caller"},
				agent.HandlerFunc(func(_ context.Context, _ *agent.Runtime, msg core.Message) error {
					if msg.From == target.ID() {
						select {
						case replies <- msg:
						default:
						}
					}
					return nil
				}),
				func(o *agent.Options) { o.AutonomyInterval = 0 },
			)
			if err != nil {
				return err
			}
			defer caller.Dispose()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			question := strings.Join(args[1:], " ")
			if _, err := caller.SendMessage(ctx, target.ID(), core.MessageQuestion, question, map[string]any{
				core.MetaThread: core.NewID(),
			}); err != nil {
				return err
			}

			select {
			case reply := <-replies:
				cmd.Println(reply.Content)
				return nil
			case <-ctx.Done():
				return fmt.Errorf("no reply from %s: %w", spec.Name, ctx.Err())
			}
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the reply")
	return cmd
}

// rosterOf returns the configured agents or the built-in roster.
func rosterOf(cfg *config.Config) []agent.Spec {
	if len(cfg.Agents) > 0 {
		return cfg.Agents
	}
	return orchestrator.DefaultRoster()
}

func findSpec(roster []agent.Spec, name string) (agent.Spec, bool) {
	for _, s := range roster {
		if strings.EqualFold(strings.TrimSpace(s.Name), strings.TrimSpace(name)) {
			return s, true
		}
	}
	return agent.Spec{}, false
}
