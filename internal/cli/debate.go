package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/hupe1980/atlasforge/broker"
	"github.com/hupe1980/atlasforge/internal/export"
	"github.com/hupe1980/atlasforge/orchestrator"
	"github.com/spf13/cobra"
)

type debateFlags struct {
	format      string
	output      string
	stream      bool
	graph       bool
	forceLocal  bool
	forceHosted bool
	maxTurns    int
}

func newDebateCmd(a *app) *cobra.Command {
	var f debateFlags

	cmd := &cobra.Command{
		Use:   "debate <prompt>",
		Short: "Run an orchestrated debate on a prompt",
		Long: `Run an orchestrated debate. The coordinator opens, specialists answer,
and the coordinator closes with a final answer or a summary when the debate
is halted or exhausted.

Formats: text, json, yaml, toml, md.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := export.NewExporter(f.format)
			if err != nil {
				return err
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if f.forceLocal {
				cfg.Router.ForceLocal = true
			}
			if f.forceHosted {
				cfg.Router.ForceHosted = true
			}
			if f.maxTurns > 0 {
				cfg.Orchestrator.MaxTurns = f.maxTurns
			}

			forge, err := a.newForge(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = forge.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			collectGraph := func() *broker.Graph { return nil }
			if f.graph {
				collectGraph = watchGraph(forge.Broker)
			}

			res, err := runDebate(ctx, forge.Run, strings.Join(args, " "), f.stream, cmd)
			peak := collectGraph()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if f.output != "" {
				file, err := os.Create(f.output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() { _ = file.Close() }()
				out = file
			}
			if err := exporter.Export(res, out); err != nil {
				return fmt.Errorf("failed to export result: %w", err)
			}
			if f.output != "" {
				cmd.PrintErrf("Wrote %s\n", f.output)
			}

			if f.graph {
				return printGraph(cmd, peak)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.format, "format", "f", "text", "output format (text, json, yaml, toml, md)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the result to a file instead of stdout")
	cmd.Flags().BoolVarP(&f.stream, "stream", "s", false, "print turns to stderr as they happen")
	cmd.Flags().BoolVar(&f.graph, "graph", false, "print the busiest agent graph seen during the debate to stderr")
	cmd.Flags().BoolVar(&f.forceLocal, "force-local", false, "route every request to the local backend")
	cmd.Flags().BoolVar(&f.forceHosted, "force-hosted", false, "route every request to the hosted backend")
	cmd.Flags().IntVar(&f.maxTurns, "max-turns", 0, "override the turn budget")
	cmd.MarkFlagsMutuallyExclusive("force-local", "force-hosted")

	return cmd
}

type runFunc func(ctx context.Context, prompt string) (string, <-chan orchestrator.SessionEvent, <-chan error, error)

// runDebate drains a session, echoing progress to stderr when stream is set.
func runDebate(ctx context.Context, run runFunc, prompt string, stream bool, cmd *cobra.Command) (*orchestrator.Result, error) {
	_, events, errs, err := run(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var res *orchestrator.Result
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventAgentsSelected:
			if stream {
				names := make([]string, 0, len(ev.Agents))
				for _, ag := range ev.Agents {
					names = append(names, ag.Name())
				}
				cmd.PrintErrf("agents: %s\n", strings.Join(names, ", "))
			}
		case orchestrator.EventMessageAppended:
			if stream && ev.Message != nil {
				m := ev.Message
				cmd.PrintErrf("[%d] %s -> %s: %s\n", m.Turn, m.FromName, m.ToName, m.Content)
			}
		case orchestrator.EventSessionComplete:
			res = ev.Result
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if res == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("debate ended without a result")
	}
	return res, nil
}

// watchGraph records the graph snapshot with the most links until the
// returned function is called.
func watchGraph(b *broker.Broker) func() *broker.Graph {
	events, unsubscribe := b.Subscribe(64)
	done := make(chan struct{})
	var peak *broker.Graph
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Kind != broker.EventGraph || ev.Graph == nil {
				continue
			}
			if peak == nil || len(ev.Graph.Links) >= len(peak.Links) {
				peak = ev.Graph
			}
		}
	}()
	return func() *broker.Graph {
		unsubscribe()
		<-done
		return peak
	}
}

func printGraph(cmd *cobra.Command, g *broker.Graph) error {
	if g == nil {
		g = &broker.Graph{}
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	cmd.PrintErrln(string(data))
	return nil
}
