// Package cli implements the atlasforge command line.
package cli

import (
	"io"
	"os"

	"github.com/hupe1980/atlasforge"
	"github.com/hupe1980/atlasforge/config"
	"github.com/hupe1980/atlasforge/model"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion sets the build information reported by the version command.
func SetVersion(v, c string) {
	version, commit = v, c
}

// Options configures the command tree. Backends left nil are built from the
// loaded configuration.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Local  model.Model
	Hosted model.Model
}

type app struct {
	opts       Options
	configPath string
	logLevel   string
	logFormat  string
}

// Execute runs the command line with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd(optFns ...func(o *Options)) *cobra.Command {
	opts := Options{Stdout: os.Stdout, Stderr: os.Stderr}
	for _, fn := range optFns {
		fn(&opts)
	}
	a := &app{opts: opts}

	rootCmd := &cobra.Command{
		Use:   "atlasforge",
		Short: "Coordinate debating LLM agents",
		Long: `atlasforge runs multi-agent debates on top of a message broker.

A coordinator agent and a few specialists exchange messages, a conversation
governor stops them from looping, and a backend router decides per request
whether a local or a hosted model answers.

Quick Start:
  atlasforge config init                     # write atlasforge.yaml
  atlasforge debate "Plan a product launch"  # run a debate
  atlasforge ask Researcher "What is RAG?"   # talk to a single agent`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(opts.Stdout)
	rootCmd.SetErr(opts.Stderr)

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: ./atlasforge.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "override log format (text, json)")

	rootCmd.AddCommand(
		newDebateCmd(a),
		newAskCmd(a),
		newAgentsCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies the global flag overrides.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	return cfg, nil
}

func (a *app) newForge(cfg *config.Config) (*atlasforge.Forge, error) {
	return atlasforge.New(func(o *atlasforge.Options) {
		o.Config = cfg
		o.Local = a.opts.Local
		o.Hosted = a.opts.Hosted
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("atlasforge %s (commit: %s)\n", version, commit)
		},
	}
}
