package commands

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/prismmesh/config"
)

// app carries the global flags and the configuration resolved from them.
type app struct {
	spectrumDir string
	logLevel    string
	logFormat   string
	provider    string
	model       string

	cfg *config.Config
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "prismctl",
		Short: "Run and call prismmesh units",
		Long: `prismctl - A command line interface for prismmesh.

Bundled units:
  core:echo       echo, chant and repeat
  core:relay      forwards fetch and echo to their refractions
  net:fetch       HTTP GET
  ai:completion   language model completion (needs --provider)

Documents in --spectrum-dir are registered as additional units served by the
relay handler, so a unit made only of refractions needs no code.

Settings are read from PRISM_* environment variables; flags override them.

Examples:
  prismctl units
  prismctl invoke core:echo echo '{"msg":"hi"}'
  prismctl invoke --stream core:echo chant '["a","b"]'
  prismctl serve --addr :7070
  prismctl invoke --remote ws://localhost:7070 core:echo echo '"hi"'
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.spectrumDir, "spectrum-dir", "", "directory of additional spectrum documents (PRISM_SPECTRUM_DIR)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (PRISM_LOG_LEVEL)")
	flags.StringVar(&a.logFormat, "log-format", "", "text or json (PRISM_LOG_FORMAT)")
	flags.StringVar(&a.provider, "provider", "", "model backend of ai:completion: openai, anthropic or mock (PRISM_MODEL_PROVIDER)")
	flags.StringVar(&a.model, "model", "", "model name passed to the backend (PRISM_MODEL)")

	root.AddCommand(
		newUnitsCommand(a),
		newInvokeCommand(a),
		newValidateCommand(a),
		newServeCommand(a),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("spectrum-dir") {
		cfg.SpectrumDir = a.spectrumDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if flags.Changed("provider") {
		cfg.ModelProvider = a.provider
	}
	if flags.Changed("model") {
		cfg.Model = a.model
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	return nil
}
