package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalscript/loader"
)

// AddPersistentFlags registers the flags shared by every subcommand.
func AddPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	root.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")
	root.PersistentFlags().String("config", "", "Path to petalscript.yaml (default: ./petalscript.yaml, then ~/.petalscript/config.yaml)")
}

// settings is the merged view of the config file and persistent flags.
type settings struct {
	cfg        loader.Config
	configPath string
	logger     *slog.Logger
	diag       diagPrinter
}

func resolveSettings(cmd *cobra.Command) (*settings, error) {
	explicit, _ := cmd.Flags().GetString("config")
	configPath, found, err := loader.DiscoverConfigPath(explicit)
	if err != nil {
		return nil, exitError(exitInputParse, "%v", err)
	}

	cfg := loader.DefaultConfig()
	if found {
		cfg, err = loader.LoadConfig(configPath)
		if err != nil {
			return nil, exitError(exitInputParse, "%v", err)
		}
	} else {
		cfg.ApplyEnv()
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	logger := newLogger(cmd.ErrOrStderr(), verbose, quiet)
	if found {
		logger.Debug("loaded config", "path", configPath)
	}

	return &settings{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		diag:       newDiagPrinter(cmd.ErrOrStderr(), noColor || cfg.NoColor),
	}, nil
}

func newLogger(w io.Writer, verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
