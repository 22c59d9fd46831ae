// Package cmd provides the CLI commands for dbgctl.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inercia/dbgctl/internal/appdir"
	"github.com/inercia/dbgctl/internal/config"
	"github.com/inercia/dbgctl/internal/logging"
)

var (
	// Global flags
	configPath    string
	backendName   string
	debug         bool
	logLevel      string
	logFile       string
	logComponents string
	trafficFile   string

	// Loaded configuration
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dbgctl",
	Short: "dbgctl - drive a debugger session from the terminal, the browser or an agent",
	Long: `dbgctl controls one debugging session through a Debug Adapter Protocol
backend such as "dlv dap" or "gdb -i dap".

Commands are queued and sent to the backend one at a time, in the order
they were given, while interrupt and quit always go out immediately.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}

		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.LoadOrDefault(config.DefaultConfigPath())
		}
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := logging.Initialize(loggingConfig(cfg.Logging)); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create dbgctl directory: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default ~/.dbgctlrc, or $DBGCTLRC)")
	rootCmd.PersistentFlags().StringVarP(&backendName, "backend", "b", "", "Backend to use (defaults to the first one in the configuration)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to the console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g. 'controller,backend'). Empty means all.")
	rootCmd.PersistentFlags().StringVar(&trafficFile, "traffic", "", "Write a rotating transcript of backend traffic to this file")
}

// loggingConfig merges the configuration file with the command line flags,
// which take precedence.
func loggingConfig(lc config.LoggingConfig) logging.Config {
	out := logging.Config{
		Level:      lc.Level,
		FileLevel:  lc.FileLevel,
		LogFile:    lc.File,
		JSON:       lc.JSON,
		Components: lc.Components,
	}
	if out.Level == "" {
		out.Level = "info"
	}
	if debug {
		out.Level = "debug"
	}
	if logLevel != "" {
		out.Level = logLevel
	}
	if logFile != "" {
		out.LogFile = logFile
	}
	if comps := splitList(logComponents); len(comps) > 0 {
		out.Components = comps
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
