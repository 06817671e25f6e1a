// uplink manages the attachments of user-operated SCION ASes to the attachment points of the
// fabric.
//
// Usage:
//
//	uplink serve                  Run the HTTP API and the deployment queue
//	uplink migrate                Apply schema migrations
//	uplink seed <file.yaml>       Load an infrastructure topology
//	uplink split-brs <ap>         Rebalance the border routers of an attachment point
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/uplink/internal/config"
	"github.com/jbweber/homelab/uplink/internal/logging"
)

var (
	configPath string
	dbPath     string
	logLevel   string
	logFormat  string

	cfg *config.Config
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "uplink",
		Short:             "UserAS attachment topology manager",
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := logging.Configure(c.LogLevel, c.LogFormat); err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			cfg = c
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides db_path)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log_level)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json (overrides log_format)")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newSplitBRsCmd(),
	)
	return cmd
}

// loadConfig reads the configuration file, if any, and applies the flags set on the command
// line over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.NewConfig()
	if configPath != "" {
		var err error
		if c, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DBPath = dbPath
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		c.LogFormat = logFormat
	}
	if cmd.Name() == "serve" {
		applyServeFlags(cmd, c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
