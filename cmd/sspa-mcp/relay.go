package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/config"
	"github.com/single-spa-inspector-pro/sspa-mcp/internal/logging"
	"github.com/single-spa-inspector-pro/sspa-mcp/internal/relay"
)

// RelayCmd starts the CDP relay in the foreground.
func RelayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Start the CDP relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd)
		},
	}
}

func runRelay(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd.Flags().Changed, os.LookupEnv)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return relay.New(cfg).ListenAndServe(ctx)
}

// loadConfig layers the base configuration, the --config file, the
// environment and finally the flags for which changed reports true.
func loadConfig(changed func(name string) bool, lookup func(string) (string, bool)) (config.Config, error) {
	cfg, err := config.Load(baseConfig, cfgFile, lookup)
	if err != nil {
		return cfg, err
	}

	if changed("port") {
		cfg.Port = portFlag
	}
	if changed("host") {
		cfg.Host = hostFlag
	}
	if changed("token") {
		cfg.Token = tokenFlag
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
