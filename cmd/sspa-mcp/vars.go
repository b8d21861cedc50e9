package cli

import (
	"github.com/spf13/cobra"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/config"
	"github.com/single-spa-inspector-pro/sspa-mcp/internal/relay"
)

// Shared CLI flags
var (
	cfgFile     string
	portFlag    int
	hostFlag    string
	tokenFlag   string
	showVersion bool

	// baseConfig is the layer under --config, the environment and flags.
	baseConfig = config.Default()
)

// SetupRootCmd configures the root command with all subcommands and flags.
// defaults, when non-nil, replaces the built-in configuration as the base
// layer. Running the root command without a subcommand starts the relay.
func SetupRootCmd(defaults *config.Config) *cobra.Command {
	if defaults != nil {
		baseConfig = *defaults
	}

	rootCmd := &cobra.Command{
		Use:   "sspa-mcp",
		Short: "single-spa Inspector Pro CDP relay",
		Long: `sspa-mcp bridges the single-spa Inspector Pro browser extension to
Chrome DevTools Protocol clients.

The extension connects to ws://127.0.0.1:<port>/extension and CDP clients
connect to ws://127.0.0.1:<port>/cdp/<clientId>.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd)
				return nil
			}
			return runRelay(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "listen port (overrides SSPA_MCP_PORT)")
	rootCmd.PersistentFlags().StringVar(&hostFlag, "host", "", "listen address (overrides SSPA_MCP_HOST)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "CDP client token (overrides SSPA_MCP_TOKEN)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "print the relay version and exit")

	rootCmd.AddCommand(RelayCmd())
	rootCmd.AddCommand(VersionCmd())

	return rootCmd
}

// Version is the relay version reported by the CLI.
const Version = relay.Version
