package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/single-spa-inspector-pro/sspa-mcp/internal/relay"
)

// VersionCmd prints the relay version.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd)
		},
	}
}

func printVersion(cmd *cobra.Command) {
	fmt.Fprintf(cmd.OutOrStdout(), "sspa-mcp %s (CDP %s, %s %s/%s)\n",
		Version, relay.ProtocolVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
