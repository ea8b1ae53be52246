// mirrorctl drives a kinetic mirror-array controller from the host, over
// its USB serial console or through an MQTT broker.
//
// Usage:
//
//	mirrorctl send "MOVE:0,1200"
//	mirrorctl --transport mqtt status
//	mirrorctl watch --metrics :9464
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath  string
	transport   string
	secretsPath string
	port        string
	node        string
	connectWait time.Duration
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "mirrorctl",
		Short:         "Host runtime for the kinetic mirror-array controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file (default: built-in defaults and MIRRORCTL_* env)")
	flags.StringVarP(&opts.transport, "transport", "t", "", "link to use: serial or mqtt")
	flags.StringVar(&opts.secretsPath, "secrets", "", "firmware secrets.h to read MQTT broker defaults from")
	flags.StringVarP(&opts.port, "port", "p", "", "serial device path")
	flags.StringVar(&opts.node, "node", "", "MQTT node id to command")
	flags.DurationVar(&opts.connectWait, "connect-timeout", 10*time.Second, "how long to wait for the link")

	root.AddCommand(
		newSendCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mirrorctl %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
