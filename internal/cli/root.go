// Package cli implements the deployctl command tree.
package cli

import (
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/botdeployer/deployer/internal/client"
)

const defaultServer = "http://localhost:8000"

type options struct {
	server  string
	noColor bool
	timeout time.Duration
}

func (o *options) client() *client.Client {
	return client.New(o.server, nil)
}

// NewRootCmd builds the deployctl command; out receives all normal output.
func NewRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "deployctl",
		Short:         "Deploy WhatsApp bot presets and follow their progress",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	server := os.Getenv("DEPLOYER_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "deployer base URL (env DEPLOYER_URL)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "give up waiting after this long")

	root.AddCommand(
		newBotsCmd(opts),
		newDeployCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
	)
	return root
}
