// Package command holds the estate-chat command line.
package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "estate-chat"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

const (
	tokenEnv       = "ESTATE_CHAT_TOKEN"
	defaultBaseURL = "http://localhost:8000"
)

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Listing chat from the terminal",
		Long:          "estate-chat talks to buyers and agents about a listing over the portal's realtime channels.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("base-url", defaultBaseURL, "portal base URL")
	cmd.PersistentFlags().String("token", "", "bearer token (defaults to $"+tokenEnv+")")
	cmd.PersistentFlags().String("log-file", "", "append logs to this file")
	cmd.PersistentFlags().String("debug-addr", "", "serve counters on http://ADDR/debug/vars")

	cmd.AddCommand(
		NewLoginCmd(),
		NewWatchCmd(),
		NewRoomCmd(),
	)

	return cmd
}
