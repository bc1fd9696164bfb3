package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/netsession/addone/platform"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List supported device types",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := transport.ParseMode(platformsMode)
		if err != nil {
			return err
		}
		names := platform.Platforms(mode)
		return printValue(cmd.OutOrStdout(), names, func(w io.Writer) {
			for _, name := range names {
				plugin, err := platform.Lookup(mode, name)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "%-20s %-8s %s\n", name, plugin.Protocol(), plugin.Name())
			}
		})
	},
}

var platformsMode string

func init() {
	platformsCmd.Flags().StringVar(&platformsMode, "mode", "blocking", "I/O mode: blocking or suspend")
}
