package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/netsession/simulate"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [simulate.yaml]",
	Short: "Run telnet/ssh device simulators until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.Server.SimulateConfig
		if len(args) == 1 {
			path = args[0]
		}
		sc, err := simulate.LoadConfig(path)
		if err != nil {
			return err
		}
		mgr, err := simulate.Start(sc)
		if err != nil {
			return err
		}
		defer mgr.Stop()

		ns := mgr.Namespaces()
		names := make([]string, 0, len(ns))
		for name := range ns {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-7s %s\n", name, sc.Namespace[name].Protocol, ns[name])
		}

		ctx, cancel := signalContext()
		defer cancel()
		<-ctx.Done()
		return nil
	},
}
