package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/internal/session"
)

var execCmd = &cobra.Command{
	Use:   "exec <address>",
	Short: "Run commands on a single device",
	Long: `Log in to one device and run the given commands in order.

Examples:
  netcli exec 10.0.0.1 -t cisco_telnet -u admin -p secret -C "show version"
  netcli exec 10.0.0.1:2323 -t apresia_telnet --no-username -p secret -C "show clock" --structured`,
	Args: cobra.ExactArgs(1),
	RunE: execDevice,
}

var (
	execJob      service.DeviceJob
	execNoUser   bool
	execCommands []string
)

func init() {
	f := execCmd.Flags()
	f.StringVarP(&execJob.DeviceType, "device-type", "t", "", "Device type (see: netcli platforms)")
	f.StringVarP(&execJob.Username, "username", "u", "", "Login username")
	f.StringVarP(&execJob.Password, "password", "p", "", "Login password")
	f.StringVarP(&execJob.Secret, "secret", "s", "", "Enable secret")
	f.StringArrayVarP(&execCommands, "command", "C", nil, "Command to run (repeatable)")
	f.BoolVar(&execJob.Enable, "enable", false, "Enter privileged mode before running commands")
	f.BoolVar(&execJob.Structured, "structured", false, "Parse output with TextFSM templates")
	f.StringVar(&execJob.Template, "template", "", "Explicit TextFSM template file")
	f.IntVar(&execJob.Timeout, "timeout", 0, "Idle timeout in seconds")
	f.IntVar(&execJob.Port, "port", 0, "Port (default 23 for telnet, 22 for ssh)")
	f.BoolVar(&execNoUser, "no-username", false, "Device asks for a password only")
	_ = execCmd.MarkFlagRequired("device-type")
}

func execDevice(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	job := execJob
	job.Address = args[0]
	job.Commands = execCommands
	if execNoUser {
		no := false
		job.UsesUsername = &no
	}
	retries := 0
	cfg.Batch.PersistHistory = false
	req := &service.BatchRequest{Source: "cli", Retries: &retries, Devices: []service.DeviceJob{job}}

	res, err := execute(cfg, req, false)
	if err != nil {
		return err
	}
	d := res.Devices[0]
	if err := printValue(cmd.OutOrStdout(), d, func(w io.Writer) { printDeviceText(w, d) }); err != nil {
		return err
	}
	if !d.Success {
		return errors.New(d.Error)
	}
	return nil
}

func printDeviceText(w io.Writer, d service.DeviceResult) {
	if !d.Success && len(d.Commands) == 0 {
		return
	}
	for _, c := range d.Commands {
		if len(execCommands) > 1 {
			fmt.Fprintf(w, "--- %s\n", c.Command)
		}
		if len(c.Records) > 0 {
			_ = printRecords(w, c.Records)
			continue
		}
		fmt.Fprintln(w, c.Output)
	}
}

func printRecords(w io.Writer, records []session.Record) error {
	for _, r := range records {
		fmt.Fprintln(w, formatRecord(r))
	}
	return nil
}
