package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/netsession/internal/session"
)

var parseCmd = &cobra.Command{
	Use:   "parse <output.txt|->",
	Short: "Parse saved command output with TextFSM templates",
	Long: `Convert raw command output into records using the ntc-templates index
or an explicit template.

Examples:
  netcli parse show_ip_int_brief.txt --platform cisco_ios --command "show ip interface brief"
  cat out.txt | netcli parse - --template ./my_template.textfsm -o json`,
	Args: cobra.ExactArgs(1),
	RunE: parseOutput,
}

var (
	parsePlatform string
	parseCommand  string
	parseTemplate string
)

func init() {
	parseCmd.Flags().StringVar(&parsePlatform, "platform", "", "Platform or device type")
	parseCmd.Flags().StringVar(&parseCommand, "command", "", "Command that produced the output")
	parseCmd.Flags().StringVar(&parseTemplate, "template", "", "Explicit template file")
}

func parseOutput(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	var raw []byte
	if args[0] == "-" {
		raw, err = io.ReadAll(cmd.InOrStdin())
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return err
	}
	records, err := cfg.NewConverter().Convert(string(raw), parsePlatform, parseCommand, parseTemplate)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records parsed")
	}
	return printValue(cmd.OutOrStdout(), records, func(w io.Writer) { _ = printRecords(w, records) })
}

// formatRecord 按键名排序输出 key=value
func formatRecord(r session.Record) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, r[k]))
	}
	return strings.Join(parts, " ")
}
