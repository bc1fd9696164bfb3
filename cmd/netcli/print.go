package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sshcollectorpro/netsession/internal/service"
)

// printValue 按 --output 输出；text 格式由调用方提供
func printValue(w io.Writer, v interface{}, text func(io.Writer)) error {
	switch strings.ToLower(output) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "", "text":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func printBatchText(w io.Writer, res *service.BatchResult) {
	for _, d := range res.Devices {
		fmt.Fprintf(w, "### %s\n", d.String())
		for _, c := range d.Commands {
			fmt.Fprintf(w, "--- %s (%dms)\n", c.Command, c.DurationMS)
			if c.Error != "" {
				fmt.Fprintf(w, "ERROR: %s\n", c.Error)
				continue
			}
			if len(c.Records) > 0 {
				b, _ := json.MarshalIndent(c.Records, "", "  ")
				fmt.Fprintln(w, string(b))
				continue
			}
			fmt.Fprintln(w, c.Output)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "task %s: %s (succeeded %d, failed %d, %dms)\n",
		res.TaskID, res.Status, res.Succeeded, res.Failed, res.DurationMS)
}
