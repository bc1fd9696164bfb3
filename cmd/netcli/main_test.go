package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/internal/session"
)

func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := output
	output = format
	t.Cleanup(func() { output = prev })
}

func TestFormatRecordSortsKeys(t *testing.T) {
	r := session.Record{"status": "up", "intf": "Gi0/1", "ipaddr": "10.0.0.1"}
	assert.Equal(t, "intf=Gi0/1 ipaddr=10.0.0.1 status=up", formatRecord(r))
}

func TestPrintValueFormats(t *testing.T) {
	res := &service.BatchResult{
		TaskID: "t1",
		Status: "success",
		Devices: []service.DeviceResult{{
			Address: "10.0.0.1", DeviceType: "cisco_telnet", Success: true,
			Commands: []service.CommandResult{{Command: "show clock", Output: "10:00"}},
		}},
		Succeeded: 1,
	}
	text := func(w io.Writer) { printBatchText(w, res) }

	withOutput(t, "json")
	var buf bytes.Buffer
	require.NoError(t, printValue(&buf, res, text))
	assert.Contains(t, buf.String(), `"task_id": "t1"`)

	withOutput(t, "yaml")
	buf.Reset()
	require.NoError(t, printValue(&buf, res, text))
	assert.Contains(t, buf.String(), "task_id: t1")

	withOutput(t, "text")
	buf.Reset()
	require.NoError(t, printValue(&buf, res, text))
	assert.Contains(t, buf.String(), "--- show clock")
	assert.Contains(t, buf.String(), "task t1: success (succeeded 1, failed 0")

	withOutput(t, "xml")
	assert.Error(t, printValue(&buf, res, text))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "exec", "platforms", "parse", "simulate"} {
		assert.True(t, names[want], want)
	}
}
