// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cmd implements the flowbridge subcommands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"grimm.is/flowbridge/internal/api"
	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/flow"
)

// Stdout and Stderr are where subcommands write. Tests replace them.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// Printer formats numbers for human-readable output.
var Printer = message.NewPrinter(language.English)

// Output formats accepted by -o.
const (
	formatAuto  = "auto"
	formatJSON  = "json"
	formatTable = "table"
)

// resolveFormat turns "auto" into table for a terminal and JSON otherwise.
func resolveFormat(format string) (string, error) {
	switch format {
	case formatJSON, formatTable:
		return format, nil
	case formatAuto, "":
		if f, ok := Stdout.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return formatTable, nil
		}
		return formatJSON, nil
	default:
		return "", errors.Errorf(errors.KindValidation, "unknown output format %q (want auto, json or table)", format)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes status and flows in the requested format.
func printReport(format string, st bridge.Status, flows []flow.Snapshot, extra any) error {
	format, err := resolveFormat(format)
	if err != nil {
		return err
	}
	if format == formatJSON {
		if flows == nil {
			flows = []flow.Snapshot{}
		}
		return printJSON(struct {
			Status bridge.Status   `json:"status"`
			Flows  []flow.Snapshot `json:"flows"`
			Extra  any             `json:"replay,omitempty"`
		}{st, flows, extra})
	}
	return api.WriteStatusText(Stdout, st, flows)
}

// printStatus writes a bare status.
func printStatus(format string, st *bridge.Status) error {
	format, err := resolveFormat(format)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return printJSON(st)
	}
	active := "No"
	if st.Active {
		active = "Yes"
	}
	fmt.Fprintf(Stdout, "Version: %s\n", st.Version)
	fmt.Fprintf(Stdout, "Instance: %s\n", st.InstanceID)
	fmt.Fprintf(Stdout, "State: %s\n", st.State)
	fmt.Fprintf(Stdout, "Bridge Active: %s\n", active)
	fmt.Fprintf(Stdout, "Target: %s:%d\n", st.TargetAddr, st.TargetPort)
	Printer.Fprintf(Stdout, "Connections: %d/%d\n", st.ConnectionCount, st.MaxConnections)
	fmt.Fprintf(Stdout, "Flow Timeout: %s\n", st.FlowTimeout)
	fmt.Fprintf(Stdout, "Sweep Interval: %s\n", st.SweepInterval)
	return nil
}
