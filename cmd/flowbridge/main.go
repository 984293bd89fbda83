// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flowbridge tracks flows to and from a target host on an nfqueue
// and serves their state over an admin API.
package main

import (
	"fmt"
	"os"

	"grimm.is/flowbridge/cmd"
	"grimm.is/flowbridge/internal/bridge"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	sub, args := os.Args[1], os.Args[2:]

	var err error
	switch sub {
	case "run":
		err = cmd.RunDaemon(args)
	case "replay":
		err = cmd.RunReplay(args)
	case "status":
		err = cmd.RunStatus(args)
	case "flows":
		err = cmd.RunFlows(args)
	case "set-active":
		err = cmd.RunSetActive(args)
	case "set-target":
		err = cmd.RunSetTarget(args)
	case "validate":
		err = cmd.RunValidate(args)
	case "config":
		err = cmd.RunConfig(args)
	case "version":
		fmt.Println(bridge.Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", sub)
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "flowbridge %s: %v\n", sub, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: flowbridge <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  run          Run the bridge in the foreground")
	fmt.Println("  replay       Replay a pcap/pcapng file through the bridge")
	fmt.Println("  status       Show the status of a running bridge")
	fmt.Println("  flows        Show the flow table of a running bridge")
	fmt.Println("  set-active   Turn flow observation on or off")
	fmt.Println("  set-target   Change the target IPv4 address")
	fmt.Println("  validate     Check a config file")
	fmt.Println("  config       Print the effective config as HCL")
	fmt.Println("  version      Print the version")
}
