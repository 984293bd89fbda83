// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/capture"
	"grimm.is/flowbridge/internal/clock"
	"grimm.is/flowbridge/internal/errors"
)

// RunReplay feeds a pcap or pcapng file through a bridge driven by packet
// timestamps and prints the final status and flows.
func RunReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(Stderr)
	configPath := fs.String("config", "", "Path to config file (HCL, JSON or YAML)")
	target := fs.String("target", "", "Override the target address")
	format := fs.String("o", formatAuto, "Output format: auto, json or table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New(errors.KindValidation, "usage: flowbridge replay [flags] <capture-file>")
	}
	path := fs.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	bcfg, err := cfg.BridgeSettings()
	if err != nil {
		return err
	}
	if *target != "" {
		if bcfg.TargetAddr, err = bridge.ParseTarget(*target); err != nil {
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, errors.KindNotFound, "open capture %s", path)
	}
	defer f.Close()

	clk := clock.NewMockClock(time.Unix(0, 0))
	ctrl, err := bridge.New(bcfg, bridge.Options{Clock: clk, Logger: logger, ManualSweep: true})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stats, err := capture.NewReplayer(ctrl, clk, bcfg.SweepInterval, logger).Replay(ctx, f)
	if err != nil {
		return err
	}

	if err := printReport(*format, ctrl.Status(), ctrl.Flows(), stats); err != nil {
		return err
	}
	if resolved, _ := resolveFormat(*format); resolved == formatTable {
		Printer.Fprintf(Stdout, "\nReplayed %d packets (%d delivered, %d skipped), %d sweeps expired %d flows\n",
			stats.Packets, stats.Delivered, stats.Skipped, stats.Sweeps, stats.Expired)
	}
	return nil
}
