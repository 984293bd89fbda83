// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"flag"
	"os"
	"strconv"
	"time"

	"grimm.is/flowbridge/internal/api"
	"grimm.is/flowbridge/internal/config"
	"grimm.is/flowbridge/internal/errors"
)

// AddrEnv overrides the default API address for the control commands.
const AddrEnv = "FLOWBRIDGE_ADDR"

const ctlTimeout = 5 * time.Second

type ctlFlags struct {
	fs     *flag.FlagSet
	addr   *string
	format *string
}

func newCtlFlags(name string) *ctlFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(Stderr)

	def := os.Getenv(AddrEnv)
	if def == "" {
		def = config.DefaultAPIListen
	}
	return &ctlFlags{
		fs:     fs,
		addr:   fs.String("addr", def, "API server address (env "+AddrEnv+")"),
		format: fs.String("o", formatAuto, "Output format: auto, json or table"),
	}
}

func (f *ctlFlags) client() (*api.Client, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), ctlTimeout)
	return api.NewClient(*f.addr), ctx, cancel
}

// RunStatus prints the status of a running bridge.
func RunStatus(args []string) error {
	f := newCtlFlags("status")
	if err := f.fs.Parse(args); err != nil {
		return err
	}

	c, ctx, cancel := f.client()
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	return printStatus(*f.format, st)
}

// RunFlows prints the status and flow table of a running bridge.
func RunFlows(args []string) error {
	f := newCtlFlags("flows")
	if err := f.fs.Parse(args); err != nil {
		return err
	}

	c, ctx, cancel := f.client()
	defer cancel()

	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	flows, err := c.Flows(ctx)
	if err != nil {
		return err
	}
	return printReport(*f.format, *st, flows.Flows, nil)
}

// RunSetActive turns observation on or off: set-active <true|false|1|0>.
func RunSetActive(args []string) error {
	f := newCtlFlags("set-active")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if f.fs.NArg() != 1 {
		return errors.New(errors.KindValidation, "usage: flowbridge set-active [flags] <true|false>")
	}
	active, err := strconv.ParseBool(f.fs.Arg(0))
	if err != nil {
		return errors.Wrapf(err, errors.KindValidation, "invalid value %q", f.fs.Arg(0))
	}

	c, ctx, cancel := f.client()
	defer cancel()

	st, err := c.SetActive(ctx, active)
	if err != nil {
		return err
	}
	return printStatus(*f.format, st)
}

// RunSetTarget changes the target address: set-target <a.b.c.d>.
func RunSetTarget(args []string) error {
	f := newCtlFlags("set-target")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	if f.fs.NArg() != 1 {
		return errors.New(errors.KindValidation, "usage: flowbridge set-target [flags] <ipv4-address>")
	}

	c, ctx, cancel := f.client()
	defer cancel()

	st, err := c.SetTarget(ctx, f.fs.Arg(0))
	if err != nil {
		return err
	}
	return printStatus(*f.format, st)
}
