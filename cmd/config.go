// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"flag"
	"fmt"

	"grimm.is/flowbridge/internal/config"
	"grimm.is/flowbridge/internal/errors"
)

// RunValidate loads a config file and reports every problem found.
func RunValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New(errors.KindValidation, "usage: flowbridge validate <config-file>")
	}
	path := fs.Arg(0)

	if _, err := config.LoadFile(path); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			fmt.Fprintf(Stdout, "Configuration %s has %d error(s):\n", path, len(verrs))
			for _, v := range verrs {
				fmt.Fprintf(Stdout, "  - %s\n", v.Error())
			}
		}
		return err
	}

	fmt.Fprintf(Stdout, "Configuration %s is valid\n", path)
	return nil
}

// RunConfig prints the effective configuration, defaults filled in, as HCL.
func RunConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(Stderr)
	configPath := fs.String("config", "", "Path to config file (HCL, JSON or YAML)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	_, err = Stdout.Write(config.MarshalHCL(cfg))
	return err
}
