package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/codefetch/pkgs/config"
)

type initFlags struct {
	output string
	env    bool
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.StringVar(&f.output, "output", "codefetch.yaml", "Where to write the example config")
	fs.BoolVar(&f.env, "env", false, "Print the supported environment variables instead")
	if err := fs.Parse(args); err != nil {
		fatal("init: %v", err)
	}
	return f
}

func (a *app) handleInit(f initFlags) error {
	if f.env {
		config.EnvUsage(a.stdout)
		return nil
	}

	if _, err := os.Stat(f.output); err == nil {
		return fmt.Errorf("%s already exists", f.output)
	}
	if err := config.Save(f.output, config.Example()); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Created config file at: %s\n", f.output)
	if os.Getenv(config.EnvConfigPath) == "" {
		fmt.Fprintf(a.stdout, "Tip: set %s=%s or pass --config to use this file.\n", config.EnvConfigPath, f.output)
	}
	fmt.Fprintln(a.stdout, "Please edit the file to add your mailbox credentials.")
	return nil
}
