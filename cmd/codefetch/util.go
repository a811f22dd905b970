package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/logging"
)

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w (run 'codefetch init' for an example)", err)
	}
	return cfg, nil
}

// logger builds the logger from config, with -v and --log-format taking
// precedence.
func (a *app) logger(cfg *config.Config) (*slog.Logger, error) {
	opts := logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Writer:  a.stderr,
		NoColor: !isTerminal(a.stderr),
	}
	if a.verbose {
		opts.Level = "debug"
	}
	if a.logFormat != "" {
		opts.Format = a.logFormat
	}
	return logging.New(opts)
}

func stdinIsTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func isTerminal(w interface{}) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
