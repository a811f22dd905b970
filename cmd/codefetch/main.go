package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/codefetch/pkgs/notify"
	"github.com/emx-mail/codefetch/pkgs/verify"
)

const version = "1.0.0"

// app holds global options parsed from the command line
type app struct {
	configPath string
	account    string
	verbose    bool
	logFormat  string

	stdout io.Writer
	stderr io.Writer

	// verifyOpts are appended to every fetch; tests inject fakes here.
	verifyOpts []verify.Option
	smtpTLS    *tls.Config
	// newNotifier builds the Discord notifier for a webhook URL.
	newNotifier func(url string) *notify.Discord
	// interactive reports whether the account may be prompted for.
	interactive func() bool
	// askAccount prompts for the account, offering def as the default.
	askAccount func(def string) (string, error)
}

func newApp() *app {
	return &app{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: stdinIsTerminal,
		askAccount:  surveyAccount,
		newNotifier: notify.NewDiscord,
	}
}

func main() {
	a := newApp()

	flag.StringVar(&a.configPath, "config", "", "Config file (YAML, JSON or .env)")
	flag.StringVar(&a.account, "account", "", "Address the code was sent to")
	flag.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")
	flag.StringVar(&a.logFormat, "log-format", "", "Log format: pretty, json or text")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("codefetch v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, args[0], args[1:]); err != nil {
		stop()
		fatal("%s: %v", args[0], err)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "get":
		return a.handleGet(ctx, parseGetFlags(args))
	case "check":
		return a.handleCheck()
	case "init":
		return a.handleInit(parseInitFlags(args))
	case "selftest":
		return a.handleSelftest(ctx, parseSelftestFlags(args))
	case "help":
		printUsage()
		return nil
	}
	return fmt.Errorf("unknown command '%s'", cmd)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `codefetch v%s - Fetch verification codes from a mailbox

Usage:
  codefetch [global options] <command> [command options]

Commands:
  get        Fetch one verification code and print it
  check      Validate the configuration and show the selected transport
  init       Write an example configuration file
  selftest   Send a test code over SMTP and fetch it back

Global Options:
  --config <path>        Config file (YAML, JSON or .env)
  --account <addr>       Address the code was sent to
  -v, --verbose          Verbose output (debug logging)
  --log-format <fmt>     pretty, json or text
  --version              Show version information

Config Resolution:
  1) --config, or the CODEFETCH_CONFIG environment variable.
  2) Otherwise: .env in the working directory plus environment variables
     (run 'codefetch init --env' for the list).

Get Options:
  --attempts <n>         Outer retry attempts (default from config: 5)
  --interval <dur>       Delay between attempts (default from config: 60s)
  --no-notify            Do not post the code to the Discord webhook

Init Options:
  --output <path>        Where to write the example (default: codefetch.yaml)
  --env                  Print the supported environment variables instead

Selftest Options:
  --to <addr>            Test message recipient (default: the account)

Examples:
  codefetch get
  codefetch --account me@163.com --config codefetch.yaml get
  codefetch -v --log-format json get --attempts 3 --interval 20s
  codefetch check
  codefetch init --output ~/.config/codefetch.yaml
  codefetch selftest
`, version)
}
