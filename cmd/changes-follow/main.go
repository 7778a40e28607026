// Command changes-follow follows the change feed of one database and prints
// every notification as a line of JSON on stdout.
//
// Usage:
//
//	changes-follow [--config follow.yaml] [--database orders] [--mode finite] [--since 0]
//
// Settings not given on the command line come from the config file and
// CHANGEFEED_* environment variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/shogotsuneto/go-simple-changefeed/config"
)

var logger = loggo.GetLogger("changefeed.cmd")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configFile string
	database   string
	mode       string
	since      string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	f := gnuflag.NewFlagSet("changes-follow", gnuflag.ContinueOnError)
	f.SetOutput(stderr)
	f.StringVar(&opts.configFile, "config", "", "path to a YAML or JSON config file")
	f.StringVar(&opts.database, "database", "", "database to follow")
	f.StringVar(&opts.mode, "mode", "", `"continuous" or "finite"`)
	f.StringVar(&opts.since, "since", "", `cursor to start from, "now" or "0"`)
	if err := f.Parse(true, args); err != nil {
		return options{}, err
	}
	if len(f.Args()) > 0 {
		return options{}, errors.Errorf("unrecognized args: %q", f.Args())
	}
	return opts, nil
}

// loadConfig layers the command line over the file and environment.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.LoadFile(opts.configFile)
	if err != nil {
		return config.Config{}, errors.Trace(err)
	}
	if opts.database != "" {
		cfg.Database = opts.database
	}
	if opts.mode != "" {
		cfg.Reader.Mode = opts.mode
	}
	if opts.since != "" {
		cfg.Reader.Since = opts.since
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// run returns the process exit code: 0 on a clean finish, 1 on a runtime
// failure and 2 on bad usage.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		if err == gnuflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}
	if err := loggo.ConfigureLoggers(cfg.LogLevel); err != nil {
		fmt.Fprintf(stderr, "ERROR invalid log level %q: %v\n", cfg.LogLevel, err)
		return 2
	}

	if err := follow(ctx, cfg, stdout); err != nil {
		logger.Errorf("%v", err)
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 1
	}
	return 0
}
