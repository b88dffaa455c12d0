// Command webcached wires internal/config, internal/logging, the webcache
// façade, and internal/webserver into a runnable demo binary: config file in,
// a range-aware HTTP cache server out.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rosalind/webcache"
	"github.com/rosalind/webcache/internal/config"
	"github.com/rosalind/webcache/internal/logging"
	"github.com/rosalind/webcache/internal/version"
	"github.com/rosalind/webcache/internal/webserver"
)

// cliOptions collects parsed CLI flags so tests can invoke run directly.
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run executes the parsed CLI options and returns a process exit code.
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "loading config: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "initializing logger: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["groups"] = len(cfg.Groups)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("config validated")
		return 0
	}

	logEntry := logrus.NewEntry(logger)
	cache, err := webcache.Open(cfg, logEntry)
	if err != nil {
		fmt.Fprintf(stdErr, "opening cache: %v\n", err)
		return 1
	}
	defer cache.Close()

	stats := &webserver.Stats{}
	stopSweep := startSweepLoop(cache, cfg.Global.SweepInterval.DurationValue(), stats)
	defer stopSweep()

	app, err := webserver.New(webserver.Options{Cache: cache, Logger: logger, Stats: stats})
	if err != nil {
		fmt.Fprintf(stdErr, "building webserver: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["groups"] = len(cfg.Groups)
	fields["listen_address"] = cfg.Global.ListenAddress
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("config loaded")

	if err := app.Listen(cfg.Global.ListenAddress); err != nil {
		fmt.Fprintf(stdErr, "serving: %v\n", err)
		return 1
	}
	return 0
}

// startSweepLoop runs RemoveExpired on an interval until the returned stop
// function is called, recording one sweep per tick in stats.
func startSweepLoop(cache *webcache.Cache, interval time.Duration, stats *webserver.Stats) func() {
	if interval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				cache.RemoveExpired()
				stats.RecordSweep()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// parseCLIFlags parses CLI arguments, falling back to the WEBCACHE_CONFIG
// environment variable and then a config.toml default.
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("webcached", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "config file path (defaults to ./config.toml, overridable via WEBCACHE_CONFIG)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate the config and exit")
	fs.BoolVar(&showVer, "version", false, "print version information")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parsing flags: %w", err)
	}

	path := os.Getenv("WEBCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
