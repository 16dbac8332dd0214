// asynchttp is a command-line front end for the pooled HTTP client module.
//
// It builds the client container from a TOML configuration file plus
// property overrides and issues requests through it.
//
// Usage:
//
//	asynchttp [flags] <command> [args]
//
// Commands:
//
//	fetch URL...   Fetch URLs concurrently and print "status bytes url",
//	               or "ERR url code=N error" for failed requests
//	metrics URL... Fetch URLs, then print Prometheus metrics
//	config         Print the effective configuration as TOML
//	init           Write the effective configuration to -config
//	version        Print version and exit
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.asynchttp/config.toml")
//	-D key=value
//	    Set a property, for example -D feign.httpclient.hc5.async.enabled=true (repeatable)
//	-timeout duration
//	    Overall deadline for fetches (default 30s)
//	-v
//	    Enable verbose logging
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/asynchttp/lib/client"
	"github.com/go-i2p/asynchttp/lib/config"
	"github.com/go-i2p/asynchttp/lib/container"
	apperrors "github.com/go-i2p/asynchttp/lib/errors"
	"github.com/go-i2p/asynchttp/lib/metrics"
	"github.com/go-i2p/asynchttp/version"
)

// maxConcurrentFetches bounds the number of requests issued at once.
const maxConcurrentFetches = 16

// properties collects repeated -D flags.
type properties []string

func (p *properties) String() string {
	return strings.Join(*p, ",")
}

func (p *properties) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*p = append(*p, v)
	return nil
}

type options struct {
	configPath string
	props      properties
	timeout    time.Duration
	verbose    bool
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	signal.Stop(sigChan)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	var opts options
	fs := flag.NewFlagSet("asynchttp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", filepath.Join(homeDir, ".asynchttp", "config.toml"), "Path to configuration file")
	fs.Var(&opts.props, "D", "Set a property as key=value (repeatable)")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Overall deadline for fetches")
	fs.BoolVar(&opts.verbose, "v", false, "Enable verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "asynchttp - pooled async HTTP client\n\n")
		fmt.Fprintf(stderr, "Usage:\n")
		fmt.Fprintf(stderr, "  asynchttp [flags] fetch URL...     Fetch URLs concurrently\n")
		fmt.Fprintf(stderr, "  asynchttp [flags] metrics URL...   Fetch URLs, then print metrics\n")
		fmt.Fprintf(stderr, "  asynchttp [flags] config           Print the effective configuration\n")
		fmt.Fprintf(stderr, "  asynchttp [flags] init             Write the configuration file\n")
		fmt.Fprintf(stderr, "  asynchttp version                  Print version\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nProperties:\n")
		for _, key := range config.PropertyKeys() {
			fmt.Fprintf(stderr, "  %s\n", key)
		}
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return 2
	}

	switch rest[0] {
	case "version":
		fmt.Fprintf(stdout, "asynchttp version %s\n", version.Full())
		return 0
	case "config":
		return handleConfig(opts, stdout, logger)
	case "init":
		return handleInit(opts, stdout, logger)
	case "fetch":
		return handleFetch(ctx, opts, rest[1:], stdout, logger, false)
	case "metrics":
		return handleFetch(ctx, opts, rest[1:], stdout, logger, true)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", rest[0])
		fs.Usage()
		return 2
	}
}

// loadProperties reads the configuration file and applies -D overrides.
func loadProperties(opts options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.SetProperties(opts.props...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func handleConfig(opts options, stdout io.Writer, logger *slog.Logger) int {
	cfg, err := loadProperties(opts)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	data, err := cfg.Marshal()
	if err != nil {
		logger.Error("failed to encode config", "error", err)
		return 1
	}
	stdout.Write(data)
	return 0
}

func handleInit(opts options, stdout io.Writer, logger *slog.Logger) int {
	cfg, err := loadProperties(opts)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}
	if err := config.SaveConfig(cfg, opts.configPath); err != nil {
		logger.Error("failed to write config", "path", opts.configPath, "error", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s\n", opts.configPath)
	return 0
}

// fetchResult is one line of fetch output.
type fetchResult struct {
	url    string
	status int
	bytes  int
	err    error
}

func handleFetch(ctx context.Context, opts options, urls []string, stdout io.Writer, logger *slog.Logger, showMetrics bool) int {
	if len(urls) == 0 {
		logger.Error("fetch requires at least one URL")
		return 2
	}

	cfg, err := loadProperties(opts)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	c, err := container.New(cfg)
	if err != nil {
		logger.Error("failed to create client container", "error", err)
		return 1
	}
	go logEvents(c.Events(), logger.With("component", "container"))

	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start client container", "error", err)
		return 1
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	execute, err := executor(c)
	if err != nil {
		logger.Error("no client available", "error", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	results := make([]fetchResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, u := range urls {
		g.Go(func() error {
			resp, err := execute(gctx, client.NewRequest(http.MethodGet, u, nil))
			results[i] = fetchResult{url: u, err: err}
			if err == nil {
				results[i].status = resp.Status
				results[i].bytes = len(resp.Body)
			}
			return nil
		})
	}
	g.Wait()

	code := 0
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(stdout, "ERR %s code=%d %v\n", r.url, apperrors.CodeOf(r.err), r.err)
			code = 1
			continue
		}
		fmt.Fprintf(stdout, "%d %d %s\n", r.status, r.bytes, r.url)
	}

	if showMetrics {
		fmt.Fprint(stdout, metrics.Expose())
	}
	return code
}

// executor prefers the async client and falls back to the blocking one.
func executor(c *container.Container) (func(context.Context, *client.Request) (*client.Response, error), error) {
	if ac := c.AsyncClient(); ac != nil {
		return func(ctx context.Context, req *client.Request) (*client.Response, error) {
			return ac.Execute(ctx, req, nil).Get(ctx)
		}, nil
	}
	if sc := c.Client(); sc != nil {
		return func(ctx context.Context, req *client.Request) (*client.Response, error) {
			return sc.Execute(ctx, req, nil)
		}, nil
	}
	return nil, errors.New("enable feign.httpclient.hc5.async.enabled or feign.httpclient.hc5.enabled")
}

func logEvents(events <-chan container.Event, logger *slog.Logger) {
	for ev := range events {
		if ev.Error != nil {
			logger.Warn(ev.Message, "event", ev.Type, "kind", ev.Component, "error", ev.Error)
			continue
		}
		logger.Debug(ev.Message, "event", ev.Type, "kind", ev.Component)
	}
}
