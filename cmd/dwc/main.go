package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pthm/dwc"
	"github.com/pthm/dwc/devtools"
	"github.com/pthm/dwc/lib/inventory"
	"github.com/pthm/dwc/lib/manifest"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		if err := runManifest(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "inspect":
		if err := runInspect(args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("dwc version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`dwc - discoverable components for Go

Usage:
  dwc <command> [arguments]

Commands:
  run <manifest.hcl>     Mount the manifest's components and play its steps
  inspect [packages]     List component classes declared in Go source (e.g., ./...)
  version                Print version
  help                   Show this help

Options for run:
  --trace                Print trace log entries as JSON lines
  --serve <addr>         Keep running and serve dev tools and metrics on addr
  --verbose              Log debug output

Options for inspect:
  --format <f>           Output format: text, yaml or json (default text)
  --tests                Include _test.go files

Examples:
  dwc run shop.hcl                         Run a scenario
  dwc run --trace --serve :8080 shop.hcl   Run, then inspect at http://localhost:8080/_dwc/
  dwc inspect ./...                        List all classes
  dwc inspect --format yaml ./components   Classes of one package as YAML`)
}

type runArgs struct {
	path    string
	trace   bool
	serve   string
	verbose bool
}

func parseRunArgs(args []string) (runArgs, error) {
	var ra runArgs
	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--trace":
			ra.trace = true
		case "--verbose":
			ra.verbose = true
		case "--serve":
			if i+1 >= len(args) {
				return ra, errors.New("--serve needs an address")
			}
			i++
			ra.serve = args[i]
		default:
			if ra.path != "" {
				return ra, fmt.Errorf("unexpected argument: %s", arg)
			}
			ra.path = arg
		}
	}
	if ra.path == "" {
		return ra, errors.New("run needs a manifest file")
	}
	return ra, nil
}

func runManifest(args []string) error {
	ra, err := parseRunArgs(args)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if ra.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	m, err := manifest.Load(ra.path)
	if err != nil {
		return err
	}
	storeOpts, err := m.StoreOptions()
	if err != nil {
		return err
	}
	store := dwc.NewStore(append(storeOpts, dwc.WithLogger(logger))...)
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The recorder must be subscribed before the first step so the gateway
	// traces it.
	var rec *devtools.Recorder
	if ra.serve != "" {
		rec = devtools.NewRecorder(store)
		rec.Start()
		defer rec.Stop()
	}

	runnerOpts := []manifest.RunnerOption{manifest.WithOutput(os.Stdout)}
	if ra.trace {
		runnerOpts = append(runnerOpts, manifest.WithTraceOutput(os.Stdout))
	}
	runner, err := manifest.NewRunner(m, store, runnerOpts...)
	if err != nil {
		return err
	}
	defer runner.Close(context.Background())

	if err := runner.Run(ctx); err != nil {
		return err
	}
	logger.Info("scenario finished", "manifest", ra.path, "steps", len(m.Steps), "components", store.Registry().Len())

	if ra.serve == "" {
		return nil
	}
	return serve(ctx, logger, ra.serve, store, rec)
}

func serve(ctx context.Context, logger *slog.Logger, addr string, store *dwc.Store, rec *devtools.Recorder) error {
	mux := http.NewServeMux()
	mux.Handle(devtools.DefaultBasePath, devtools.Handler(store, rec))
	mux.Handle("/metrics", promhttp.HandlerFor(store.Gatherer(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving dev tools", "addr", addr, "path", devtools.DefaultBasePath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runInspect(args []string) error {
	format := inventory.FormatText
	var opts inventory.Options
	var patterns []string

	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--format":
			if i+1 >= len(args) {
				return errors.New("--format needs a value")
			}
			i++
			f, err := inventory.ParseFormat(args[i])
			if err != nil {
				return err
			}
			format = f
		case "--tests":
			opts.IncludeTests = true
		default:
			patterns = append(patterns, arg)
		}
	}

	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	decls, err := inventory.New(opts).Scan(patterns...)
	if err != nil {
		return err
	}
	return inventory.Write(os.Stdout, decls, format)
}
