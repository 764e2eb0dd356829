// ABOUTME: heapscan command: loads a heap snapshot, marks it and reports what is live
// ABOUTME: Can verify the marked heap and explain why an object is reachable

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gofrs/flock"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/prateek/heapscan"
	"github.com/prateek/heapscan/gc"
	"github.com/prateek/heapscan/graph"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/mirror"
	"github.com/prateek/heapscan/snapshot"
)

type options struct {
	configPath string
	workers    int
	debug      bool
	verify     bool
	why        int64
	maxPaths   int
	retained   int
	verbose    bool
}

// fileConfig is the layout of the -config file.
type fileConfig struct {
	GC   gc.Config   `yaml:"gc"`
	Heap heap.Config `yaml:"heap"`
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML file with gc and heap sections")
	flag.IntVar(&opts.workers, "workers", 0, "marking goroutines (default: from config or GOMAXPROCS)")
	flag.BoolVar(&opts.debug, "debug", false, "check scan preconditions")
	flag.BoolVar(&opts.verify, "verify", false, "verify no marked object refers to an unmarked one")
	flag.Int64Var(&opts.why, "why", 0, "print paths from snapshot object `id` to the roots")
	flag.IntVar(&opts.maxPaths, "paths", 3, "maximum paths printed by -why")
	flag.IntVar(&opts.retained, "retained", 0, "print the `n` objects retaining the most bytes")
	flag.BoolVar(&opts.verbose, "v", false, "verbose logging")
	version := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] snapshot.{json,yaml}\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Println("heapscan", heapscan.Version)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out := colorable.NewColorableStdout()
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	if err := run(ctx, flag.Arg(0), opts, out, color); err != nil {
		fmt.Fprintln(os.Stderr, "heapscan:", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (gc.Config, heap.Config, error) {
	cfg := fileConfig{GC: gc.DefaultConfig(), Heap: heap.DefaultConfig()}
	if opts.configPath != "" {
		f, err := os.Open(opts.configPath)
		if err != nil {
			return cfg.GC, cfg.Heap, err
		}
		defer f.Close()
		if cfg, err = decodeConfig(f); err != nil {
			return cfg.GC, cfg.Heap, fmt.Errorf("%s: %w", opts.configPath, err)
		}
	}
	if opts.workers > 0 {
		cfg.GC.Workers = opts.workers
	}
	if opts.debug {
		cfg.GC.Debug = true
	}
	return cfg.GC, cfg.Heap, nil
}

func run(ctx context.Context, path string, opts options, out io.Writer, color bool) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	gcCfg, heapCfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	gcCfg.Logger = logger
	gcCfg.CountScannedTypes = true

	desc, err := readSnapshot(path, logger)
	if err != nil {
		return err
	}
	img, err := snapshot.Load(desc, heapCfg, snapshot.WithLogger(logger))
	if err != nil {
		return err
	}

	ms := gc.NewMarkSweep(img.Heap, img.Linker, gcCfg)
	res, err := ms.Run(ctx, img.Roots...)
	if err != nil {
		return err
	}

	r := reporter{w: out, color: color}
	r.summary(img, res)

	if opts.verify {
		errs := gc.Verify(img.Heap, ms.Scanner())
		r.verify(errs)
		if len(errs) > 0 {
			return fmt.Errorf("verification failed with %d errors", len(errs))
		}
	}

	if opts.why == 0 && opts.retained <= 0 {
		return nil
	}
	var target *mirror.Object
	if opts.why != 0 {
		if target = img.Object(snapshot.ID(opts.why)); target == nil {
			return fmt.Errorf("%w: %d", snapshot.ErrUnknownObject, opts.why)
		}
	}

	roots := append([]*mirror.Object(nil), img.Roots...)
	img.Linker.VisitRoots(func(c *mirror.Object) { roots = append(roots, c) })
	g := gc.BuildGraph(img.Heap, ms.Scanner(), true, roots...)
	if target != nil {
		r.paths(g, graph.ObjID(target.Address()), opts.maxPaths)
	}
	if opts.retained > 0 {
		r.retainers(graph.TopRetainers(g, opts.retained))
	}
	return nil
}

// readSnapshot parses the snapshot under a shared lock on the file itself so
// a writer holding an exclusive lock cannot replace it mid-read. Files that
// cannot be locked, such as ones in read-only directories on some systems,
// are read unlocked.
func readSnapshot(path string, logger *slog.Logger) (*snapshot.Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lock := flock.New(path)
	locked, err := lock.TryRLock()
	switch {
	case errors.Is(err, fs.ErrPermission):
		logger.Warn("reading snapshot without a lock", "path", path, "err", err)
	case err != nil:
		return nil, fmt.Errorf("lock %s: %w", path, err)
	case !locked:
		return nil, errors.New(path + " is being written")
	default:
		defer lock.Unlock()
	}

	desc, err := snapshot.Open(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return desc, nil
}
