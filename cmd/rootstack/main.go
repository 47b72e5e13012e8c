package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/rootstack"
	"github.com/wippyai/rootstack/cache"
	"github.com/wippyai/rootstack/frame"
	"github.com/wippyai/rootstack/heap"
	"github.com/wippyai/rootstack/runtime"
	"github.com/wippyai/rootstack/stack"
	"github.com/wippyai/rootstack/task"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to TOML config file")
		slots       = flag.Int("slots", 0, "Task slots per worker (overrides config)")
		workers     = flag.Int("workers", 0, "Worker loops (overrides config)")
		include     = flag.String("include", "", "Files to include (comma-separated)")
		funcName    = flag.String("call", "", "Function to call")
		args        = flag.String("args", "", "Integer arguments (comma-separated)")
		tasks       = flag.Int("tasks", 1, "Number of concurrent calls")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *include == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: rootstack -include <file.wasm,...> -call name [-args 1,2] [-tasks n]")
		fmt.Fprintln(os.Stderr, "       rootstack -include <file.wasm,...> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath, *slots, *workers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log := newLogger(*verbose && !*interactive)
	defer func() { _ = log.Sync() }()

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -i needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg, log, splitList(*include)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, log, splitList(*include), *funcName, *args, *tasks); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string, slots, workers int) (runtime.Config, error) {
	cfg := runtime.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = runtime.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	if slots > 0 {
		cfg.Slots = slots
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	return cfg, cfg.Validate()
}

func newLogger(verbose bool) *zap.Logger {
	log := zap.NewNop()
	if verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			log = l
		}
	}
	heap.SetLogger(log)
	stack.SetLogger(log)
	task.SetLogger(log)
	cache.SetLogger(log)
	runtime.SetLogger(log)
	return log
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseArgs(s string) ([]int64, error) {
	var out []int64
	for _, part := range splitList(s) {
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// startPool creates the runtime, starts a pool on it and includes files.
func startPool(ctx context.Context, cfg runtime.Config, log *zap.Logger, files []string, opts ...runtime.Option) (*runtime.Pool, *heap.Runtime, error) {
	rt := heap.New(ctx, cfg.HeapConfig())
	opts = append([]runtime.Option{runtime.WithConfig(cfg), runtime.WithLogger(log)}, opts...)
	pool, err := runtime.New(rt, opts...)
	if err != nil {
		return nil, nil, err
	}
	for _, path := range files {
		d, err := runtime.Include(ctx, pool, path)
		if err == nil {
			_, err = d.Wait(ctx)
		}
		if err != nil {
			_ = pool.Cancel(ctx)
			return nil, nil, fmt.Errorf("include %s: %w", path, err)
		}
	}
	return pool, rt, nil
}

// callTask calls a global function with integer arguments on a dedicated
// slot. The function reference is memoized in the pool's global cache.
func callTask(pool *runtime.Pool, rt *heap.Runtime, name string, args []int64) task.Func[int64] {
	key := cache.Key{Name: name, Kind: cache.KindFunction}
	return func(ctx context.Context, f *frame.Async) (int64, error) {
		fn, err := pool.Globals().Get(key, func() (rootstack.Ref, error) {
			return rt.Function(name)
		})
		if err != nil {
			return 0, err
		}
		refs := make([]rootstack.Ref, len(args))
		for i, a := range args {
			v, err := f.Root(rt.NewInt(a))
			if err != nil {
				return 0, err
			}
			refs[i] = v.Ref()
		}
		r, err := f.CallAsync(ctx, fn, refs...)
		if err != nil {
			return 0, err
		}
		res, err := frame.RootResult(f, r)
		if err != nil {
			return 0, err
		}
		if err := res.Err(); err != nil {
			return 0, err
		}
		return rt.Int(res.Value.Ref())
	}
}

func run(cfg runtime.Config, log *zap.Logger, files []string, funcName, argStr string, n int) error {
	ctx := context.Background()
	args, err := parseArgs(argStr)
	if err != nil {
		return err
	}

	start := time.Now()
	pool, rt, err := startPool(ctx, cfg, log, files)
	if err != nil {
		return err
	}
	fmt.Printf("Pool: %d worker(s) x %d slots\n", cfg.Workers, cfg.Slots)
	for _, path := range files {
		fmt.Printf("Included: %s\n", path)
	}

	if funcName != "" {
		dispatches := make([]*task.Dispatch[int64], 0, n)
		for range max(n, 1) {
			d, err := runtime.Task[int64](ctx, pool, callTask(pool, rt, funcName, args))
			if err != nil {
				_ = pool.Cancel(ctx)
				return fmt.Errorf("submit: %w", err)
			}
			dispatches = append(dispatches, d)
		}
		failed := 0
		for i, d := range dispatches {
			v, err := d.Wait(ctx)
			switch {
			case err != nil:
				failed++
				fmt.Printf("  [%d] error: %v\n", i, err)
			case i == 0:
				fmt.Printf("Result: %s(%s) = %d\n", funcName, argStr, v)
			}
		}
		if failed > 0 {
			fmt.Printf("%d of %d calls failed\n", failed, len(dispatches))
		}
	}

	st := pool.Stats()
	if err := pool.Close(ctx); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	fmt.Printf("\nCompleted: %d task(s) in %s\n", st.Completed, time.Since(start).Round(time.Microsecond))
	fmt.Printf("Cache: %d entries, %d hits, %d misses\n", st.Cache.Entries, st.Cache.Hits, st.Cache.Misses)
	if st.Heap != nil {
		fmt.Printf("Heap: %d allocated, %d freed, %d collections\n", st.Heap.Allocated, st.Heap.Freed, st.Heap.Collections)
	}
	return nil
}
