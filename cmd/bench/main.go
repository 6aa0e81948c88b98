package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/tilvault/internal/platform"
	"github.com/aretw0/tilvault/pkg/config"
	"github.com/aretw0/tilvault/pkg/core"
)

func main() {
	count := flag.Int("count", 1000, "Number of notes to generate")
	backend := flag.String("backend", config.BackendFS, "Backend to measure (fs or badger)")
	keep := flag.Bool("keep", false, "Keep the benchmark directory")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "til-bench-*")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Kept benchmark data at: %s\n", benchDir)
		}
	}()

	cfg := config.Config{Backend: *backend, Dir: "tils", Timezone: "UTC"}
	switch *backend {
	case config.BackendFS:
		cfg.FS = &config.FSConfig{Path: filepath.Join(benchDir, "vault"), Gitless: true}
	case config.BackendBadger:
		cfg.Badger = &config.BadgerConfig{Path: filepath.Join(benchDir, "db")}
	default:
		fmt.Fprintf(os.Stderr, "unsupported backend %q\n", *backend)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx := context.Background()

	// Each note needs its own second so ids do not collide.
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	tick := start
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	vault, err := platform.Init(ctx, cfg,
		platform.WithLogger(logger),
		platform.WithClock(clock),
		platform.WithDevSafety(false),
	)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Generating %d notes on %s in %s...\n", *count, *backend, benchDir)
	startGen := time.Now()
	for i := 0; i < *count; i++ {
		_, err := vault.Service.Create(ctx, core.NoteInput{
			Title:    fmt.Sprintf("Benchmark note %d", i),
			Content:  fmt.Sprintf("This is test note %d.", i),
			Tags:     []string{"benchmark", fmt.Sprintf("batch-%d", i%10)},
			Category: "bench",
		})
		if err != nil {
			panic(err)
		}
	}
	genDuration := time.Since(startGen)
	if err := vault.Close(); err != nil {
		panic(err)
	}

	// A fresh vault has an empty cache, like a new CLI run.
	vault, err = platform.Open(ctx, cfg, platform.WithLogger(logger), platform.WithDevSafety(false))
	if err != nil {
		panic(err)
	}
	defer vault.Close()

	fmt.Println("Running ListAll (Run 1 - Cold)...")
	startList := time.Now()
	list, err := vault.Service.ListAll(ctx)
	if err != nil {
		panic(err)
	}
	cold := time.Since(startList)
	fmt.Printf("Run 1 Result: %v (Items: %d)\n", cold, len(list))

	fmt.Println("Running ListAll (Run 2 - Warm)...")
	startList = time.Now()
	list, err = vault.Service.ListAll(ctx)
	if err != nil {
		panic(err)
	}
	warm := time.Since(startList)
	fmt.Printf("Run 2 Result: %v (Items: %d)\n", warm, len(list))

	startSearch := time.Now()
	hits, err := vault.Service.Search(ctx, core.SearchQuery{Query: "note 99", Tag: "batch-9"})
	if err != nil {
		panic(err)
	}
	search := time.Since(startSearch)

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d notes, %s):\n", *count, *backend)
	fmt.Printf("  Create: %v (%.0f notes/s)\n", genDuration, float64(*count)/genDuration.Seconds())
	fmt.Printf("  Cold:   %v\n", cold)
	fmt.Printf("  Warm:   %v\n", warm)
	fmt.Printf("  Search: %v (Hits: %d)\n", search, len(hits))
	fmt.Printf("--------------------------------------------------\n")
}
