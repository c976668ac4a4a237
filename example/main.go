package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/cascade"
)

func main() {
	bridge, err := cascade.NewBridge(
		cascade.WithPort(8080),
		cascade.WithSeedValues(map[string]any{
			"theme": "light",
			"user":  map[string]any{"name": "ada", "role": "admin"},
		}),
		cascade.WithContextOptions(cascade.WithOrigin("example")),
	)
	if err != nil {
		slog.Error("failed to create bridge", "error", err)
		os.Exit(1)
	}

	store := bridge.Context()

	// a component that follows the theme key
	theme := cascade.Bind(store, "theme", json.RawMessage(`"light"`))
	defer theme.Close()

	// another component that reacts to every write
	stopLog := store.Observe(func(ev cascade.Event[json.RawMessage]) {
		slog.Info("context changed", "key", ev.Key, "value", string(ev.Value), "origin", ev.Origin)
	})
	defer stopLog()

	fmt.Println()
	fmt.Println("  Cascade Demo")
	fmt.Println()
	fmt.Println("  Watch the theme key:")
	fmt.Println("    curl -N 'http://localhost:8080/api/sse?key=theme&replay=true'")
	fmt.Println()
	fmt.Println("  Change it from another terminal:")
	fmt.Println(`    curl -X PUT -d '"dark"' http://localhost:8080/api/context/theme`)
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go tick(ctx, store)

	if err := bridge.Start(ctx); err != nil {
		slog.Error("bridge error", "error", err)
		os.Exit(1)
	}
	slog.Info("last theme seen", "theme", string(theme.Value()))
}
