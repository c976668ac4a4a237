package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jpalmerr/cascade"
)

// tick writes the current time to the "clock" key every second, giving
// stream clients something to watch.
func tick(ctx context.Context, store *cascade.Context[json.RawMessage]) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			value, _ := json.Marshal(now.Format(time.RFC3339))
			store.UpdateFrom("clock", "clock", value)
		}
	}
}
