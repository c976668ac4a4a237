package cascade

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestContext creates a Context[string] or fails the test.
func newTestContext(t *testing.T, opts ...Option) *Context[string] {
	t.Helper()
	c, err := New[string](opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// recorder collects callback values in order.
type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) record(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew(t *testing.T) {
	c := newTestContext(t)

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if c.Origin() == "" {
		t.Error("Origin() is empty, want default origin")
	}
}

func TestContext_UpdateThenGet(t *testing.T) {
	c := newTestContext(t)

	c.Update("theme", "dark")

	ev, ok := c.Get("theme")
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if ev.Value != "dark" {
		t.Errorf("Get().Value = %q, want %q", ev.Value, "dark")
	}
	if ev.Key != "theme" {
		t.Errorf("Get().Key = %q, want %q", ev.Key, "theme")
	}
	if ev.ID == "" {
		t.Error("Get().ID is empty")
	}
	if ev.Origin != c.Origin() {
		t.Errorf("Get().Origin = %q, want %q", ev.Origin, c.Origin())
	}
}

func TestContext_GetUnknownKey(t *testing.T) {
	c := newTestContext(t)

	if _, ok := c.Get("missing"); ok {
		t.Error("Get() ok = true for unwritten key, want false")
	}
}

func TestContext_UpdateOverwrites(t *testing.T) {
	c := newTestContext(t)

	c.Update("theme", "dark")
	first, _ := c.Get("theme")
	c.Update("theme", "light")
	second, _ := c.Get("theme")

	if second.Value != "light" {
		t.Errorf("Get().Value = %q, want %q", second.Value, "light")
	}
	if first.ID == second.ID {
		t.Errorf("version IDs should differ between writes, both %q", first.ID)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestContext_UpdateRecordsMetadata(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var n int
	c := newTestContext(t,
		WithOrigin("http://localhost:3000/settings"),
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("v%d", n)
		}),
	)

	c.Update("a", "1")
	c.Update("b", "2")

	a, _ := c.Get("a")
	b, _ := c.Get("b")

	if a.ID != "v1" || b.ID != "v2" {
		t.Errorf("IDs = %q, %q, want v1, v2", a.ID, b.ID)
	}
	if !a.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v, want %v", a.Timestamp, fixed)
	}
	if a.Origin != "http://localhost:3000/settings" {
		t.Errorf("Origin = %q, want %q", a.Origin, "http://localhost:3000/settings")
	}
}

func TestContext_UpdateFrom(t *testing.T) {
	c := newTestContext(t)

	ev := c.UpdateFrom("10.0.0.5:51234", "cursor", "12,40")

	if ev.Origin != "10.0.0.5:51234" {
		t.Errorf("UpdateFrom().Origin = %q, want %q", ev.Origin, "10.0.0.5:51234")
	}
	stored, _ := c.Get("cursor")
	if stored.ID != ev.ID {
		t.Errorf("stored ID = %q, want %q", stored.ID, ev.ID)
	}
}

func TestContext_SubscribeReceivesUpdates(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	cancel := c.Subscribe("user.name", rec.record)
	defer cancel()

	c.Update("user.name", "Alice")

	if got := rec.got(); !equalStrings(got, []string{"Alice"}) {
		t.Errorf("received %v, want [Alice]", got)
	}
}

func TestContext_SubscribeDoesNotReplay(t *testing.T) {
	c := newTestContext(t)
	c.Update("user.name", "Alice")

	var rec recorder
	cancel := c.Subscribe("user.name", rec.record)
	defer cancel()

	if got := rec.got(); len(got) != 0 {
		t.Errorf("received %v before any update, want nothing", got)
	}
}

func TestContext_OtherKeysNotNotified(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	cancel := c.Subscribe("k1", rec.record)
	defer cancel()

	c.Update("k2", "v")

	if got := rec.got(); len(got) != 0 {
		t.Errorf("k1 subscriber received %v for k2 update", got)
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("k2 update should not create k1")
	}
}

func TestContext_SequentialOrder(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	cancel := c.Subscribe("k", rec.record)
	defer cancel()

	c.Update("k", "v1")
	c.Update("k", "v2")

	if got := rec.got(); !equalStrings(got, []string{"v1", "v2"}) {
		t.Errorf("received %v, want [v1 v2]", got)
	}
}

func TestContext_RegistrationOrder(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	for _, name := range []string{"first", "second", "third"} {
		name := name
		cancel := c.Subscribe("k", func(string) { rec.record(name) })
		defer cancel()
	}

	c.Update("k", "v")

	want := []string{"first", "second", "third"}
	if got := rec.got(); !equalStrings(got, want) {
		t.Errorf("invocation order = %v, want %v", got, want)
	}
}

func TestContext_CancelStopsDelivery(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	cancel := c.Subscribe("user.name", rec.record)

	c.Update("user.name", "Alice")
	cancel()
	c.Update("user.name", "Bob")

	if got := rec.got(); !equalStrings(got, []string{"Alice"}) {
		t.Errorf("received %v, want [Alice]", got)
	}
}

func TestContext_CancelIsIdempotent(t *testing.T) {
	c := newTestContext(t)

	var other recorder
	otherCancel := c.Subscribe("k", other.record)
	defer otherCancel()

	cancel := c.Subscribe("k", func(string) {})
	cancel()
	cancel() // second call must not panic or affect others

	c.Update("k", "v")

	if got := other.got(); !equalStrings(got, []string{"v"}) {
		t.Errorf("other subscriber received %v, want [v]", got)
	}
}

func TestContext_IndependentSubscriptions(t *testing.T) {
	c := newTestContext(t)

	var a, b recorder
	cancelA := c.Subscribe("k", a.record)
	cancelB := c.Subscribe("k", b.record)
	defer cancelB()

	c.Update("k", "v1")
	cancelA()
	c.Update("k", "v2")

	if got := a.got(); !equalStrings(got, []string{"v1"}) {
		t.Errorf("a received %v, want [v1]", got)
	}
	if got := b.got(); !equalStrings(got, []string{"v1", "v2"}) {
		t.Errorf("b received %v, want [v1 v2]", got)
	}
}

func TestContext_SameCallbackTwice(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	cancel1 := c.Subscribe("k", rec.record)
	cancel2 := c.Subscribe("k", rec.record)
	defer cancel2()

	c.Update("k", "v1")
	cancel1()
	c.Update("k", "v2")

	// two registrations for v1, one remaining for v2
	want := []string{"v1", "v1", "v2"}
	if got := rec.got(); !equalStrings(got, want) {
		t.Errorf("received %v, want %v", got, want)
	}
}

func TestContext_NilCallback(t *testing.T) {
	c := newTestContext(t)

	cancel := c.Subscribe("k", nil)
	cancel()
	observeCancel := c.Observe(nil)
	observeCancel()

	c.Update("k", "v") // must not panic
}

func TestContext_CancelDuringPass(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	var cancelSecond func()
	cancelFirst := c.Subscribe("k", func(v string) {
		rec.record("first:" + v)
		cancelSecond()
	})
	defer cancelFirst()
	cancelSecond = c.Subscribe("k", func(v string) {
		rec.record("second:" + v)
	})

	c.Update("k", "v1")
	c.Update("k", "v2")

	// second was cancelled before its turn in the first pass
	want := []string{"first:v1", "first:v2"}
	if got := rec.got(); !equalStrings(got, want) {
		t.Errorf("received %v, want %v", got, want)
	}
}

func TestContext_SubscribeDuringPass(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	var once sync.Once
	cancel := c.Subscribe("k", func(v string) {
		once.Do(func() {
			c.Subscribe("k", func(v string) { rec.record("late:" + v) })
		})
	})
	defer cancel()

	c.Update("k", "v1")
	c.Update("k", "v2")

	// the late subscriber joins from the next pass
	if got := rec.got(); !equalStrings(got, []string{"late:v2"}) {
		t.Errorf("received %v, want [late:v2]", got)
	}
}

func TestContext_ReentrantUpdateSameKey(t *testing.T) {
	c := newTestContext(t)

	var first, second recorder
	cancel1 := c.Subscribe("count", func(v string) {
		first.record(v)
		if v == "1" {
			c.Update("count", "2")
		}
	})
	defer cancel1()
	cancel2 := c.Subscribe("count", second.record)
	defer cancel2()

	c.Update("count", "1")

	if got := first.got(); !equalStrings(got, []string{"1", "2"}) {
		t.Errorf("first received %v, want [1 2]", got)
	}
	// second sees the nested write and skips the stale outer one
	if got := second.got(); !equalStrings(got, []string{"2"}) {
		t.Errorf("second received %v, want [2]", got)
	}
	if ev, _ := c.Get("count"); ev.Value != "2" {
		t.Errorf("Get().Value = %q, want %q", ev.Value, "2")
	}
}

func TestContext_ReentrantUpdateOtherKey(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	cancelA := c.Subscribe("a", func(v string) {
		rec.record("a:" + v)
		c.Update("b", v+"!")
	})
	defer cancelA()
	cancelB := c.Subscribe("b", func(v string) { rec.record("b:" + v) })
	defer cancelB()

	c.Update("a", "x")

	want := []string{"a:x", "b:x!"}
	if got := rec.got(); !equalStrings(got, want) {
		t.Errorf("received %v, want %v", got, want)
	}
}

func TestContext_PanicIsolated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := newTestContext(t, WithLogger(logger))

	var rec recorder
	cancel1 := c.Subscribe("k", func(string) { panic("boom") })
	defer cancel1()
	cancel2 := c.Subscribe("k", rec.record)
	defer cancel2()

	c.Update("k", "v")

	if got := rec.got(); !equalStrings(got, []string{"v"}) {
		t.Errorf("second subscriber received %v, want [v]", got)
	}
	logged := buf.String()
	if !strings.Contains(logged, "context callback panicked") {
		t.Errorf("log should mention the panic, got: %s", logged)
	}
	if !strings.Contains(logged, "correlation_id") {
		t.Errorf("log should include a correlation_id, got: %s", logged)
	}
}

func TestContext_Observe(t *testing.T) {
	c := newTestContext(t)

	var mu sync.Mutex
	var events []Event[string]
	cancel := c.Observe(func(ev Event[string]) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	c.UpdateFrom("seed:values.yaml", "a", "1")
	c.Update("b", "2")
	cancel()
	c.Update("c", "3")

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("observed %d events, want 2", len(events))
	}
	if events[0].Key != "a" || events[0].Origin != "seed:values.yaml" {
		t.Errorf("events[0] = %+v, want key a from seed:values.yaml", events[0])
	}
	if events[1].Key != "b" || events[1].Value != "2" {
		t.Errorf("events[1] = %+v, want b=2", events[1])
	}
}

func TestContext_ObserversRunAfterSubscribers(t *testing.T) {
	c := newTestContext(t)

	var rec recorder
	cancelObs := c.Observe(func(ev Event[string]) { rec.record("observer") })
	defer cancelObs()
	cancelSub := c.Subscribe("k", func(string) { rec.record("subscriber") })
	defer cancelSub()

	c.Update("k", "v")

	want := []string{"subscriber", "observer"}
	if got := rec.got(); !equalStrings(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestContext_KeysAndEntries(t *testing.T) {
	c := newTestContext(t)

	c.Update("zeta", "1")
	c.Update("alpha", "2")
	c.Update("mid", "3")
	c.Update("alpha", "4")

	keys := c.Keys()
	if want := []string{"alpha", "mid", "zeta"}; !equalStrings(keys, want) {
		t.Errorf("Keys() = %v, want %v", keys, want)
	}

	entries := c.Entries()
	if len(entries) != 3 {
		t.Fatalf("Entries() = %d items, want 3", len(entries))
	}
	if entries[0].Key != "alpha" || entries[0].Value != "4" {
		t.Errorf("Entries()[0] = %+v, want alpha=4", entries[0])
	}
}

func TestContext_StructValueSharedByReference(t *testing.T) {
	type profile struct{ Name string }

	c, err := New[*profile]()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p := &profile{Name: "Alice"}
	var got *profile
	cancel := c.Subscribe("profile", func(v *profile) { got = v })
	defer cancel()

	c.Update("profile", p)

	if got != p {
		t.Error("subscriber should receive the same pointer that was written")
	}
	if ev, _ := c.Get("profile"); ev.Value != p {
		t.Error("stored value should be the same pointer that was written")
	}
}

func TestContext_ConcurrentUpdatesNeverGoBackwards(t *testing.T) {
	c, err := New[int]()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// every writer writes increasing values; a subscriber must never see a
	// value from one writer followed by an older value from the same writer
	const writers = 8
	const updates = 200

	var mu sync.Mutex
	lastSeen := make(map[int]int)
	var regressions atomic.Int32

	cancel := c.Subscribe("counter", func(v int) {
		writer, n := v/updates, v%updates
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := lastSeen[writer]; ok && n <= prev {
			regressions.Add(1)
		}
		lastSeen[writer] = n
	})
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			for n := 0; n < updates; n++ {
				c.Update("counter", writer*updates+n)
			}
		}(w)
	}
	wg.Wait()

	if r := regressions.Load(); r != 0 {
		t.Errorf("subscriber observed %d out-of-order values", r)
	}
}

func TestContext_ConcurrentAccess(t *testing.T) {
	c := newTestContext(t)

	var wg sync.WaitGroup
	numGoroutines := 10
	numOps := 100

	// concurrent updates
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				c.Update(fmt.Sprintf("key-%d", j%5), "v")
			}
		}(i)
	}

	// concurrent reads
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				_ = c.Entries()
				_, _ = c.Get("key-1")
			}
		}()
	}

	// concurrent subscribe/cancel
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancel := c.Subscribe("key-1", func(string) {})
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()
	}

	wg.Wait()
}

func TestContext_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestContext(t, WithRegisterer(reg))

	cancel := c.Subscribe("k", func(string) {})
	cancelPanic := c.Subscribe("k", func(string) { panic("boom") })
	cancelObs := c.Observe(func(Event[string]) {})

	c.Update("k", "v")
	c.Update("other", "v")

	cancel()
	cancelPanic()

	expected := `
# HELP cascade_updates_total Number of context updates recorded.
# TYPE cascade_updates_total counter
cascade_updates_total 2
# HELP cascade_deliveries_total Number of callback invocations made by notification passes.
# TYPE cascade_deliveries_total counter
cascade_deliveries_total 4
# HELP cascade_callback_panics_total Number of subscriber callbacks that panicked.
# TYPE cascade_callback_panics_total counter
cascade_callback_panics_total 1
# HELP cascade_subscriptions_active Number of active subscriptions and observers.
# TYPE cascade_subscriptions_active gauge
cascade_subscriptions_active 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"cascade_updates_total",
		"cascade_deliveries_total",
		"cascade_callback_panics_total",
		"cascade_subscriptions_active",
	)
	if err != nil {
		t.Errorf("metrics mismatch: %v", err)
	}
	cancelObs()
}
