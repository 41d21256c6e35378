package scan_test

import (
	"testing"
	"time"

	"rouen/internal/cards/scan"
	"rouen/internal/registry"
	"rouen/internal/task"
)

func quietRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg := registry.New()

	err := reg.Register(registry.SvcQuitting, registry.Pred(func() bool { return false }))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	err = reg.Register(registry.SvcKeystrokes, registry.Source(func() string { return "" }))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	reg.Freeze()

	return reg
}

func Test_New_Excludes_Network_And_Broadcast_Addresses(t *testing.T) {
	t.Parallel()

	pool := task.NewPool(1)
	t.Cleanup(pool.Close)

	cases := []struct {
		cidr  string
		hosts int
	}{
		{"192.168.1.0/30", 2},
		{"192.168.1.0/31", 2},
		{"10.0.0.1/32", 1},
		{"192.168.1.0/28", 14},
	}

	for _, tc := range cases {
		c, err := scan.New(tc.cidr, pool, quietRegistry(t))
		if err != nil {
			t.Fatalf("new %q: %v", tc.cidr, err)
		}

		if got := c.TotalHosts(); got != tc.hosts {
			t.Errorf("%q: hosts = %d, want %d", tc.cidr, got, tc.hosts)
		}
	}
}

func Test_New_Rejects_Bad_Locators(t *testing.T) {
	t.Parallel()

	pool := task.NewPool(1)
	t.Cleanup(pool.Close)

	for _, locator := range []string{"", "not-a-cidr", "192.168.1.1", "192.168.1.0/33"} {
		_, err := scan.New(locator, pool, quietRegistry(t))
		if err == nil {
			t.Errorf("New(%q) succeeded, want error", locator)
		}
	}
}

func Test_URI_Round_Trips_The_Block(t *testing.T) {
	t.Parallel()

	pool := task.NewPool(1)
	t.Cleanup(pool.Close)

	c, err := scan.New("10.0.0.0/30", pool, quietRegistry(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if got := c.URI(); got != "scan:10.0.0.0/30" {
		t.Fatalf("uri = %q", got)
	}
}

func Test_Scan_Completes_And_Counts_Every_Host(t *testing.T) {
	t.Parallel()

	pool := task.NewPool(4)
	t.Cleanup(pool.Close)

	c, err := scan.New("127.0.0.1/32", pool, quietRegistry(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	c.Start()

	if !c.Scanning() {
		t.Fatal("Start should flip the scanning flag")
	}

	// A second Start while in flight is a no-op.
	c.Start()

	deadline := time.Now().Add(5 * time.Second)
	for c.Scanning() {
		if time.Now().After(deadline) {
			t.Fatal("scan never finished")
		}

		time.Sleep(10 * time.Millisecond)
	}

	if got := c.ScannedHosts(); got != c.TotalHosts() {
		t.Fatalf("scanned %d of %d hosts", got, c.TotalHosts())
	}
}

func Test_Stop_Abandons_The_Scan(t *testing.T) {
	t.Parallel()

	// A pool that never runs anything keeps the probes queued so Stop is
	// observed deterministically.
	pool := task.NewPool(1)
	pool.Submit(func() { time.Sleep(200 * time.Millisecond) })

	t.Cleanup(pool.Close)

	c, err := scan.New("192.168.77.0/30", pool, quietRegistry(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	c.Start()
	c.Stop()

	if c.Scanning() {
		t.Fatal("Stop should clear the scanning flag")
	}

	// Queued probes notice the generation bump and discard themselves.
	time.Sleep(300 * time.Millisecond)

	if got := c.ScannedHosts(); got != 0 {
		t.Fatalf("scanned = %d after stop, want 0", got)
	}
}
