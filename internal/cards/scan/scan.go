// Package scan implements the `scan:` subnet scanner card, the reference
// user of the shared background pool: it fans one probe per host out to the
// pool and observes completion through counters the render thread reads.
package scan

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"rouen/internal/card"
	"rouen/internal/registry"
	"rouen/internal/task"
	"rouen/internal/ui"
)

const (
	probePort    = "80"
	probeTimeout = time.Second
)

// Card scans the hosts of one CIDR block.
type Card struct {
	card.Base

	reg  *registry.Registry
	pool *task.Pool

	cidr  string
	hosts []netip.Addr

	scanning atomic.Bool
	gen      atomic.Int64 // bumped to abandon in-flight probes
	scanned  atomic.Int64
	open     atomic.Int64

	mu        sync.Mutex
	reachable []string
}

// New builds a scan card for a CIDR locator such as `192.168.1.0/30`.
func New(locator string, pool *task.Pool, reg *registry.Registry) (*Card, error) {
	if locator == "" {
		return nil, errors.New("scan card: cidr is empty")
	}

	prefix, err := netip.ParsePrefix(locator)
	if err != nil {
		return nil, fmt.Errorf("scan card: parse %q: %w", locator, err)
	}

	hosts := hostAddrs(prefix)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("scan card: %q contains no scannable hosts", locator)
	}

	c := &Card{
		Base:  card.NewBase("scan "+prefix.String(), 5),
		reg:   reg,
		pool:  pool,
		cidr:  prefix.String(),
		hosts: hosts,
	}

	c.SetSlot(2, ui.RGBA{R: 0x9E, G: 0xCE, B: 0x6A, A: 0xFF}) // reachable

	return c, nil
}

// URI implements card.Card.
func (c *Card) URI() string {
	return "scan:" + c.cidr
}

// TotalHosts returns the number of probe targets in the block.
func (c *Card) TotalHosts() int {
	return len(c.hosts)
}

// ScannedHosts returns how many probes have completed.
func (c *Card) ScannedHosts() int {
	return int(c.scanned.Load())
}

// Scanning reports whether a scan is in flight.
func (c *Card) Scanning() bool {
	return c.scanning.Load()
}

// Start fans one probe per host out to the shared pool. A scan already in
// flight is left alone.
func (c *Card) Start() {
	if !c.scanning.CompareAndSwap(false, true) {
		return
	}

	gen := c.gen.Add(1)

	c.scanned.Store(0)
	c.open.Store(0)

	c.mu.Lock()
	c.reachable = nil
	c.mu.Unlock()

	for _, host := range c.hosts {
		addr := host

		c.pool.Submit(func() {
			if c.gen.Load() != gen || c.reg.Pred(registry.SvcQuitting) {
				return
			}

			up := probe(addr)

			if c.gen.Load() != gen {
				return
			}

			if up {
				c.open.Add(1)

				c.mu.Lock()
				c.reachable = append(c.reachable, addr.String())
				sort.Strings(c.reachable)
				c.mu.Unlock()
			}

			if int(c.scanned.Add(1)) == len(c.hosts) {
				c.scanning.Store(false)
			}
		})
	}
}

// Stop abandons the scan. In-flight probes notice the generation bump and
// discard their results.
func (c *Card) Stop() {
	c.gen.Add(1)
	c.scanning.Store(false)
}

// Render implements card.Card.
func (c *Card) Render(tk ui.Toolkit) bool {
	_, keep := c.HandleFocused(tk, c.reg)
	if !keep {
		return false
	}

	scanned := c.scanned.Load()
	open := c.open.Load()

	tk.Text(fmt.Sprintf("%s — %d/%d scanned, %d up", c.cidr, scanned, len(c.hosts), open))

	if c.scanning.Load() {
		if tk.Button("stop") {
			c.Stop()
		}
	} else {
		if tk.Button("scan") {
			c.Start()
		}
	}

	c.mu.Lock()
	reachable := make([]string, len(c.reachable))
	copy(reachable, c.reachable)
	c.mu.Unlock()

	for _, host := range reachable {
		tk.TextColored(c.Slot(2), host)
	}

	return true
}

// Close implements card.Finalizer.
func (c *Card) Close() {
	c.Stop()
}

// probe reports whether the host answered on the probe port at all; an
// active refusal still proves something is there.
func probe(addr netip.Addr) bool {
	return probeHostPort(net.JoinHostPort(addr.String(), probePort))
}

func probeHostPort(hostport string) bool {
	conn, err := net.DialTimeout("tcp", hostport, probeTimeout)
	if err == nil {
		_ = conn.Close()

		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED)
}

// hostAddrs expands a prefix into its host addresses. For IPv4 blocks
// smaller than /31 the network and broadcast addresses are excluded.
func hostAddrs(prefix netip.Prefix) []netip.Addr {
	prefix = prefix.Masked()

	var addrs []netip.Addr

	addr := prefix.Addr()
	for prefix.Contains(addr) {
		addrs = append(addrs, addr)
		addr = addr.Next()
	}

	if prefix.Addr().Is4() && prefix.Bits() < 31 && len(addrs) >= 2 {
		addrs = addrs[1 : len(addrs)-1]
	}

	return addrs
}
