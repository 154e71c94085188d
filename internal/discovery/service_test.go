package discovery

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/zeroconf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avhall/hearth/internal/common"
	"github.com/avhall/hearth/internal/models"
)

// fakeBrowser feeds scripted entries into the coordinator.
type fakeBrowser struct {
	mu      sync.Mutex
	entries chan<- *zeroconf.ServiceEntry
	started chan struct{}
}

func (f *fakeBrowser) browse(ctx context.Context, _ string, _ string, entries chan<- *zeroconf.ServiceEntry, _ ...zeroconf.ClientOption) error {
	f.mu.Lock()
	f.entries = entries
	f.mu.Unlock()
	close(f.started)
	<-ctx.Done()
	return nil
}

func (f *fakeBrowser) send(t *testing.T, entry *zeroconf.ServiceEntry) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(time.Second):
		t.Fatal("browse never started")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries <- entry
}

func newServiceEntry(instance, service, domain string) *zeroconf.ServiceEntry {
	return &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{
			Instance: instance,
			Service:  service,
			Domain:   domain,
		},
	}
}

func resolvedEntry(instance, ip string, port int) *zeroconf.ServiceEntry {
	entry := newServiceEntry(instance, "_home-assistant._tcp", "local.")
	entry.Port = port
	entry.Expiry = time.Now().Add(120 * time.Second)
	entry.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	return entry
}

type harness struct {
	svc     *Service
	browser *fakeBrowser
	updates chan []models.DiscoveredInstance
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		browser: &fakeBrowser{started: make(chan struct{})},
		updates: make(chan []models.DiscoveredInstance, 16),
	}
	h.svc = NewService(common.NewSilentLogger(),
		WithDebounce(20*time.Millisecond),
		WithUpdateFunc(func(list []models.DiscoveredInstance) {
			h.updates <- list
		}),
	)
	h.svc.browse = h.browser.browse
	return h
}

func (h *harness) waitUpdate(t *testing.T) []models.DiscoveredInstance {
	t.Helper()
	select {
	case list := <-h.updates:
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for discovery update")
		return nil
	}
}

func TestDiscoveryPublishesResolvedEntries(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start(context.Background()))
	defer h.svc.Stop()

	h.browser.send(t, resolvedEntry("Kitchen Pi", "192.168.1.10", 8123))

	list := h.waitUpdate(t)
	require.Len(t, list, 1)
	assert.Equal(t, "Kitchen Pi", list[0].Name)
	assert.Equal(t, "192.168.1.10", list[0].Host)
	assert.Equal(t, 8123, list[0].Port)
	assert.Equal(t, "http://192.168.1.10:8123", list[0].BaseURL())

	assert.Equal(t, list, h.svc.Instances())
}

func TestDiscoveryDeduplicatesByHostPort(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start(context.Background()))
	defer h.svc.Stop()

	// Two advertisements resolving to the same address.
	h.browser.send(t, resolvedEntry("Home", "192.168.1.10", 8123))
	h.browser.send(t, resolvedEntry("Home Assistant", "192.168.1.10", 8123))

	var list []models.DiscoveredInstance
	require.Eventually(t, func() bool {
		list = h.svc.Instances()
		return len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "192.168.1.10:8123", list[0].Key())

	drainUpdates(h)
}

func TestDiscoveryBatchCollapsesIntoOnePublish(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start(context.Background()))
	defer h.svc.Stop()

	h.browser.send(t, resolvedEntry("B Instance", "192.168.1.11", 8123))
	h.browser.send(t, resolvedEntry("A Instance", "192.168.1.12", 8123))

	list := h.waitUpdate(t)
	require.Len(t, list, 2)
	// Sorted by display name.
	assert.Equal(t, "A Instance", list[0].Name)
	assert.Equal(t, "B Instance", list[1].Name)
}

func TestDiscoveryRemoval(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start(context.Background()))
	defer h.svc.Stop()

	h.browser.send(t, resolvedEntry("Home", "192.168.1.10", 8123))
	list := h.waitUpdate(t)
	require.Len(t, list, 1)

	goodbye := resolvedEntry("Home", "192.168.1.10", 8123)
	goodbye.Expiry = time.Now()
	h.browser.send(t, goodbye)

	list = h.waitUpdate(t)
	assert.Empty(t, list)
}

func TestDiscoveryProbeFailureDropsCandidate(t *testing.T) {
	h := newHarness(t)
	h.svc.dial = func(_ context.Context, _, _ string) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	}
	require.NoError(t, h.svc.Start(context.Background()))
	defer h.svc.Stop()

	// Advertisement without a resolved address forces a probe.
	entry := newServiceEntry("Unresolved", "_home-assistant._tcp", "local.")
	entry.HostName = "ha-unresolved.local."
	entry.Port = 8123
	entry.Expiry = time.Now().Add(120 * time.Second)
	h.browser.send(t, entry)

	// Another entry that does resolve, so a publish happens and we can assert
	// the failed candidate is absent rather than waiting forever.
	h.browser.send(t, resolvedEntry("Good", "192.168.1.20", 8123))

	list := h.waitUpdate(t)
	require.Len(t, list, 1)
	assert.Equal(t, "Good", list[0].Name)
}

func TestDiscoveryProbeResolvesByDial(t *testing.T) {
	h := newHarness(t)
	client, server := net.Pipe()
	defer server.Close()
	h.svc.dial = func(_ context.Context, _, addr string) (net.Conn, error) {
		assert.Equal(t, "ha-probe.local:8123", addr)
		return client, nil
	}
	require.NoError(t, h.svc.Start(context.Background()))
	defer h.svc.Stop()

	entry := newServiceEntry("Probed", "_home-assistant._tcp", "local.")
	entry.HostName = "ha-probe.local."
	entry.Port = 8123
	entry.Expiry = time.Now().Add(120 * time.Second)
	h.browser.send(t, entry)

	list := h.waitUpdate(t)
	require.Len(t, list, 1)
	assert.Equal(t, "Probed", list[0].Name)
	// net.Pipe has no host:port remote address, so the advertised hostname is kept.
	assert.Equal(t, "ha-probe.local", list[0].Host)
}

func TestStartTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.Start(ctx))
	require.NoError(t, h.svc.Start(ctx))
	h.svc.Stop()
}

func TestStopIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Start(context.Background()))
	h.svc.Stop()
	h.svc.Stop()
	h.svc.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	svc := NewService(common.NewSilentLogger())
	svc.Stop()
}

func drainUpdates(h *harness) {
	for {
		select {
		case <-h.updates:
		default:
			return
		}
	}
}
