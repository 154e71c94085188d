// Package discovery browses the local network for instances advertised over
// multicast DNS and maintains a deduplicated candidate list.
package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"github.com/avhall/hearth/internal/common"
	"github.com/avhall/hearth/internal/interfaces"
	"github.com/avhall/hearth/internal/models"
)

const (
	DefaultServiceType    = "_home-assistant._tcp"
	DefaultDomain         = "local."
	DefaultDebounce       = 300 * time.Millisecond
	DefaultResolveTimeout = 3 * time.Second
)

// UpdateFunc receives the published instance list after each debounced batch.
type UpdateFunc func([]models.DiscoveredInstance)

// browseFunc matches zeroconf.Browse; injectable for tests.
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry, opts ...zeroconf.ClientOption) error

// Service browses for advertised instances. All mutation of the working set
// happens on the coordinator goroutine; probes and the mDNS client only feed
// it through channels.
type Service struct {
	logger         *common.Logger
	serviceType    string
	domain         string
	debounce       time.Duration
	resolveTimeout time.Duration
	onUpdate       UpdateFunc

	browse browseFunc
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)

	mu        sync.Mutex
	browsing  bool
	cancel    context.CancelFunc
	done      chan struct{}
	instances []models.DiscoveredInstance
}

// Option configures the service
type Option func(*Service)

// WithServiceType overrides the browsed service type
func WithServiceType(serviceType string) Option {
	return func(s *Service) {
		s.serviceType = serviceType
	}
}

// WithDomain overrides the browse domain
func WithDomain(domain string) Option {
	return func(s *Service) {
		s.domain = domain
	}
}

// WithDebounce overrides the batch debounce delay
func WithDebounce(d time.Duration) Option {
	return func(s *Service) {
		s.debounce = d
	}
}

// WithResolveTimeout overrides the probe connection timeout
func WithResolveTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.resolveTimeout = d
	}
}

// WithUpdateFunc registers a callback invoked after each published update
func WithUpdateFunc(fn UpdateFunc) Option {
	return func(s *Service) {
		s.onUpdate = fn
	}
}

// NewService creates a discovery service
func NewService(logger *common.Logger, opts ...Option) *Service {
	dialer := &net.Dialer{}
	s := &Service{
		logger:         logger,
		serviceType:    DefaultServiceType,
		domain:         DefaultDomain,
		debounce:       DefaultDebounce,
		resolveTimeout: DefaultResolveTimeout,
		browse:         zeroconf.Browse,
		dial:           dialer.DialContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Instances returns the current published instance list.
func (s *Service) Instances() []models.DiscoveredInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DiscoveredInstance, len(s.instances))
	copy(out, s.instances)
	return out
}

// Start begins browsing. Calling Start while already browsing is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.browsing {
		s.mu.Unlock()
		return nil
	}
	browseCtx, cancel := context.WithCancel(ctx)
	s.browsing = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		if err := s.browse(browseCtx, s.serviceType, s.domain, entries); err != nil {
			// Best-effort: a browse that cannot start publishes nothing.
			s.logger.Warn().Err(err).Msg("mDNS browse failed")
			close(entries)
		}
	}()

	go s.coordinate(browseCtx, entries, done)

	s.logger.Info().Str("service", s.serviceType).Msg("Discovery started")
	return nil
}

// Stop cancels the browse and any in-flight probes. Safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.browsing {
		s.mu.Unlock()
		return
	}
	s.browsing = false
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("Discovery stopped")
}

// probeResult is handed from a resolution attempt back to the coordinator.
type probeResult struct {
	instance models.DiscoveredInstance
	ok       bool
}

// coordinate owns the working set. Every add/remove/probe result lands here,
// and publishes are debounced so bursts collapse into one list update.
func (s *Service) coordinate(ctx context.Context, entries <-chan *zeroconf.ServiceEntry, done chan<- struct{}) {
	defer close(done)

	working := make(map[string]models.DiscoveredInstance)
	probes := make(chan probeResult, 16)
	var probeWG sync.WaitGroup

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	dirty := false

	markDirty := func() {
		if !dirty {
			dirty = true
			timer.Reset(s.debounce)
		}
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			if !entry.Expiry.After(time.Now()) {
				s.remove(working, entry)
				markDirty()
				continue
			}
			if inst, resolved := directInstance(entry); resolved {
				working[inst.Key()] = inst
				markDirty()
				continue
			}
			probeWG.Add(1)
			go s.probe(ctx, entry, probes, &probeWG)

		case result := <-probes:
			if result.ok {
				working[result.instance.Key()] = result.instance
				markDirty()
			}

		case <-timer.C:
			dirty = false
			s.publish(working)

		case <-ctx.Done():
			probeWG.Wait()
			return
		}
	}
}

// directInstance builds an instance from an advertisement that already
// carries a resolved address.
func directInstance(entry *zeroconf.ServiceEntry) (models.DiscoveredInstance, bool) {
	if entry.Port == 0 {
		return models.DiscoveredInstance{}, false
	}
	host := ""
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	}
	if host == "" {
		return models.DiscoveredInstance{}, false
	}
	return models.DiscoveredInstance{
		Name: displayName(entry),
		Host: host,
		Port: entry.Port,
	}, true
}

// probe resolves an advertisement lacking an address by dialing its hostname.
// The transient connection is closed regardless of outcome, failures drop the
// candidate silently, and the callback fires at most once.
func (s *Service) probe(ctx context.Context, entry *zeroconf.ServiceEntry, results chan<- probeResult, wg *sync.WaitGroup) {
	defer wg.Done()

	hostname := strings.TrimSuffix(entry.HostName, ".")
	if hostname == "" || entry.Port == 0 {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
	defer cancel()

	var once sync.Once
	deliver := func(result probeResult) {
		once.Do(func() {
			select {
			case results <- result:
			case <-ctx.Done():
			}
		})
	}

	addr := net.JoinHostPort(hostname, strconv.Itoa(entry.Port))
	conn, err := s.dial(probeCtx, "tcp", addr)
	if err != nil {
		s.logger.Debug().Err(err).Str("addr", addr).Msg("Resolution probe failed")
		deliver(probeResult{ok: false})
		return
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	conn.Close()
	if err != nil {
		host = hostname
	}

	deliver(probeResult{
		instance: models.DiscoveredInstance{
			Name: displayName(entry),
			Host: host,
			Port: entry.Port,
		},
		ok: true,
	})
}

// remove filters entries matching a goodbye advertisement out of the working
// set, matching by host and falling back to advertised name.
func (s *Service) remove(working map[string]models.DiscoveredInstance, entry *zeroconf.ServiceEntry) {
	hosts := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		hosts[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		hosts[ip.String()] = true
	}
	name := displayName(entry)

	for key, inst := range working {
		if hosts[inst.Host] || (len(hosts) == 0 && inst.Name == name) {
			delete(working, key)
		}
	}
}

// publish snapshots the working set, deduplicated by host:port and sorted by
// display name.
func (s *Service) publish(working map[string]models.DiscoveredInstance) {
	list := make([]models.DiscoveredInstance, 0, len(working))
	for _, inst := range working {
		list = append(list, inst)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].Key() < list[j].Key()
	})

	s.mu.Lock()
	s.instances = list
	onUpdate := s.onUpdate
	s.mu.Unlock()

	s.logger.Debug().Int("count", len(list)).Msg("Discovery list updated")
	if onUpdate != nil {
		onUpdate(list)
	}
}

func displayName(entry *zeroconf.ServiceEntry) string {
	if entry.Instance != "" {
		return entry.Instance
	}
	return strings.TrimSuffix(entry.HostName, ".")
}

// Ensure Service implements Discoverer
var _ interfaces.Discoverer = (*Service)(nil)
