package discovery

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser announces a server over mDNS.
type Advertiser struct {
	config AdvertiserConfig

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	return &Advertiser{config: config}
}

// Advertise starts announcing info, replacing any previous announcement.
func (a *Advertiser) Advertise(info *ServerInfo) error {
	if err := ValidateInstanceName(info.Instance); err != nil {
		return err
	}
	if info.ServerID == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyServerID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	server, err := zeroconf.Register(
		info.Instance,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeServerTXT(info)),
		selectInterface(a.config.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	a.server = server
	return nil
}

// Stop withdraws the announcement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Browser searches for servers over mDNS.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	return &Browser{config: config}
}

// Browse reports each server once, when it is first seen. The channel
// closes when ctx is done.
func (b *Browser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	entries, removed := b.browse(ctx)
	go func() {
		defer close(out)
		aggregate(ctx, entries, removed, func(svc *Service) bool {
			select {
			case out <- svc:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return out, nil
}

// Collect browses until ctx is done and returns every server still
// announced, with the addresses seen on all interfaces. Without a deadline
// on ctx it browses for BrowseTimeout.
func (b *Browser) Collect(ctx context.Context) ([]*Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, BrowseTimeout)
		defer cancel()
	}
	entries, removed := b.browse(ctx)
	return aggregate(ctx, entries, removed, nil), nil
}

// URLs browses like Collect and returns the endpoint URLs of every server.
func (b *Browser) URLs(ctx context.Context) ([]string, error) {
	found, err := b.Collect(ctx)
	if err != nil {
		return nil, err
	}
	var urls []string
	for _, svc := range found {
		urls = append(urls, svc.URLs()...)
	}
	return urls, nil
}

func (b *Browser) browse(ctx context.Context) (entries, removed chan *zeroconf.ServiceEntry) {
	entries = make(chan *zeroconf.ServiceEntry)
	removed = make(chan *zeroconf.ServiceEntry)

	var opts []zeroconf.ClientOption
	if ifaces := selectInterface(b.config.Interface); ifaces != nil {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, opts...)
	}()
	return entries, removed
}

// aggregate merges entries by instance name until ctx is done or both
// channels close, and returns the services still announced in first-seen
// order. emit, when set, receives a copy of each new service; returning
// false stops the aggregation.
func aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, emit func(*Service) bool) []*Service {
	services := make(map[string]*Service)
	var order []string

	result := func() []*Service {
		found := make([]*Service, 0, len(services))
		for _, name := range order {
			if svc, ok := services[name]; ok {
				found = append(found, svc)
			}
		}
		return found
	}

	for entries != nil || removed != nil {
		select {
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			svc := entryToService(entry)
			if svc == nil {
				continue
			}
			if existing, found := services[svc.InstanceName]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				continue
			}
			services[svc.InstanceName] = svc
			if !slices.Contains(order, svc.InstanceName) {
				order = append(order, svc.InstanceName)
			}
			if emit != nil {
				cp := *svc
				cp.Addresses = slices.Clone(svc.Addresses)
				if !emit(&cp) {
					return result()
				}
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if existing, found := services[entry.Instance]; found {
				existing.Addresses = removeAddresses(existing.Addresses, entry)
				if len(existing.Addresses) == 0 {
					delete(services, entry.Instance)
				}
			}

		case <-ctx.Done():
			return result()
		}
	}
	return result()
}

// entryToService converts a zeroconf entry, or returns nil when its TXT
// records do not describe a server.
func entryToService(entry *zeroconf.ServiceEntry) *Service {
	info, err := DecodeServerTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &Service{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    addrs,
		ServerID:     info.ServerID,
		Version:      info.Version,
		TLS:          info.TLS,
	}
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range add {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses drops the addresses of entry from addresses.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	drop := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		drop[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		drop[ip.String()] = true
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !drop[addr] {
			result = append(result, addr)
		}
	}
	return result
}
