package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a server.
	ServiceType = "_nats._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultPort is the client port servers listen on by default.
	DefaultPort = 4222

	// MaxInstanceNameLen is the DNS-SD instance label limit.
	MaxInstanceNameLen = 63

	// BrowseTimeout bounds Collect when the caller's context has no deadline.
	BrowseTimeout = 3 * time.Second
)

// TXT record keys.
const (
	TXTKeyServerID = "id"
	TXTKeyVersion  = "ver"
	TXTKeyTLS      = "tls"
)

// Discovery errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInstanceNameTooLong = errors.New("invalid instance name")
)

// ServerInfo is what an advertiser announces.
type ServerInfo struct {
	Instance string
	Port     uint16
	ServerID string
	Version  string
	TLS      bool
}

// Service is a server found by browsing.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	ServerID     string
	Version      string
	TLS          bool
}

// URLs returns one endpoint URL per address, using tls:// when the server
// requires TLS.
func (s *Service) URLs() []string {
	scheme := "nats://"
	if s.TLS {
		scheme = "tls://"
	}
	port := strconv.Itoa(int(s.Port))
	urls := make([]string, 0, len(s.Addresses))
	for _, addr := range s.Addresses {
		urls = append(urls, scheme+net.JoinHostPort(addr, port))
	}
	return urls
}

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface.
	// Empty means all interfaces.
	Interface string
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Interface restricts announcements to one network interface.
	Interface string

	// TTL is the record TTL. Zero uses the library default.
	TTL time.Duration
}

func selectInterface(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
