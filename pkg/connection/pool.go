package connection

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/natsline/natsline-go/pkg/natserr"
	"github.com/natsline/natsline-go/pkg/wire"
)

// Endpoint is one server the supervisor may connect to.
type Endpoint struct {
	URL *url.URL

	// Discovered marks endpoints learned from INFO connect_urls.
	Discovered bool

	// Guarded by the supervisor lock.
	reconnects  int
	lastAttempt time.Time
}

// ParseEndpoint parses a server URL. A bare "host" or "host:port" is
// accepted; the scheme defaults to nats and the port to 4222. ws and wss
// URLs default to ports 80 and 443.
func ParseEndpoint(raw string) (*Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty server URL", natserr.ErrInvalidArg)
	}
	if !strings.Contains(raw, "://") {
		raw = "nats://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: server URL %q: %v", natserr.ErrInvalidArg, raw, err)
	}
	port := wire.DefaultPort
	switch u.Scheme {
	case "nats", "tls":
	case "ws":
		port = "80"
	case "wss":
		port = "443"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", natserr.ErrInvalidArg, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: server URL %q has no host", natserr.ErrInvalidArg, raw)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	return &Endpoint{URL: u}, nil
}

// Address returns "host:port" for dialing.
func (e *Endpoint) Address() string {
	return e.URL.Host
}

// String returns the URL without credentials.
func (e *Endpoint) String() string {
	return e.URL.Scheme + "://" + e.URL.Host
}

// TLS reports whether the URL asks for TLS.
func (e *Endpoint) TLS() bool {
	return e.URL.Scheme == "tls" || e.URL.Scheme == "wss"
}

// WebSocket reports whether the endpoint is reached over WebSocket.
func (e *Endpoint) WebSocket() bool {
	return e.URL.Scheme == "ws" || e.URL.Scheme == "wss"
}

// WebSocketURL returns the URL to open the WebSocket on, without
// credentials.
func (e *Endpoint) WebSocketURL() string {
	return e.URL.Scheme + "://" + e.URL.Host + e.URL.Path
}

// serverPool is the ordered list of candidate endpoints. Reconnect attempts
// take the front endpoint and rotate it to the back. Guarded by the
// supervisor lock.
type serverPool struct {
	endpoints []*Endpoint
	randomize bool
}

func newServerPool(urls []string, randomize bool) (*serverPool, error) {
	p := &serverPool{randomize: randomize}
	for _, raw := range urls {
		ep, err := ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		if p.find(ep.Address()) == nil {
			p.endpoints = append(p.endpoints, ep)
		}
	}
	if len(p.endpoints) == 0 {
		return nil, natserr.ErrNoServers
	}
	if randomize {
		rand.Shuffle(len(p.endpoints), func(i, j int) {
			p.endpoints[i], p.endpoints[j] = p.endpoints[j], p.endpoints[i]
		})
	}
	return p, nil
}

func (p *serverPool) find(address string) *Endpoint {
	for _, ep := range p.endpoints {
		if ep.Address() == address {
			return ep
		}
	}
	return nil
}

func (p *serverPool) snapshot() []*Endpoint {
	return slices.Clone(p.endpoints)
}

func (p *serverPool) len() int {
	return len(p.endpoints)
}

// rotate returns the next endpoint to try and moves it to the back.
// Endpoints that used up maxAttempts leave the pool. Returns nil when the
// pool is empty.
func (p *serverPool) rotate(maxAttempts int) *Endpoint {
	for len(p.endpoints) > 0 {
		ep := p.endpoints[0]
		p.endpoints = p.endpoints[1:]
		if maxAttempts >= 0 && ep.reconnects >= maxAttempts {
			continue
		}
		p.endpoints = append(p.endpoints, ep)
		return ep
	}
	return nil
}

// addDiscovered adds connect_urls entries not yet in the pool and returns
// the URLs of the new endpoints.
func (p *serverPool) addDiscovered(urls []string, scheme string) []string {
	var added []*Endpoint
	for _, raw := range urls {
		if !strings.Contains(raw, "://") {
			raw = scheme + "://" + raw
		}
		ep, err := ParseEndpoint(raw)
		if err != nil || p.find(ep.Address()) != nil {
			continue
		}
		ep.Discovered = true
		added = append(added, ep)
	}
	if p.randomize {
		rand.Shuffle(len(added), func(i, j int) { added[i], added[j] = added[j], added[i] })
	}
	p.endpoints = append(p.endpoints, added...)

	out := make([]string, len(added))
	for i, ep := range added {
		out[i] = ep.String()
	}
	return out
}

// pruneDiscovered drops discovered endpoints the cluster no longer
// announces. keep is never removed.
func (p *serverPool) pruneDiscovered(urls []string, keep *Endpoint) {
	announced := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		if i := strings.Index(raw, "://"); i >= 0 {
			raw = raw[i+3:]
		}
		announced[raw] = struct{}{}
	}
	p.endpoints = slices.DeleteFunc(p.endpoints, func(ep *Endpoint) bool {
		if !ep.Discovered || ep == keep {
			return false
		}
		_, ok := announced[ep.Address()]
		return !ok
	})
}
