package commands

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	"github.com/natsline/natsline-go"
	"github.com/natsline/natsline-go/pkg/discovery"
)

// Announcer publishes a server on the local network. discovery.Advertiser
// implements it.
type Announcer interface {
	Advertise(info *discovery.ServerInfo) error
	Stop()
}

// ServerInfoFor describes the server nc is connected to, announced under
// instance.
func ServerInfoFor(nc *natsline.Conn, instance string) (*discovery.ServerInfo, error) {
	connected := nc.ConnectedURL()
	if connected == "" {
		return nil, fmt.Errorf("not connected")
	}
	u, err := url.Parse(connected)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "nats", "tls":
	default:
		return nil, fmt.Errorf("cannot advertise a %s endpoint", u.Scheme)
	}
	_, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("port %q: %w", portStr, err)
	}

	return &discovery.ServerInfo{
		Instance: instance,
		Port:     uint16(port),
		ServerID: nc.ConnectedServerID(),
		Version:  nc.ConnectedServerVersion(),
		TLS:      u.Scheme == "tls",
	}, nil
}

// RunAdvertise announces the server nc is connected to until ctx is done.
func RunAdvertise(ctx context.Context, nc *natsline.Conn, a Announcer, instance string, w io.Writer) error {
	info, err := ServerInfoFor(nc, instance)
	if err != nil {
		return err
	}
	if err := a.Advertise(info); err != nil {
		return fmt.Errorf("advertise: %w", err)
	}
	defer a.Stop()

	fmt.Fprintf(w, "Advertising %s (id=%s) on port %d\n", info.Instance, info.ServerID, info.Port)
	<-ctx.Done()
	return nil
}
