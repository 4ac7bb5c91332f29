// Package config loads client options from YAML or TOML files.
//
//	servers:
//	  - nats://a:4222
//	  - nats://b:4222
//	name: billing
//	reconnect_wait: 500ms
//	request_mode: ephemeral
//
// The format is chosen by file extension: ".yaml" and ".yml" are YAML,
// ".toml" is TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/natsline/natsline-go"
	"github.com/natsline/natsline-go/pkg/connection"
	"github.com/natsline/natsline-go/pkg/request"
	"github.com/natsline/natsline-go/pkg/transport"
)

// Duration is a time.Duration written as a Go duration string ("2s",
// "150ms") or as a number of seconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler, used by TOML.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// File is the on-disk client configuration. Zero fields keep the defaults
// of natsline.GetDefaultOptions.
type File struct {
	Servers                 []string `yaml:"servers" toml:"servers"`
	NoRandomize             bool     `yaml:"no_randomize" toml:"no_randomize"`
	IgnoreDiscoveredServers bool     `yaml:"ignore_discovered_servers" toml:"ignore_discovered_servers"`

	Name     string `yaml:"name" toml:"name"`
	Verbose  bool   `yaml:"verbose" toml:"verbose"`
	Pedantic bool   `yaml:"pedantic" toml:"pedantic"`
	NoEcho   bool   `yaml:"no_echo" toml:"no_echo"`

	User         string `yaml:"user" toml:"user"`
	Password     string `yaml:"password" toml:"password"`
	Token        string `yaml:"token" toml:"token"`
	NKeySeedFile string `yaml:"nkey_seed_file" toml:"nkey_seed_file"`

	TLS TLS `yaml:"tls" toml:"tls"`

	Reconnect        *bool    `yaml:"reconnect" toml:"reconnect"`
	MaxReconnect     *int     `yaml:"max_reconnect" toml:"max_reconnect"`
	ReconnectWait    Duration `yaml:"reconnect_wait" toml:"reconnect_wait"`
	MaxReconnectWait Duration `yaml:"max_reconnect_wait" toml:"max_reconnect_wait"`
	ReconnectJitter  float64  `yaml:"reconnect_jitter" toml:"reconnect_jitter"`
	ReconnectBufSize int      `yaml:"reconnect_buf_size" toml:"reconnect_buf_size"`
	BufferPolicy     string   `yaml:"buffer_policy" toml:"buffer_policy"`

	ConnectTimeout      Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	PingInterval        Duration `yaml:"ping_interval" toml:"ping_interval"`
	MaxPingsOutstanding int      `yaml:"max_pings_outstanding" toml:"max_pings_outstanding"`

	SubscriptionWorkers      int `yaml:"subscription_workers" toml:"subscription_workers"`
	SubscriptionPendingLimit int `yaml:"subscription_pending_limit" toml:"subscription_pending_limit"`

	RequestMode string `yaml:"request_mode" toml:"request_mode"`
	InboxPrefix string `yaml:"inbox_prefix" toml:"inbox_prefix"`
}

// TLS selects certificates for TLS connections.
type TLS struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	CAFile     string `yaml:"ca_file" toml:"ca_file"`
	CertFile   string `yaml:"cert_file" toml:"cert_file"`
	KeyFile    string `yaml:"key_file" toml:"key_file"`
	ServerName string `yaml:"server_name" toml:"server_name"`
	Insecure   bool   `yaml:"insecure" toml:"insecure"`
}

// Load reads path and decodes it according to its extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("config load failed (%s): unsupported extension %q", path, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration (%s): %w", path, err)
	}
	return &f, nil
}

// Validate checks values that cannot be rejected while decoding.
func (f *File) Validate() error {
	for i, s := range f.Servers {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("servers[%d] is empty", i)
		}
	}
	if _, err := request.ParseMode(f.RequestMode); err != nil {
		return err
	}
	if _, err := parseBufferPolicy(f.BufferPolicy); err != nil {
		return err
	}
	if f.ReconnectJitter < 0 || f.ReconnectJitter > 1 {
		return fmt.Errorf("reconnect_jitter %v outside [0, 1]", f.ReconnectJitter)
	}
	if (f.TLS.KeyFile == "") != (f.TLS.CertFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file must be set together")
	}
	return nil
}

// Options converts f into connect options, applied on top of the defaults.
func (f *File) Options() ([]natsline.Option, error) {
	mode, err := request.ParseMode(f.RequestMode)
	if err != nil {
		return nil, err
	}
	policy, err := parseBufferPolicy(f.BufferPolicy)
	if err != nil {
		return nil, err
	}

	opts := []natsline.Option{
		func(o *natsline.Options) error {
			o.Servers = append(o.Servers, f.Servers...)
			o.NoRandomize = o.NoRandomize || f.NoRandomize
			o.IgnoreDiscoveredServers = o.IgnoreDiscoveredServers || f.IgnoreDiscoveredServers
			o.Verbose = f.Verbose
			o.Pedantic = f.Pedantic
			o.NoEcho = o.NoEcho || f.NoEcho
			o.BufferPolicy = policy
			o.RequestMode = mode
			return nil
		},
	}
	add := func(ok bool, opt natsline.Option) {
		if ok {
			opts = append(opts, opt)
		}
	}
	add(f.Name != "", natsline.Name(f.Name))
	add(f.User != "", natsline.UserInfo(f.User, f.Password))
	add(f.Token != "", natsline.Token(f.Token))
	add(f.NKeySeedFile != "", natsline.NKeySeedFile(f.NKeySeedFile))
	add(f.Reconnect != nil && !*f.Reconnect, natsline.NoReconnect())
	add(f.MaxReconnect != nil, func(o *natsline.Options) error {
		o.MaxReconnect = *f.MaxReconnect
		return nil
	})
	add(f.ReconnectWait > 0, natsline.ReconnectWait(time.Duration(f.ReconnectWait)))
	add(f.MaxReconnectWait > 0, natsline.ReconnectBackoff(time.Duration(f.MaxReconnectWait)))
	add(f.ReconnectJitter > 0, natsline.ReconnectJitter(f.ReconnectJitter))
	add(f.ReconnectBufSize != 0, natsline.ReconnectBufSize(f.ReconnectBufSize))
	add(f.ConnectTimeout > 0, natsline.Timeout(time.Duration(f.ConnectTimeout)))
	add(f.PingInterval > 0, natsline.PingInterval(time.Duration(f.PingInterval)))
	add(f.MaxPingsOutstanding > 0, natsline.MaxPingsOutstanding(f.MaxPingsOutstanding))
	add(f.SubscriptionWorkers > 0, natsline.SubscriptionWorkers(f.SubscriptionWorkers))
	add(f.SubscriptionPendingLimit > 0, natsline.SubscriptionPendingLimit(f.SubscriptionPendingLimit))
	add(f.InboxPrefix != "", natsline.CustomInboxPrefix(f.InboxPrefix))

	if f.TLS.Enabled || f.TLS.CAFile != "" || f.TLS.CertFile != "" {
		files, err := transport.LoadTLSConfig(f.TLS.CAFile, f.TLS.CertFile, f.TLS.KeyFile, f.TLS.Insecure)
		if err != nil {
			return nil, err
		}
		if f.TLS.ServerName != "" {
			files.ServerName = f.TLS.ServerName
		}
		tlsConfig, err := transport.NewClientTLSConfig(files)
		if err != nil {
			return nil, err
		}
		opts = append(opts, natsline.Secure(tlsConfig))
	}
	return opts, nil
}

func parseBufferPolicy(s string) (connection.BufferPolicy, error) {
	switch strings.ToLower(s) {
	case "", "drop":
		return connection.BufferDrop, nil
	case "block":
		return connection.BufferBlock, nil
	}
	return 0, fmt.Errorf("unknown buffer_policy %q", s)
}
