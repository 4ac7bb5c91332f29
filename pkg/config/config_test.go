package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natsline/natsline-go"
	"github.com/natsline/natsline-go/pkg/connection"
	"github.com/natsline/natsline-go/pkg/request"
)

const yamlConfig = `
servers:
  - nats://a:4222
  - nats://b:4222
name: billing
no_echo: true
token: s3cret
max_reconnect: -1
reconnect_wait: 250ms
max_reconnect_wait: 5
reconnect_jitter: 0.2
buffer_policy: block
ping_interval: 30s
subscription_workers: 8
request_mode: ephemeral
inbox_prefix: _BILLING
`

const tomlConfig = `
servers = ["nats://a:4222"]
name = "billing"
reconnect = false
connect_timeout = "1.5s"
request_mode = "shared_inbox"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func apply(t *testing.T, f *File) natsline.Options {
	t.Helper()
	opts, err := f.Options()
	require.NoError(t, err)
	o := natsline.GetDefaultOptions()
	for _, opt := range opts {
		require.NoError(t, opt(&o))
	}
	return o
}

func TestLoadYAML(t *testing.T) {
	f, err := Load(writeFile(t, "client.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, f.Servers)
	assert.Equal(t, Duration(250*time.Millisecond), f.ReconnectWait)
	assert.Equal(t, Duration(5*time.Second), f.MaxReconnectWait)

	o := apply(t, f)
	assert.Equal(t, "billing", o.Name)
	assert.True(t, o.NoEcho)
	assert.Equal(t, "s3cret", o.Token)
	assert.Equal(t, -1, o.MaxReconnect)
	assert.Equal(t, 250*time.Millisecond, o.ReconnectWait)
	assert.Equal(t, 5*time.Second, o.MaxReconnectWait)
	assert.InDelta(t, 0.2, o.ReconnectJitter, 1e-9)
	assert.Equal(t, connection.BufferBlock, o.BufferPolicy)
	assert.Equal(t, 30*time.Second, o.PingInterval)
	assert.Equal(t, 8, o.SubWorkers)
	assert.Equal(t, request.ModeEphemeral, o.RequestMode)
	assert.Equal(t, "_BILLING", o.InboxPrefix)
	assert.True(t, o.AllowReconnect)
}

func TestLoadTOML(t *testing.T) {
	f, err := Load(writeFile(t, "client.toml", tomlConfig))
	require.NoError(t, err)

	o := apply(t, f)
	assert.Equal(t, []string{"nats://a:4222"}, o.Servers)
	assert.Equal(t, "billing", o.Name)
	assert.False(t, o.AllowReconnect)
	assert.Equal(t, 1500*time.Millisecond, o.Timeout)
	assert.Equal(t, request.ModeSharedInbox, o.RequestMode)
	assert.Equal(t, natsline.DefaultMaxReconnect, o.MaxReconnect)
	assert.Equal(t, natsline.DefaultPingInterval, o.PingInterval)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "client.json", `{}`},
		{"bad yaml", "client.yaml", "servers: [\n"},
		{"bad toml", "client.toml", "servers = \n"},
		{"unknown request mode", "client.yaml", "request_mode: sometimes\n"},
		{"unknown buffer policy", "client.yaml", "buffer_policy: spill\n"},
		{"bad duration", "client.yaml", "ping_interval: soon\n"},
		{"jitter out of range", "client.toml", "reconnect_jitter = 1.5\n"},
		{"empty server", "client.yaml", "servers: ['']\n"},
		{"key without cert", "client.yaml", "tls:\n  key_file: key.pem\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"2s", 2 * time.Second},
		{"150ms", 150 * time.Millisecond},
		{"3", 3 * time.Second},
		{"0.5", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseDuration("-1")
	assert.Error(t, err)
}

func TestTLSFiles(t *testing.T) {
	f := &File{TLS: TLS{Enabled: true, ServerName: "nats.local", Insecure: true}}
	o := apply(t, f)

	assert.True(t, o.Secure)
	require.NotNil(t, o.TLSConfig)
	assert.Equal(t, "nats.local", o.TLSConfig.ServerName)
	assert.True(t, o.TLSConfig.InsecureSkipVerify)

	f = &File{TLS: TLS{CAFile: filepath.Join(t.TempDir(), "missing.pem")}}
	_, err := f.Options()
	assert.Error(t, err)
}
