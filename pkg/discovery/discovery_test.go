package discovery

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(instance string, ips []string, txt ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{}
	e.Instance = instance
	e.HostName = instance + ".local."
	e.Port = 4222
	e.Text = txt
	for _, ip := range ips {
		parsed := net.ParseIP(ip)
		if parsed.To4() != nil {
			e.AddrIPv4 = append(e.AddrIPv4, parsed)
		} else {
			e.AddrIPv6 = append(e.AddrIPv6, parsed)
		}
	}
	return e
}

func TestServerTXTRoundTrip(t *testing.T) {
	info := &ServerInfo{ServerID: "NABC", Version: "2.12.0", TLS: true}
	strs := TXTRecordsToStrings(EncodeServerTXT(info))
	assert.Equal(t, []string{"id=NABC", "tls=1", "ver=2.12.0"}, strs)

	decoded, err := DecodeServerTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, info, decoded)
}

func TestDecodeServerTXT(t *testing.T) {
	_, err := DecodeServerTXT(TXTRecordMap{TXTKeyVersion: "1"})
	assert.ErrorIs(t, err, ErrMissingRequired)

	info, err := DecodeServerTXT(StringsToTXTRecords([]string{"id=X", "tls=true", "flag", "=skip"}))
	require.NoError(t, err)
	assert.True(t, info.TLS)
	assert.Empty(t, info.Version)
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("nats-1"))
	assert.Error(t, ValidateInstanceName(""))
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("n", MaxInstanceNameLen+1)), ErrInstanceNameTooLong)
}

func TestServiceURLs(t *testing.T) {
	svc := &Service{Port: 4222, Addresses: []string{"192.168.1.10", "fe80::1"}}
	assert.Equal(t, []string{"nats://192.168.1.10:4222", "nats://[fe80::1]:4222"}, svc.URLs())

	svc.TLS = true
	assert.Equal(t, "tls://192.168.1.10:4222", svc.URLs()[0])
}

func TestEntryToService(t *testing.T) {
	svc := entryToService(entry("nats-a", []string{"10.0.0.1", "fe80::2"}, "id=A", "ver=2.12.0"))
	require.NotNil(t, svc)
	assert.Equal(t, "nats-a", svc.InstanceName)
	assert.Equal(t, uint16(4222), svc.Port)
	assert.Equal(t, []string{"10.0.0.1", "fe80::2"}, svc.Addresses)
	assert.Equal(t, "A", svc.ServerID)

	assert.Nil(t, entryToService(entry("printer", []string{"10.0.0.9"}, "model=laser")))
}

func TestAggregateMergesInterfaces(t *testing.T) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	ctx := context.Background()

	var emitted []*Service
	done := make(chan []*Service)
	go func() {
		done <- aggregate(ctx, entries, removed, func(svc *Service) bool {
			emitted = append(emitted, svc)
			return true
		})
	}()

	entries <- entry("nats-a", []string{"10.0.0.1"}, "id=A")
	entries <- entry("nats-a", []string{"10.0.1.1"}, "id=A")
	entries <- entry("nats-b", []string{"10.0.0.2"}, "id=B")
	entries <- entry("junk", []string{"10.0.0.3"})
	removed <- entry("nats-b", []string{"10.0.0.2"})
	close(entries)
	close(removed)

	found := <-done
	require.Len(t, found, 1)
	assert.Equal(t, "nats-a", found[0].InstanceName)
	assert.Equal(t, []string{"10.0.0.1", "10.0.1.1"}, found[0].Addresses)

	require.Len(t, emitted, 2)
	assert.Equal(t, []string{"10.0.0.1"}, emitted[0].Addresses)
	assert.Equal(t, "nats-b", emitted[1].InstanceName)
}

func TestAggregateStopsOnContext(t *testing.T) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	found := aggregate(ctx, entries, removed, nil)
	assert.Empty(t, found)
}

func TestAggregateEmitStops(t *testing.T) {
	entries := make(chan *zeroconf.ServiceEntry, 2)
	removed := make(chan *zeroconf.ServiceEntry)
	entries <- entry("nats-a", []string{"10.0.0.1"}, "id=A")
	entries <- entry("nats-b", []string{"10.0.0.2"}, "id=B")

	found := aggregate(context.Background(), entries, removed, func(*Service) bool { return false })
	require.Len(t, found, 1)
	assert.Equal(t, "nats-a", found[0].InstanceName)
}

func TestMergeRemoveAddresses(t *testing.T) {
	merged := mergeAddresses([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, merged)

	left := removeAddresses([]string{"10.0.0.1", "10.0.0.2"}, entry("x", []string{"10.0.0.1"}))
	assert.Equal(t, []string{"10.0.0.2"}, left)
}

func TestAdvertiserValidation(t *testing.T) {
	adv := NewAdvertiser(AdvertiserConfig{})
	defer adv.Stop()

	assert.Error(t, adv.Advertise(&ServerInfo{ServerID: "A"}))
	assert.ErrorIs(t, adv.Advertise(&ServerInfo{Instance: "nats-a"}), ErrMissingRequired)
}
