package sysinfo

import (
	"context"
	"fmt"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopback() psnet.InterfaceStat {
	return psnet.InterfaceStat{
		Name:  "lo",
		Flags: []string{"up", "loopback"},
		Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}, {Addr: "::1/128"}},
	}
}

func ethernet(mac string, addrs ...string) psnet.InterfaceStat {
	iface := psnet.InterfaceStat{
		Name:         "eth0",
		HardwareAddr: mac,
		Flags:        []string{"up", "broadcast", "multicast"},
	}
	for _, a := range addrs {
		iface.Addrs = append(iface.Addrs, psnet.InterfaceAddr{Addr: a})
	}
	return iface
}

func TestFirstIPv4(t *testing.T) {
	tests := []struct {
		name     string
		ifaces   []psnet.InterfaceStat
		expected string
	}{
		{
			name:     "skips loopback and IPv6",
			ifaces:   []psnet.InterfaceStat{loopback(), ethernet("aa:bb:cc:dd:ee:ff", "fe80::1/64", "192.168.1.20/24")},
			expected: "192.168.1.20",
		},
		{
			name:     "bare address without prefix",
			ifaces:   []psnet.InterfaceStat{ethernet("aa:bb:cc:dd:ee:ff", "10.0.0.5")},
			expected: "10.0.0.5",
		},
		{
			name:     "only loopback falls back to localhost",
			ifaces:   []psnet.InterfaceStat{loopback()},
			expected: "localhost",
		},
		{
			name:     "no interfaces",
			expected: "localhost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FirstIPv4(tt.ifaces))
		})
	}
}

func TestFirstMAC(t *testing.T) {
	mac := FirstMAC([]psnet.InterfaceStat{loopback(), ethernet("00:00:00:00:00:00"), ethernet("aa:bb:cc:dd:ee:ff")})
	require.NotNil(t, mac)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", *mac)

	assert.Nil(t, FirstMAC([]psnet.InterfaceStat{loopback()}))
	assert.Nil(t, FirstMAC([]psnet.InterfaceStat{ethernet("")}))
}

func TestHostProber_InterfaceErrors(t *testing.T) {
	p := &HostProber{
		Interfaces: func(ctx context.Context) ([]psnet.InterfaceStat, error) {
			return nil, fmt.Errorf("netlink unavailable")
		},
	}

	assert.Equal(t, "localhost", p.LocalIPv4(context.Background()))
	assert.Nil(t, p.MACAddress(context.Background()))
}

func TestHostProber_UsesInterfaces(t *testing.T) {
	p := &HostProber{
		Interfaces: func(ctx context.Context) ([]psnet.InterfaceStat, error) {
			return []psnet.InterfaceStat{loopback(), ethernet("aa:bb:cc:dd:ee:01", "172.16.0.9/16")}, nil
		},
	}

	assert.Equal(t, "172.16.0.9", p.LocalIPv4(context.Background()))
	require.NotNil(t, p.MACAddress(context.Background()))
}
