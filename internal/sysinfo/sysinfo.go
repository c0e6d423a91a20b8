// Package sysinfo resolves the kiosk's identity, network addresses and hardware
// snapshot from the host OS.
package sysinfo

import (
	"context"
	"fmt"
	"kiosk-agent/internal/model"
	"kiosk-agent/pkg/errors"
	"net"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Prober is the host facade consumed by registration and the control channel.
type Prober interface {
	MachineID(ctx context.Context) (string, error)
	Hostname(ctx context.Context) (string, error)
	LocalIPv4(ctx context.Context) string
	MACAddress(ctx context.Context) *string
	Specs(ctx context.Context) (model.Specs, error)
}

// HostProber reads everything from the running host.
type HostProber struct {
	// Interfaces lists network interfaces; defaults to gopsutil.
	Interfaces func(ctx context.Context) ([]psnet.InterfaceStat, error)
}

// NewHostProber creates a prober backed by gopsutil.
func NewHostProber() *HostProber {
	return &HostProber{
		Interfaces: func(ctx context.Context) ([]psnet.InterfaceStat, error) {
			return psnet.InterfacesWithContext(ctx)
		},
	}
}

// MachineID returns the host's stable hardware identifier. There is no fallback:
// a kiosk that cannot identify itself cannot register.
func (p *HostProber) MachineID(ctx context.Context) (string, error) {
	id, err := host.HostIDWithContext(ctx)
	if err != nil {
		return "", errors.IdentityUnavailableError(err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.IdentityUnavailableError(fmt.Errorf("host reported an empty machine id"))
	}
	return strings.ToLower(id), nil
}

// Hostname returns the host name.
func (p *HostProber) Hostname(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read host info: %w", err)
	}
	return info.Hostname, nil
}

// LocalIPv4 returns the first non-loopback IPv4 address, or "localhost".
func (p *HostProber) LocalIPv4(ctx context.Context) string {
	ifaces, err := p.Interfaces(ctx)
	if err != nil {
		return model.LocalhostAddress
	}
	return FirstIPv4(ifaces)
}

// MACAddress returns the hardware address of the first non-loopback interface.
func (p *HostProber) MACAddress(ctx context.Context) *string {
	ifaces, err := p.Interfaces(ctx)
	if err != nil {
		return nil
	}
	return FirstMAC(ifaces)
}

// Specs returns a hardware and OS snapshot.
func (p *HostProber) Specs(ctx context.Context) (model.Specs, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return model.Specs{}, fmt.Errorf("failed to read host info: %w", err)
	}

	cpus, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return model.Specs{}, fmt.Errorf("failed to read cpu info: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return model.Specs{}, fmt.Errorf("failed to read memory info: %w", err)
	}

	specs := model.Specs{
		Platform:    runtime.GOOS,
		Release:     info.KernelVersion,
		Arch:        runtime.GOARCH,
		CPUs:        make([]model.CPU, 0, len(cpus)),
		TotalMemory: vm.Total,
		FreeMemory:  vm.Free,
	}
	for _, c := range cpus {
		specs.CPUs = append(specs.CPUs, model.CPU{Model: c.ModelName, SpeedMHz: c.Mhz})
	}

	return specs, nil
}

// FirstIPv4 picks the first IPv4 address on a non-loopback interface.
func FirstIPv4(ifaces []psnet.InterfaceStat) string {
	for _, iface := range ifaces {
		if isLoopback(iface) {
			continue
		}
		for _, addr := range iface.Addrs {
			ip := parseAddr(addr.Addr)
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return model.LocalhostAddress
}

// FirstMAC picks the hardware address of the first non-loopback interface.
func FirstMAC(ifaces []psnet.InterfaceStat) *string {
	for _, iface := range ifaces {
		if isLoopback(iface) || iface.HardwareAddr == "" {
			continue
		}
		if hw, err := net.ParseMAC(iface.HardwareAddr); err != nil || isZeroMAC(hw) {
			continue
		}
		mac := iface.HardwareAddr
		return &mac
	}
	return nil
}

func isLoopback(iface psnet.InterfaceStat) bool {
	for _, flag := range iface.Flags {
		if flag == "loopback" {
			return true
		}
	}
	return false
}

// parseAddr accepts both CIDR ("10.0.0.2/24") and bare addresses.
func parseAddr(addr string) net.IP {
	if ip, _, err := net.ParseCIDR(addr); err == nil {
		return ip
	}
	return net.ParseIP(addr)
}

func isZeroMAC(hw net.HardwareAddr) bool {
	for _, b := range hw {
		if b != 0 {
			return false
		}
	}
	return true
}
