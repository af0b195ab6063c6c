/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package inventory gathers the host facts an edge device reports when it
// registers with the backend.
package inventory

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/carverauto/edgeprobe/pkg/logger"
	"github.com/carverauto/edgeprobe/pkg/models"
)

const (
	defaultDMIRoot    = "/sys/class/dmi/id"
	defaultDialTarget = "8.8.8.8:80"
	unknown           = "None"
)

var virtualPrefixes = []string{"lo", "docker", "br", "veth"}

// Inventory is a snapshot of the host. Empty fields could not be read.
type Inventory struct {
	Hostname     string
	MACAddress   string
	IPAddress    string
	CPU          string
	RAM          string
	OS           string
	Manufacturer string
	Firmware     string
}

// Configuration renders the hardware summary sent with the registration.
func (i *Inventory) Configuration() string {
	return fmt.Sprintf("CPU: %s, RAM: %s, OS: %s, Manufacturer: %s, Firmware: %s",
		orUnknown(i.CPU), orUnknown(i.RAM), orUnknown(i.OS), orUnknown(i.Manufacturer), orUnknown(i.Firmware))
}

func (i *Inventory) HostInfo() models.HostInfo {
	return models.HostInfo{
		Hostname:      i.Hostname,
		MACAddress:    i.MACAddress,
		Configuration: i.Configuration(),
		IPAddress:     i.IPAddress,
	}
}

// Collector reads host facts. The function fields default to gopsutil and
// can be replaced in tests.
type Collector struct {
	DMIRoot    string
	DialTarget string

	interfaces func(ctx context.Context) (psnet.InterfaceStatList, error)
	cpuInfo    func(ctx context.Context) ([]cpu.InfoStat, error)
	memory     func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	hostInfo   func(ctx context.Context) (*host.InfoStat, error)

	logger logger.Logger
}

func NewCollector(log logger.Logger) *Collector {
	return &Collector{
		DMIRoot:    defaultDMIRoot,
		DialTarget: defaultDialTarget,
		interfaces: psnet.InterfacesWithContext,
		cpuInfo:    cpu.InfoWithContext,
		memory:     mem.VirtualMemoryWithContext,
		hostInfo:   host.InfoWithContext,
		logger:     log,
	}
}

// Collect is NewCollector(log).Collect(ctx).
func Collect(ctx context.Context, log logger.Logger) *Inventory {
	return NewCollector(log).Collect(ctx)
}

// Collect never fails as a whole: a fact that cannot be read is logged and
// left empty.
func (c *Collector) Collect(ctx context.Context) *Inventory {
	inv := &Inventory{
		MACAddress:   c.macAddress(ctx),
		IPAddress:    c.outboundIP(ctx),
		CPU:          c.cpuModel(ctx),
		RAM:          c.ram(ctx),
		Manufacturer: c.manufacturer(),
		Firmware:     c.readDMI("bios_version"),
	}

	if info, err := c.hostInfo(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read host info")
	} else {
		inv.Hostname = info.Hostname
		inv.OS = osName(info)
	}

	if inv.Hostname == "" {
		inv.Hostname, _ = os.Hostname()
	}

	c.logger.Debug().
		Str("hostname", inv.Hostname).
		Str("mac", inv.MACAddress).
		Str("ip", inv.IPAddress).
		Msg("Collected host inventory")

	return inv
}

// macAddress returns the hardware address of the first interface that is up
// and not loopback or virtual.
func (c *Collector) macAddress(ctx context.Context) string {
	ifaces, err := c.interfaces(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to list network interfaces")

		return ""
	}

	for _, iface := range ifaces {
		if isVirtual(iface.Name) || !hasFlag(iface.Flags, "up") || iface.HardwareAddr == "" {
			continue
		}

		return strings.ToLower(iface.HardwareAddr)
	}

	return ""
}

func (c *Collector) outboundIP(ctx context.Context) string {
	dialer := &net.Dialer{Timeout: time.Second}

	conn, err := dialer.DialContext(ctx, "udp", c.DialTarget)
	if err != nil {
		return ""
	}
	defer func() { _ = conn.Close() }()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}

	return addr.IP.String()
}

func (c *Collector) cpuModel(ctx context.Context) string {
	infos, err := c.cpuInfo(ctx)
	if err != nil || len(infos) == 0 {
		return ""
	}

	return strings.TrimSpace(infos[0].ModelName)
}

func (c *Collector) ram(ctx context.Context) string {
	vm, err := c.memory(ctx)
	if err != nil || vm == nil {
		return ""
	}

	return humanBytes(vm.Total)
}

func (c *Collector) manufacturer() string {
	vendor := c.readDMI("sys_vendor")
	product := c.readDMI("product_name")

	if vendor == "" || product == "" {
		return ""
	}

	return vendor + " " + product
}

func (c *Collector) readDMI(name string) string {
	data, err := os.ReadFile(filepath.Join(c.DMIRoot, name))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func osName(info *host.InfoStat) string {
	switch {
	case info.Platform != "" && info.PlatformVersion != "":
		return info.Platform + " " + info.PlatformVersion
	case info.Platform != "":
		return info.Platform
	default:
		return strings.TrimSpace(info.OS + " " + info.KernelVersion)
	}
}

// humanBytes formats n with binary units the way free -h does.
func humanBytes(n uint64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%dB", n)
	}

	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f%ci", float64(n)/float64(div), "KMGTPE"[exp])
}

func isVirtual(name string) bool {
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}

	return false
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}

	return false
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}

	return s
}
