// Package discovery locates Yeti power stations on the local network via
// mDNS. Yetis advertise a plain HTTP service with an instance and hostname
// starting with "yeti".
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type Yeti devices advertise.
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."

	// DefaultScanTimeout is how long a scan listens for announcements.
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the port Yeti devices serve their REST API on.
	DefaultPort = 80
)

// Device is a discovered power station.
type Device struct {
	Name         string    `json:"name"`
	Hostname     string    `json:"hostname"`
	IP           string    `json:"ip"`
	Port         int       `json:"port"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// BaseURL returns the device's REST endpoint.
func (d Device) BaseURL() string {
	return "http://" + net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// Scanner handles mDNS device discovery.
type Scanner struct {
	// Timeout is the maximum time to wait for device discovery.
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{Timeout: DefaultScanTimeout}
}

// Scan discovers all Yeti devices announcing on the local network. It
// listens for the full timeout and returns everything that answered.
func (s *Scanner) Scan(ctx context.Context) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var devices []Device
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if dev, ok := parseServiceEntry(entry); ok {
				devices = append(devices, dev)
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	// zeroconf closes entries once browsing stops
	<-ctx.Done()
	<-done
	return devices, nil
}

// FindFirst returns the first Yeti found, stopping the scan early.
func (s *Scanner) FindFirst(ctx context.Context) (Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Device{}, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan Device, 1)
	go func() {
		for entry := range entries {
			if dev, ok := parseServiceEntry(entry); ok {
				found <- dev
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return Device{}, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	select {
	case dev := <-found:
		return dev, nil
	default:
		return Device{}, fmt.Errorf("no yeti found within %s", s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry, reporting whether it
// looks like a Yeti.
func parseServiceEntry(entry *zeroconf.ServiceEntry) (Device, bool) {
	name := strings.ToLower(entry.Instance)
	host := strings.ToLower(entry.HostName)
	if !strings.HasPrefix(name, "yeti") && !strings.HasPrefix(host, "yeti") {
		return Device{}, false
	}

	// Prefer IPv4.
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return Device{}, false
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	return Device{
		Name:         entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		DiscoveredAt: time.Now(),
	}, true
}
