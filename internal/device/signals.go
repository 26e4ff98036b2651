package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
)

// Signal is one named input to the fingerprint hash.
type Signal struct {
	Name  string
	Value string
}

// SignalSource yields the hardware signals the primary fingerprint is built
// from. Implementations may fail; Identity falls back when they do.
type SignalSource interface {
	Signals(ctx context.Context) ([]Signal, error)
}

// SignalSourceFunc adapts a function to SignalSource.
type SignalSourceFunc func(ctx context.Context) ([]Signal, error)

// Signals implements SignalSource.
func (f SignalSourceFunc) Signals(ctx context.Context) ([]Signal, error) { return f(ctx) }

// ErrNoHardwareSignals is returned when neither a MAC address nor a hostname
// can be read.
var ErrNoHardwareSignals = errors.New("no hardware signals available")

// HardwareSignals reads MAC address, hostname and a CPU descriptor from the
// host. The zero value is ready to use.
type HardwareSignals struct {
	// ReadFile and Interfaces are overridable for tests.
	ReadFile   func(string) ([]byte, error)
	Interfaces func() ([]net.Interface, error)
	Hostname   func() (string, error)
}

// Signals implements SignalSource.
func (h HardwareSignals) Signals(ctx context.Context) ([]Signal, error) {
	mac, macErr := h.macAddress()
	host, hostErr := h.hostname()
	if macErr != nil && hostErr != nil {
		return nil, fmt.Errorf("%w: mac: %v, hostname: %v", ErrNoHardwareSignals, macErr, hostErr)
	}
	if macErr != nil {
		mac = "unknown-mac"
	}
	if hostErr != nil {
		host = "unknown-host"
	}

	return []Signal{
		{Name: "mac_address", Value: mac},
		{Name: "hostname", Value: host},
		{Name: "cpu_id", Value: h.cpuID()},
		{Name: "os", Value: runtime.GOOS},
		{Name: "platform", Value: runtime.GOARCH},
	}, nil
}

// macAddress returns the MAC of the first up, non-loopback interface.
func (h HardwareSignals) macAddress() (string, error) {
	list := net.Interfaces
	if h.Interfaces != nil {
		list = h.Interfaces
	}
	interfaces, err := list()
	if err != nil {
		return "", fmt.Errorf("list network interfaces: %w", err)
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", errors.New("no usable network interface")
}

func (h HardwareSignals) hostname() (string, error) {
	fn := os.Hostname
	if h.Hostname != nil {
		fn = h.Hostname
	}
	name, err := fn()
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errors.New("empty hostname")
	}
	return name, nil
}

// cpuID returns a short hash describing the CPU. It never fails; unsupported
// platforms get an architecture-only descriptor.
func (h HardwareSignals) cpuID() string {
	var raw string
	switch runtime.GOOS {
	case "windows":
		raw = os.Getenv("PROCESSOR_IDENTIFIER")
		if raw == "" {
			raw = "windows-" + runtime.GOARCH + "-" + os.Getenv("PROCESSOR_ARCHITECTURE")
		}
	case "linux":
		raw = h.linuxCPUModel()
	case "darwin":
		raw = "darwin-" + runtime.GOARCH
		if t := os.Getenv("HOSTTYPE"); t != "" {
			raw += "-" + t
		}
	}
	if raw == "" {
		raw = runtime.GOOS + "-" + runtime.GOARCH
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

func (h HardwareSignals) linuxCPUModel() string {
	read := os.ReadFile
	if h.ReadFile != nil {
		read = h.ReadFile
	}
	data, err := read("/proc/cpuinfo")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "model name") || strings.HasPrefix(line, "cpu family") {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
