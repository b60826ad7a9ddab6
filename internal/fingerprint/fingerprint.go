// Package fingerprint derives a stable identifier for the physical
// installation a license is bound to. Volatile inputs are normalized or
// rounded so the fingerprint survives reboots and minor hardware churn.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Fingerprint holds the derived identifier plus the components it came from.
// Only the truncated Prefix should ever reach logs.
type Fingerprint struct {
	Value       string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	Username    string    `json:"username"`
	MACs        []string  `json:"macs"`
	CPUModel    string    `json:"cpu_model"`
	MemoryGB    int       `json:"memory_gb"`
	Platform    string    `json:"platform"`
	GoVersion   string    `json:"go_version"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Prefix returns the loggable truncated form of the fingerprint.
func (f *Fingerprint) Prefix() string {
	if len(f.Value) < 12 {
		return f.Value
	}
	return f.Value[:12]
}

// Manager computes fingerprints on demand and caches the result.
type Manager struct {
	cache       *Fingerprint
	cacheMutex  sync.RWMutex
	cacheExpiry time.Time
	// cacheDuration bounds how long one computation is reused
	cacheDuration time.Duration
}

// NewManager creates a fingerprint manager with a one hour cache.
func NewManager() *Manager {
	return &Manager{cacheDuration: 1 * time.Hour}
}

// virtualInterfacePrefixes lists adapter name prefixes that belong to
// virtualization layers and change between boots; they never contribute to
// the fingerprint.
var virtualInterfacePrefixes = []string{
	"veth", "docker", "br-", "virbr", "vmnet", "vboxnet", "tap", "tun",
	"utun", "awdl", "llw", "zt", "wg",
}

func isVirtualInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// PhysicalMACs returns the sorted MAC addresses of physical, non-loopback
// network interfaces.
func (m *Manager) PhysicalMACs() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate network interfaces: %w", err)
	}

	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVirtualInterface(iface.Name) {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		macs = append(macs, mac)
	}

	if len(macs) == 0 {
		return nil, fmt.Errorf("no physical network interface with a MAC address found")
	}

	sort.Strings(macs)
	return macs, nil
}

// HostIdentity returns the normalized hostname and username.
func (m *Manager) HostIdentity() (hostname, username string) {
	if h, err := os.Hostname(); err == nil {
		hostname = strings.ToLower(strings.TrimSpace(h))
	}
	if hostname == "" {
		hostname = "unknown-host"
	}

	if u, err := user.Current(); err == nil && u.Username != "" {
		username = strings.ToLower(u.Username)
		// Strip Windows domain qualifiers
		if idx := strings.LastIndexByte(username, '\\'); idx >= 0 {
			username = username[idx+1:]
		}
	}
	if username == "" {
		username = "unknown-user"
	}
	return hostname, username
}

// CPUModel returns a stable CPU description for the current platform.
func (m *Manager) CPUModel() string {
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "model name") {
					if idx := strings.IndexByte(line, ':'); idx >= 0 {
						return strings.TrimSpace(line[idx+1:])
					}
				}
			}
		}
	}
	if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
		return strings.TrimSpace(procID)
	}
	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}

// MemoryGB returns total system memory rounded to whole gigabytes. Rounding
// keeps the fingerprint stable when the OS reports slightly different totals
// across boots.
func (m *Manager) MemoryGB() int {
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile("/proc/meminfo"); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				if strings.HasPrefix(line, "MemTotal:") {
					fields := strings.Fields(line)
					if len(fields) >= 2 {
						if kb, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
							gb := (kb + 512*1024) / (1024 * 1024)
							if gb < 1 {
								gb = 1
							}
							return int(gb)
						}
					}
				}
			}
		}
	}
	return 0
}

// goMajorVersion reduces runtime.Version() to its major.minor form so patch
// releases do not churn the fingerprint.
func goMajorVersion() string {
	v := runtime.Version()
	parts := strings.SplitN(strings.TrimPrefix(v, "go"), ".", 3)
	if len(parts) >= 2 {
		return "go" + parts[0] + "." + parts[1]
	}
	return v
}

// Generate computes the device fingerprint, reusing the cached value when it
// is still fresh.
func (m *Manager) Generate() (*Fingerprint, error) {
	m.cacheMutex.RLock()
	if m.cache != nil && time.Now().Before(m.cacheExpiry) {
		cached := *m.cache
		m.cacheMutex.RUnlock()
		return &cached, nil
	}
	m.cacheMutex.RUnlock()

	hostname, username := m.HostIdentity()

	macs, err := m.PhysicalMACs()
	if err != nil {
		macs = []string{"unknown-mac"}
		slog.Warn("Failed to enumerate physical MAC addresses, using fallback",
			slog.String("error", err.Error()),
		)
	}

	cpuModel := m.CPUModel()
	memoryGB := m.MemoryGB()
	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	goVersion := goMajorVersion()

	factors := []string{
		platform,
		hostname,
		username,
		strings.Join(macs, ","),
		cpuModel,
		strconv.Itoa(memoryGB),
		goVersion,
	}

	hash := sha256.Sum256([]byte(strings.Join(factors, "|")))
	fp := &Fingerprint{
		Value:       hex.EncodeToString(hash[:]),
		Hostname:    hostname,
		Username:    username,
		MACs:        macs,
		CPUModel:    cpuModel,
		MemoryGB:    memoryGB,
		Platform:    platform,
		GoVersion:   goVersion,
		GeneratedAt: time.Now(),
	}

	m.cacheMutex.Lock()
	m.cache = fp
	m.cacheExpiry = time.Now().Add(m.cacheDuration)
	m.cacheMutex.Unlock()

	slog.Debug("Device fingerprint generated",
		slog.String("fingerprint_prefix", fp.Prefix()),
		slog.String("hostname", hostname),
		slog.Int("mac_count", len(macs)),
	)

	return fp, nil
}

// Matches reports whether the current device fingerprint equals the stored
// value.
func (m *Manager) Matches(stored string) (bool, error) {
	current, err := m.Generate()
	if err != nil {
		return false, fmt.Errorf("failed to generate current fingerprint: %w", err)
	}
	return current.Value == stored, nil
}

// ClearCache drops the cached fingerprint, forcing recomputation.
func (m *Manager) ClearCache() {
	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()
	m.cache = nil
	m.cacheExpiry = time.Time{}
}
