package socketio

import (
	"os"
	"strings"

	"github.com/edumarques81/hymnal-backend/internal/version"
)

// SystemInfo represents basic system information.
type SystemInfo struct {
	ID            string `json:"id"`            // Unique device ID
	Host          string `json:"host"`          // Hostname
	Name          string `json:"name"`          // Display name
	Type          string `json:"type"`          // Device type
	SystemVersion string `json:"systemversion"` // System version
	BuildDate     string `json:"builddate"`     // Build date
	Hardware      string `json:"hardware"`      // Hardware model
	Clients       int    `json:"clients"`       // Connected sockets
}

// GetSystemInfo returns basic system information.
func GetSystemInfo() SystemInfo {
	v := version.GetInfo()
	info := SystemInfo{
		Type:          "hymnal_player",
		SystemVersion: v.Version,
		BuildDate:     v.BuildTime,
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Host = hostname
		info.Name = hostname
		info.ID = hostname
	}

	// /proc/cpuinfo carries a Model line on single-board computers
	if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if key, value, ok := strings.Cut(line, ":"); ok && strings.TrimSpace(key) == "Model" {
				info.Hardware = strings.TrimSpace(value)
				break
			}
		}
	}

	return info
}

// systemInfo adds the live client count.
func (s *Server) systemInfo() SystemInfo {
	info := GetSystemInfo()
	s.mu.RLock()
	info.Clients = len(s.clients)
	s.mu.RUnlock()
	return info
}
