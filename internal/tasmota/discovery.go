package tasmota

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/airdancer/internal/store"
)

// discoveryPayload is the subset of the Tasmota discovery config message
// the daemon cares about. The device topic doubles as the switch ID.
type discoveryPayload struct {
	Topic    string `json:"t"`
	IP       string `json:"ip"`
	Hostname string `json:"hn"`
	MAC      string `json:"mac"`
	Model    string `json:"md"`
	Software string `json:"sw"`
}

func parseDiscovery(payload []byte) (*discoveryPayload, error) {
	var p discoveryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid discovery payload: %w", err)
	}
	if p.Topic == "" {
		return nil, errors.New("discovery payload missing device topic")
	}
	return &p, nil
}

func (p *discoveryPayload) deviceInfo() *store.DeviceInfo {
	return &store.DeviceInfo{
		IP:       p.IP,
		Hostname: p.Hostname,
		MAC:      p.MAC,
		Model:    p.Model,
		Software: p.Software,
	}
}

// switchIDFromTopic extracts the device segment from a tele/stat topic
// such as "stat/tasmota_AB12CD/POWER".
func switchIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// diffDeviceInfo lists field-level changes between two device info
// snapshots, for logging when a known switch reappears with new details.
func diffDeviceInfo(prev, cur *store.DeviceInfo) []string {
	var p, c store.DeviceInfo
	if prev != nil {
		p = *prev
	}
	if cur != nil {
		c = *cur
	}

	var changes []string
	record := func(field, from, to string) {
		if from != to {
			changes = append(changes, fmt.Sprintf("%s: %q -> %q", field, from, to))
		}
	}
	record("ip", p.IP, c.IP)
	record("hostname", p.Hostname, c.Hostname)
	record("mac", p.MAC, c.MAC)
	record("model", p.Model, c.Model)
	record("software", p.Software, c.Software)
	return changes
}
