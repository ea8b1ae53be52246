package telemetry

import "strings"

// NetInfo is the last known network status of the link. Fields persist
// across partial updates.
type NetInfo struct {
	Transport string
	Host      string
	Port      string
	State     string
	SSID      string
	IP        string
	RSSI      string
	Device    string
}

// Apply merges recognised keys from a NET:STATUS reply or async NET event.
// It reports whether any field changed.
func (n *NetInfo) Apply(attrs map[string]string) bool {
	changed := false
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := attrs[k]; ok && v != "" {
				if *dst != v {
					*dst = v
					changed = true
				}
				return
			}
		}
	}
	set(&n.State, "state", "wifi_state")
	set(&n.SSID, "ssid", "SSID")
	set(&n.IP, "ip")
	set(&n.RSSI, "rssi")
	set(&n.Device, "device", "node")
	return changed
}

// Map returns the populated fields keyed by their lower-case names.
func (n NetInfo) Map() map[string]string {
	out := map[string]string{}
	for k, v := range map[string]string{
		"transport": n.Transport,
		"host":      n.Host,
		"port":      n.Port,
		"state":     n.State,
		"ssid":      n.SSID,
		"ip":        n.IP,
		"rssi":      n.RSSI,
		"device":    n.Device,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// IsNetEvent reports whether a raw serial line is an asynchronous network
// notification that belongs in the visible log even during polls.
func IsNetEvent(line string) bool {
	upper := strings.ToUpper(strings.TrimSpace(line))
	if strings.HasPrefix(upper, "CTRL:INFO NET:") || strings.HasPrefix(upper, "CTRL: NET:") {
		return true
	}
	return strings.HasPrefix(upper, "CTRL:ERR") && strings.Contains(upper, " NET_")
}
