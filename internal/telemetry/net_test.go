package telemetry

import "testing"

func TestNetInfoApply(t *testing.T) {
	n := NetInfo{Transport: "serial", Host: "/dev/ttyUSB0"}

	if !n.Apply(map[string]string{"state": "CONNECTING", "ssid": "lab"}) {
		t.Fatal("first Apply reported no change")
	}
	if !n.Apply(map[string]string{"state": "CONNECTED", "ip": "10.0.0.7", "rssi": "-60"}) {
		t.Fatal("second Apply reported no change")
	}
	if n.Apply(map[string]string{"state": "CONNECTED", "ssid": ""}) {
		t.Error("Apply with no new values reported a change")
	}

	want := NetInfo{
		Transport: "serial", Host: "/dev/ttyUSB0",
		State: "CONNECTED", SSID: "lab", IP: "10.0.0.7", RSSI: "-60",
	}
	if n != want {
		t.Errorf("NetInfo = %+v, want %+v", n, want)
	}
	if m := n.Map(); m["ssid"] != "lab" || m["port"] != "" {
		t.Errorf("Map() = %v", m)
	}
}

func TestIsNetEvent(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"CTRL:INFO NET:CONNECTED ip=10.0.0.7", true},
		{"CTRL: NET:AP_ACTIVE", true},
		{"CTRL:ERR CID=4 NET_BAD_PARAM", true},
		{"CTRL:ERR CID=4 E04 BUSY", false},
		{"CTRL:ACK CID=4 state=CONNECTED", false},
		{"NET:LIST CID=4", false},
	}
	for _, tt := range tests {
		if got := IsNetEvent(tt.line); got != tt.want {
			t.Errorf("IsNetEvent(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
