package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		got  string
		want string
	}{
		{topics.DeviceStatus("02123456789a"), "devices/02123456789a/status"},
		{topics.DeviceCommand("02123456789a"), "devices/02123456789a/cmd"},
		{topics.DeviceResponse("02123456789a"), "devices/02123456789a/cmd/resp"},
		{topics.AllDeviceStatus(), "devices/+/status"},
		{topics.AllDeviceResponses(), "devices/+/cmd/resp"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		topic    string
		wantID   string
		wantKind TopicKind
	}{
		{"devices/abc/status", "abc", TopicStatus},
		{"devices/abc/cmd/resp", "abc", TopicResponse},
		{"devices/abc/cmd", "abc", TopicUnknown},
		{"devices//status", "", TopicUnknown},
		{"other/abc/status", "", TopicUnknown},
		{"devices", "", TopicUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, kind := ParseDeviceTopic(tt.topic)
			if id != tt.wantID || kind != tt.wantKind {
				t.Errorf("ParseDeviceTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, id, kind, tt.wantID, tt.wantKind)
			}
		})
	}
}
