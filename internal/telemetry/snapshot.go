package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

// DeviceSnapshot is the last status a device published on
// devices/<id>/status.
type DeviceSnapshot struct {
	Device    string
	NodeState string
	IP        string
	MsgID     string
	Motors    map[string]StatusRow
	LastSeen  time.Time

	// Digest identifies the payload content, used to drop redeliveries.
	Digest uint64
}

// ParseStatusPayload decodes a device status JSON body:
//
//	{"node_state":"ready","ip":"10.0.0.7","motors":{"0":{"id":0,"position":120,"moving":false,...}}}
//
// Motor keys are canonicalized to numeric strings.
func ParseStatusPayload(device string, payload []byte, seen time.Time) (DeviceSnapshot, error) {
	var body struct {
		NodeState any                       `json:"node_state"`
		IP        any                       `json:"ip"`
		MsgID     any                       `json:"msg_id"`
		Motors    map[string]map[string]any `json:"motors"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return DeviceSnapshot{}, fmt.Errorf("telemetry: decode status for %s: %w", device, err)
	}

	h := fnv.New64a()
	_, _ = h.Write(payload)

	snap := DeviceSnapshot{
		Device:    device,
		NodeState: scalar(body.NodeState),
		IP:        scalar(body.IP),
		MsgID:     scalar(body.MsgID),
		Motors:    make(map[string]StatusRow, len(body.Motors)),
		LastSeen:  seen,
		Digest:    h.Sum64(),
	}
	for key, fields := range body.Motors {
		var row StatusRow
		for k, v := range fields {
			row.set(k, scalar(v))
		}
		if row.ID == "" {
			row.ID = canonicalID(key)
		}
		snap.Motors[row.ID] = row
	}
	return snap, nil
}

// Rows flattens the snapshot into status rows tagged with device columns.
// AgeS is measured from now and never negative.
func (s DeviceSnapshot) Rows(now time.Time) []StatusRow {
	age := now.Sub(s.LastSeen).Seconds()
	if age < 0 || s.LastSeen.IsZero() {
		age = 0
	}
	ageText := strconv.FormatFloat(age, 'f', 1, 64)

	rows := make([]StatusRow, 0, len(s.Motors))
	for _, m := range s.Motors {
		m.Device = s.Device
		m.NodeState = s.NodeState
		m.IP = s.IP
		m.AgeS = ageText
		rows = append(rows, m)
	}
	SortRows(rows)
	return rows
}

// Clone returns a copy that does not share the motor map.
func (s DeviceSnapshot) Clone() DeviceSnapshot {
	motors := make(map[string]StatusRow, len(s.Motors))
	for k, v := range s.Motors {
		motors[k] = v
	}
	s.Motors = motors
	return s
}

// SnapshotRows flattens several device snapshots into one sorted slice.
func SnapshotRows(snaps map[string]DeviceSnapshot, now time.Time) []StatusRow {
	var rows []StatusRow
	for _, s := range snaps {
		rows = append(rows, s.Rows(now)...)
	}
	SortRows(rows)
	return rows
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}
