package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ParseMQTTPayload normalizes one devices/<id>/cmd/resp message. The body
// must be a JSON object; anything else is a *ProtocolError.
func ParseMQTTPayload(payload []byte) (Event, error) {
	obj, err := decodeObject(payload)
	if err != nil {
		return Event{}, &ProtocolError{Payload: string(payload), Err: err}
	}

	status := strings.ToLower(stringify(obj["status"]))
	ev := Event{
		Source:     SourceMQTT,
		Raw:        string(payload),
		Type:       statusType(status),
		Action:     stringify(obj["action"]),
		CmdID:      stringify(obj["cmd_id"]),
		MsgID:      stringify(obj["msg_id"]),
		Status:     status,
		Attributes: map[string]string{},
	}
	if ev.CmdID == "" {
		ev.CmdID = ev.MsgID
	}

	if result, ok := obj["result"].(map[string]any); ok {
		for k, v := range result {
			ev.Attributes[k] = stringify(v)
		}
	}
	ev.Warnings = decodeIssues(obj["warnings"])
	ev.Errors = decodeIssues(obj["errors"])

	if len(ev.Errors) > 0 {
		first := ev.Errors[0]
		ev.Code = first.Code
		ev.Reason = first.Reason
		if ev.Reason == "" {
			ev.Reason = first.Message
		}
	}
	return ev, nil
}

func statusType(status string) Type {
	switch status {
	case "ack":
		return TypeAck
	case "done":
		return TypeDone
	case "error":
		return TypeError
	case "warn":
		return TypeWarn
	}
	return TypeInfo
}

func decodeObject(payload []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return obj, nil
}

func decodeIssues(v any) []Issue {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []Issue
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		iss := Issue{}
		for k, raw := range m {
			s := stringify(raw)
			switch k {
			case "code":
				iss.Code = s
			case "reason":
				iss.Reason = s
			case "message":
				iss.Message = s
			default:
				if iss.Fields == nil {
					iss.Fields = map[string]string{}
				}
				iss.Fields[k] = s
			}
		}
		out = append(out, iss)
	}
	return out
}

// stringify renders a decoded JSON value the way attributes are stored:
// null becomes "", scalars their literal text, containers compact JSON.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
