package response

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Format renders an event as a single log entry.
func Format(ev Event) string {
	return format(ev, -1)
}

// FormatWithLatency renders an event and appends latency_ms.
func FormatWithLatency(ev Event, latency time.Duration) string {
	if latency < 0 {
		latency = 0
	}
	return format(ev, latency)
}

func format(ev Event, latency time.Duration) string {
	parts := []string{"[" + ev.Type.Label() + "]"}
	if ev.Action != "" {
		parts = append(parts, "action="+ev.Action)
	}
	switch {
	case ev.CmdID != "":
		parts = append(parts, "cmd_id="+ev.CmdID)
	case ev.MsgID != "":
		parts = append(parts, "msg_id="+ev.MsgID)
	}
	if ev.Status != "" && !strings.EqualFold(ev.Status, ev.Type.String()) {
		parts = append(parts, "status="+ev.Status)
	}
	if ev.Code != "" {
		parts = append(parts, "code="+ev.Code)
	}
	if ev.Reason != "" {
		parts = append(parts, ev.Reason)
	}

	keys := make([]string, 0, len(ev.Attributes))
	for k := range ev.Attributes {
		if k == "text" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+ev.Attributes[k])
	}

	if s := formatIssues(ev.Warnings, "WARN"); s != "" {
		parts = append(parts, "warnings=["+s+"]")
	}
	if s := formatIssues(ev.Errors, "ERR"); s != "" {
		parts = append(parts, "errors=["+s+"]")
	}
	if latency >= 0 {
		parts = append(parts, fmt.Sprintf("latency_ms=%.0f", float64(latency)/float64(time.Millisecond)))
	}

	out := strings.Join(parts, " ")
	if text := ev.Attributes["text"]; text != "" {
		var b strings.Builder
		b.WriteString(out)
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			b.WriteString("\n  ")
			b.WriteString(strings.TrimRight(line, "\r"))
		}
		out = b.String()
	}
	return out
}

func formatIssues(items []Issue, defaultCode string) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		code := it.Code
		if code == "" {
			code = defaultCode
		}
		reason := it.Reason
		if reason == "" {
			reason = it.Message
		}
		parts = append(parts, strings.Trim(code+":"+reason, ":"))
	}
	return strings.Join(parts, ",")
}
