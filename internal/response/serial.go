package response

import "strings"

// legacyCorrelationKey is the numeric command counter older firmware puts
// on CTRL lines instead of msg_id.
const legacyCorrelationKey = "CID"

// ParseSerialLine normalizes one line read from the serial link. It returns
// false for blank lines and for lines that are not response traffic (STATUS
// rows, echoes, HELP text); the worker decides what to do with those.
func ParseSerialLine(line string) (Event, bool) {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return Event{}, false
	}
	upper := strings.ToUpper(raw)

	switch {
	case strings.HasPrefix(upper, "CTRL:"):
		return parseControlLine(raw), true
	case strings.HasPrefix(upper, "NET:"), strings.HasPrefix(upper, "SSID="):
		return parseDataLine(raw), true
	}
	return Event{}, false
}

func controlType(kind string) Type {
	switch strings.ToUpper(kind) {
	case "ACK":
		return TypeAck
	case "DONE":
		return TypeDone
	case "WARN":
		return TypeWarn
	case "ERR", "ERROR":
		return TypeError
	}
	return TypeInfo
}

func parseControlLine(raw string) Event {
	tokens := splitTokens(raw, false)
	ev := Event{
		Source:     SourceSerial,
		Raw:        raw,
		Type:       controlType(tokens[0][len("CTRL:"):]),
		Attributes: map[string]string{},
	}

	var bare []string
	for _, tok := range tokens[1:] {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			bare = append(bare, tok)
			continue
		}
		value = stripQuotes(strings.TrimSuffix(strings.TrimSpace(value), ","))
		switch key {
		case "msg_id":
			ev.MsgID = value
		case "cmd_id":
			ev.CmdID = value
		case "action":
			ev.Action = value
		case "status":
			ev.Status = value
		default:
			ev.Attributes[key] = value
		}
	}

	switch ev.Type {
	case TypeWarn, TypeError:
		if len(bare) > 0 {
			ev.Code = bare[0]
			ev.Reason = strings.Join(bare[1:], " ")
		} else if code, ok := ev.Attributes["code"]; ok {
			ev.Code = code
			ev.Reason = ev.Attributes["reason"]
			delete(ev.Attributes, "code")
			delete(ev.Attributes, "reason")
		}
	default:
		if len(bare) > 0 && ev.Status == "" {
			ev.Reason = strings.Join(bare, " ")
		}
	}

	if ev.CmdID == "" {
		ev.CmdID = ev.MsgID
	}
	if ev.CmdID == "" {
		ev.CmdID = ev.Attributes[legacyCorrelationKey]
	}
	return ev
}

func parseDataLine(raw string) Event {
	ev := Event{
		Source:     SourceSerial,
		Raw:        raw,
		Type:       TypeData,
		Attributes: map[string]string{},
	}
	for _, part := range splitTokens(raw, true) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		ev.Attributes[key] = stripQuotes(value)
	}
	ev.MsgID = ev.Attributes["msg_id"]
	ev.CmdID = ev.Attributes["cmd_id"]
	if ev.CmdID == "" {
		ev.CmdID = ev.MsgID
	}
	return ev
}

// splitTokens splits on whitespace outside double quotes, and on commas too
// when commaSep is set.
func splitTokens(s string, commaSep bool) []string {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t' || (commaSep && r == ',')):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
