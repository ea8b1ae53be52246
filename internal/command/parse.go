package command

import (
	"regexp"
	"strconv"
	"strings"
)

// Mode selects the transport a command is being parsed for.
type Mode uint8

const (
	// ModeSerial accepts the full grammar.
	ModeSerial Mode = iota
	// ModeMQTT rejects STATUS, which is push-only over MQTT.
	ModeMQTT
)

var (
	integerPattern  = regexp.MustCompile(`^-?\d+$`)
	unsignedPattern = regexp.MustCompile(`^\d+$`)
)

// Parse splits text into batch elements and parses each one. The first
// failing element aborts the batch: either every request is returned or
// none is.
func Parse(text string, mode Mode) ([]Request, error) {
	parts := SplitBatches(text)
	if len(parts) == 0 {
		return nil, parseErrorf("", "empty command")
	}

	reqs := make([]Request, 0, len(parts))
	for _, part := range parts {
		req, err := parseOne(part, mode)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// SplitBatches splits on semicolons that are not inside double quotes and
// drops empty elements.
func SplitBatches(text string) []string {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			parts = append(parts, s)
		}
		current.Reset()
	}

	for _, r := range text {
		switch {
		case escaped:
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ';' && !quoted:
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return parts
}

func parseOne(text string, mode Mode) (Request, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Request{}, parseErrorf("", "empty command")
	}
	upper := strings.ToUpper(raw)

	switch {
	case strings.HasPrefix(upper, "HELP"):
		if upper != "HELP" {
			return Request{}, parseErrorf(raw, "HELP does not take arguments")
		}
		return Request{Action: ActionHelp, Params: Params{}, Raw: raw}, nil

	case upper == "STATUS" || upper == "ST":
		if mode == ModeMQTT {
			return Request{}, unsupportedf(raw, "STATUS is not supported over MQTT; status is pushed by the node")
		}
		return Request{Action: ActionStatus, Params: Params{}, Raw: raw}, nil

	case strings.HasPrefix(upper, "NET:"):
		return parseNet(raw)

	case strings.HasPrefix(upper, "MQTT:"):
		return parseMQTTConfig(raw)
	}

	if head := strings.Fields(raw)[0]; strings.Contains(head, ":") {
		return parseColonForm(raw)
	}
	return parseSpaceForm(raw)
}

func parseNet(raw string) (Request, error) {
	rest := raw[len("NET:"):]
	sub := rest
	remainder := ""
	if i := strings.IndexByte(rest, ','); i >= 0 {
		sub, remainder = rest[:i], rest[i+1:]
	}
	sub = strings.ToUpper(strings.TrimSpace(sub))

	var action Action
	switch sub {
	case "STATUS":
		action = ActionNetStatus
	case "RESET":
		action = ActionNetReset
	case "LIST":
		action = ActionNetList
	case "SET":
		args, err := splitArgs(raw, remainder)
		if err != nil {
			return Request{}, err
		}
		if len(args) < 2 {
			return Request{}, parseErrorf(raw, "NET:SET requires ssid and pass")
		}
		if len(args) > 2 {
			return Request{}, parseErrorf(raw, "NET:SET takes exactly ssid and pass")
		}
		return Request{
			Action: ActionNetSet,
			Params: Params{ParamSSID: args[0], ParamPass: args[1]},
			Raw:    raw,
		}, nil
	default:
		return Request{}, unsupportedf(raw, "unsupported NET action %q", "NET:"+sub)
	}

	if strings.TrimSpace(remainder) != "" || strings.Contains(rest, ",") {
		return Request{}, parseErrorf(raw, "%s does not accept arguments", action)
	}
	return Request{Action: action, Params: Params{}, Raw: raw}, nil
}

func parseMQTTConfig(raw string) (Request, error) {
	rest := strings.TrimSpace(raw[len("MQTT:"):])
	if rest == "" {
		return Request{}, parseErrorf(raw, "MQTT action required")
	}

	sub, args, _ := strings.Cut(rest, " ")
	sub = strings.ToUpper(strings.TrimSpace(sub))
	args = strings.TrimSpace(args)

	switch sub {
	case "GET_CONFIG":
		if args != "" {
			return Request{}, parseErrorf(raw, "MQTT:GET_CONFIG does not accept arguments")
		}
		return Request{Action: ActionMQTTGetConfig, Params: Params{}, Raw: raw}, nil

	case "SET_CONFIG":
		if strings.EqualFold(args, "RESET") {
			return Request{Action: ActionMQTTSetConfig, Params: Params{ParamReset: true}, Raw: raw}, nil
		}
		if args == "" {
			return Request{}, parseErrorf(raw, "MQTT:SET_CONFIG requires assignments or RESET")
		}
		tokens, err := splitAssignments(raw, args)
		if err != nil {
			return Request{}, err
		}
		params := Params{}
		for _, tok := range tokens {
			k, v, ok := strings.Cut(tok, "=")
			if !ok {
				return Request{}, parseErrorf(raw, "invalid assignment %q; expected key=value", tok)
			}
			v = strings.TrimSpace(v)
			if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
				v = v[1 : len(v)-1]
			}
			switch key := strings.ToLower(strings.TrimSpace(k)); key {
			case "host":
				params[ParamHost] = v
			case "port":
				if !unsignedPattern.MatchString(v) {
					return Request{}, parseErrorf(raw, "port must be integer")
				}
				port, err := strconv.Atoi(v)
				if err != nil || port < 1 || port > 65535 {
					return Request{}, parseErrorf(raw, "port out of range")
				}
				params[ParamPort] = port
			case "user":
				params[ParamUser] = v
			case "pass", "password":
				params[ParamPass] = v
			default:
				return Request{}, unsupportedf(raw, "unsupported MQTT field %q", key)
			}
		}
		return Request{Action: ActionMQTTSetConfig, Params: params, Raw: raw}, nil
	}

	return Request{}, unsupportedf(raw, "unsupported MQTT action %q", sub)
}

func parseColonForm(raw string) (Request, error) {
	name, argString, _ := strings.Cut(raw, ":")
	name = strings.ToUpper(strings.TrimSpace(name))

	switch name {
	case "MOVE", "M":
		args, err := splitArgs(raw, argString)
		if err != nil {
			return Request{}, err
		}
		if len(args) < 2 {
			return Request{}, parseErrorf(raw, "MOVE requires target and position")
		}
		if len(args) > 4 {
			return Request{}, parseErrorf(raw, "MOVE takes at most target, position, speed and accel")
		}
		target, err := parseTarget(raw, args[0])
		if err != nil {
			return Request{}, err
		}
		position, err := parseInt(raw, args[1], "position")
		if err != nil {
			return Request{}, err
		}
		params := Params{ParamTarget: target, ParamPosition: position}
		if err := optionalInts(raw, params, args, []string{"", "", ParamSpeed, ParamAccel}); err != nil {
			return Request{}, err
		}
		return Request{Action: ActionMove, Params: params, Raw: raw}, nil

	case "HOME", "H":
		args, err := splitArgs(raw, argString)
		if err != nil {
			return Request{}, err
		}
		target, err := parseTarget(raw, args[0])
		if err != nil {
			return Request{}, err
		}
		params := Params{ParamTarget: target}

		var layout []string
		switch {
		case len(args) == 6:
			layout = []string{"", ParamOvershoot, ParamBackoff, ParamSpeed, ParamAccel, ParamFullRange}
		case len(args) <= 4:
			layout = []string{"", ParamOvershoot, ParamBackoff, ParamFullRange}
		default:
			return Request{}, parseErrorf(raw, "HOME takes target, overshoot, backoff and full_range")
		}
		if err := optionalInts(raw, params, args, layout); err != nil {
			return Request{}, err
		}
		return Request{Action: ActionHome, Params: params, Raw: raw}, nil

	case "WAKE", "SLEEP":
		args, err := splitArgs(raw, argString)
		if err != nil {
			return Request{}, err
		}
		if len(args) != 1 {
			return Request{}, parseErrorf(raw, "%s takes a single target selector", name)
		}
		target, err := parseTarget(raw, args[0])
		if err != nil {
			return Request{}, err
		}
		return Request{Action: ParseAction(name), Params: Params{ParamTarget: target}, Raw: raw}, nil
	}

	return Request{}, unsupportedf(raw, "unsupported command %q", name)
}

func parseSpaceForm(raw string) (Request, error) {
	tokens := strings.Fields(raw)
	name := strings.ToUpper(tokens[0])

	switch name {
	case "MOVE", "M":
		return Request{}, parseErrorf(raw, "MOVE must use colon syntax (MOVE:<id>,<steps>)")
	case "HOME", "H":
		return Request{}, parseErrorf(raw, "HOME must use colon syntax (HOME:<id>[,...])")

	case "WAKE", "SLEEP":
		if len(tokens) != 2 {
			return Request{}, parseErrorf(raw, "%s requires target selector", name)
		}
		target, err := parseTarget(raw, tokens[1])
		if err != nil {
			return Request{}, err
		}
		return Request{Action: ParseAction(name), Params: Params{ParamTarget: target}, Raw: raw}, nil

	case "GET":
		return parseGet(raw, tokens)

	case "SET":
		params, err := parseSet(raw, tokens[1:])
		if err != nil {
			return Request{}, err
		}
		return Request{Action: ActionSet, Params: params, Raw: raw}, nil
	}

	return Request{}, unsupportedf(raw, "unsupported command %q", name)
}

func parseGet(raw string, tokens []string) (Request, error) {
	if len(tokens) == 1 {
		return Request{Action: ActionGet, Params: Params{ParamResource: ResourceAll}, Raw: raw}, nil
	}

	resource, selector, hasSuffix := strings.Cut(tokens[1], ":")
	resource = strings.ToUpper(resource)
	params := Params{ParamResource: resource}

	if resource != "LAST_OP_TIMING" {
		if hasSuffix || len(tokens) > 2 {
			return Request{}, parseErrorf(raw, "GET %s does not take a target", resource)
		}
		return Request{Action: ActionGet, Params: params, Raw: raw}, nil
	}

	if !hasSuffix && len(tokens) >= 3 {
		selector = tokens[2]
	}
	if len(tokens) > 3 || (hasSuffix && len(tokens) > 2) {
		return Request{}, parseErrorf(raw, "GET LAST_OP_TIMING takes a single target selector")
	}
	if selector != "" {
		target, err := parseTarget(raw, selector)
		if err != nil {
			return Request{}, err
		}
		params[ParamTarget] = target
	}
	return Request{Action: ActionGet, Params: params, Raw: raw}, nil
}

func parseSet(raw string, tokens []string) (Params, error) {
	if len(tokens) != 1 {
		return nil, parseErrorf(raw, "SET expects a single assignment")
	}
	key, value, ok := strings.Cut(tokens[0], "=")
	if !ok {
		return nil, parseErrorf(raw, "SET assignment missing '='")
	}
	name := strings.ToUpper(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	switch name {
	case "THERMAL_LIMITING":
		v := strings.ToUpper(value)
		if v != "ON" && v != "OFF" {
			return nil, parseErrorf(raw, "THERMAL_LIMITING must be ON or OFF")
		}
		return Params{ParamThermal: v}, nil
	case "SPEED":
		n, err := parseInt(raw, value, "SPEED")
		if err != nil {
			return nil, err
		}
		return Params{ParamSpeed: n}, nil
	case "ACCEL":
		n, err := parseInt(raw, value, "ACCEL")
		if err != nil {
			return nil, err
		}
		return Params{ParamAccel: n}, nil
	case "DECEL":
		n, err := parseInt(raw, value, "DECEL")
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, parseErrorf(raw, "DECEL must be >= 0")
		}
		return Params{ParamDecel: n}, nil
	}

	return nil, unsupportedf(raw, "unsupported SET field %q", name)
}

func parseTarget(raw, token string) (Target, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Target{}, parseErrorf(raw, "target selector missing")
	}
	if strings.EqualFold(token, "ALL") {
		return AllMotors, nil
	}
	if !integerPattern.MatchString(token) {
		return Target{}, parseErrorf(raw, "target selector %q invalid", token)
	}
	id, err := strconv.Atoi(token)
	if err != nil {
		return Target{}, parseErrorf(raw, "target selector %q out of range", token)
	}
	return Target{ID: id}, nil
}

func parseInt(raw, token, field string) (int, error) {
	token = strings.TrimSpace(token)
	if !integerPattern.MatchString(token) {
		return 0, parseErrorf(raw, "%s must be integer", field)
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return 0, parseErrorf(raw, "%s out of range", field)
	}
	return n, nil
}

// optionalInts fills params from positional args. layout[i] names the
// parameter at position i; empty names and empty args are skipped.
func optionalInts(raw string, params Params, args, layout []string) error {
	for i, key := range layout {
		if key == "" || i >= len(args) || args[i] == "" {
			continue
		}
		n, err := parseInt(raw, args[i], key)
		if err != nil {
			return err
		}
		params[key] = n
	}
	return nil
}

// splitArgs splits a comma-separated argument list. Double quotes group,
// backslash escapes inside quotes, and fields are trimmed.
func splitArgs(raw, s string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case quoted && r == '"':
			quoted = false
		case quoted:
			current.WriteRune(r)
		case r == ',':
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		case r == '"':
			quoted = true
		default:
			current.WriteRune(r)
		}
	}
	if quoted || escaped {
		return nil, parseErrorf(raw, "unterminated quoted argument")
	}
	return append(args, strings.TrimSpace(current.String())), nil
}

// splitAssignments splits on whitespace outside double quotes, removing the
// quotes and honouring backslash escapes.
func splitAssignments(raw, s string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		quoted  bool
		escaped bool
		started bool
	)
	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quoted && r == '\\':
			escaped = true
		case quoted && r == '"':
			quoted = false
		case quoted:
			current.WriteRune(r)
		case r == '"':
			quoted = true
			started = true
		case r == ' ' || r == '\t':
			if started {
				tokens = append(tokens, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if quoted || escaped {
		return nil, parseErrorf(raw, "unterminated quoted value")
	}
	if started {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}
