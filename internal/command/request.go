package command

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Parameter names as they appear in the MQTT command payload.
const (
	ParamTarget    = "target_ids"
	ParamPosition  = "position_steps"
	ParamSpeed     = "speed_sps"
	ParamAccel     = "accel_sps2"
	ParamDecel     = "decel_sps2"
	ParamOvershoot = "overshoot_steps"
	ParamBackoff   = "backoff_steps"
	ParamFullRange = "full_range_steps"
	ParamResource  = "resource"
	ParamThermal   = "THERMAL_LIMITING"
	ParamSSID      = "ssid"
	ParamPass      = "pass"
	ParamHost      = "host"
	ParamPort      = "port"
	ParamUser      = "user"
	ParamReset     = "reset"
)

// ResourceAll is the GET resource requested by a bare GET.
const ResourceAll = "ALL"

// Target selects one motor or all of them.
type Target struct {
	All bool
	ID  int
}

// AllMotors selects every motor on the node.
var AllMotors = Target{All: true}

func (t Target) String() string {
	if t.All {
		return "ALL"
	}
	return strconv.Itoa(t.ID)
}

// MarshalJSON encodes ALL as a string and a single motor as a number.
func (t Target) MarshalJSON() ([]byte, error) {
	if t.All {
		return []byte(`"ALL"`), nil
	}
	return []byte(strconv.Itoa(t.ID)), nil
}

// Params holds the typed fields of a request. Values are int, string,
// bool or Target.
type Params map[string]any

// Int returns an integer parameter.
func (p Params) Int(key string) (int, bool) {
	v, ok := p[key].(int)
	return v, ok
}

// String returns a string parameter.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Bool returns a boolean parameter.
func (p Params) Bool(key string) bool {
	v, _ := p[key].(bool)
	return v
}

// Target returns the motor selector, if the action takes one.
func (p Params) Target() (Target, bool) {
	v, ok := p[ParamTarget].(Target)
	return v, ok
}

// Request is one parsed command. It is immutable once returned by Parse;
// WithCmdID returns a modified copy.
type Request struct {
	Action Action
	Params Params
	Raw    string
	CmdID  string
}

// WithCmdID returns a copy of r carrying the correlation id.
func (r Request) WithCmdID(id string) Request {
	params := make(Params, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	r.Params = params
	r.CmdID = id
	return r
}

// payload is the MQTT wire shape of a command.
type payload struct {
	Action string `json:"action"`
	Params Params `json:"params"`
	CmdID  string `json:"cmd_id,omitempty"`
}

// Payload encodes the request as the JSON body published to devices/<id>/cmd.
func (r Request) Payload() ([]byte, error) {
	params := r.Params
	if params == nil {
		params = Params{}
	}
	return json.Marshal(payload{Action: r.Action.String(), Params: params, CmdID: r.CmdID})
}

// Line re-emits the request in canonical serial grammar. Parsing the result
// yields an equivalent request.
func (r Request) Line() string {
	p := r.Params
	target, _ := p.Target()

	switch r.Action {
	case ActionWake, ActionSleep:
		return r.Action.String() + ":" + target.String()

	case ActionMove:
		fields := []string{target.String(), optionalInt(p, ParamPosition)}
		fields = append(fields, trimGaps(optionalInt(p, ParamSpeed), optionalInt(p, ParamAccel))...)
		return "MOVE:" + strings.Join(fields, ",")

	case ActionHome:
		var rest []string
		_, hasSpeed := p[ParamSpeed]
		_, hasAccel := p[ParamAccel]
		if hasSpeed || hasAccel {
			rest = trimGaps(optionalInt(p, ParamOvershoot), optionalInt(p, ParamBackoff),
				optionalInt(p, ParamSpeed), optionalInt(p, ParamAccel), optionalInt(p, ParamFullRange))
		} else {
			rest = trimGaps(optionalInt(p, ParamOvershoot), optionalInt(p, ParamBackoff),
				optionalInt(p, ParamFullRange))
		}
		return "HOME:" + strings.Join(append([]string{target.String()}, rest...), ",")

	case ActionGet:
		resource, _ := p.String(ParamResource)
		if resource == "" || resource == ResourceAll {
			return "GET"
		}
		if t, ok := p.Target(); ok {
			return "GET " + resource + ":" + t.String()
		}
		return "GET " + resource

	case ActionSet:
		for _, key := range [...]string{ParamThermal, ParamSpeed, ParamAccel, ParamDecel} {
			v, ok := p[key]
			if !ok {
				continue
			}
			return "SET " + setKeyName(key) + "=" + formatValue(v)
		}
		return "SET"

	case ActionNetSet:
		ssid, _ := p.String(ParamSSID)
		pass, _ := p.String(ParamPass)
		return "NET:SET," + quote(ssid) + "," + quote(pass)

	case ActionMQTTSetConfig:
		if p.Bool(ParamReset) {
			return "MQTT:SET_CONFIG RESET"
		}
		parts := []string{"MQTT:SET_CONFIG"}
		for _, key := range [...]string{ParamHost, ParamPort, ParamUser, ParamPass} {
			v, ok := p[key]
			if !ok {
				continue
			}
			s := formatValue(v)
			if s == "" || strings.ContainsAny(s, " \t\"\\") {
				s = quote(s)
			}
			parts = append(parts, key+"="+s)
		}
		return strings.Join(parts, " ")
	}

	return r.Action.String()
}

func setKeyName(param string) string {
	switch param {
	case ParamSpeed:
		return "SPEED"
	case ParamAccel:
		return "ACCEL"
	case ParamDecel:
		return "DECEL"
	}
	return param
}

func optionalInt(p Params, key string) string {
	if v, ok := p.Int(key); ok {
		return strconv.Itoa(v)
	}
	return ""
}

// trimGaps drops trailing empty fields; empty fields before the last
// supplied one stay as gap tokens.
func trimGaps(fields ...string) []string {
	end := len(fields)
	for end > 0 && fields[end-1] == "" {
		end--
	}
	return fields[:end]
}

func formatValue(v any) string {
	switch x := v.(type) {
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case Target:
		return x.String()
	}
	return ""
}

func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
