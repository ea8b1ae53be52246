package command

// Action is the closed set of commands the controller firmware understands.
// It is decoded once at parse time; downstream code switches on the value,
// never on the action string.
type Action uint8

// Actions, in the order the firmware HELP text lists them.
const (
	ActionUnknown Action = iota
	ActionHelp
	ActionStatus
	ActionWake
	ActionSleep
	ActionMove
	ActionHome
	ActionGet
	ActionSet
	ActionNetStatus
	ActionNetReset
	ActionNetList
	ActionNetSet
	ActionMQTTGetConfig
	ActionMQTTSetConfig
)

var actionNames = [...]string{
	ActionUnknown:       "UNKNOWN",
	ActionHelp:          "HELP",
	ActionStatus:        "STATUS",
	ActionWake:          "WAKE",
	ActionSleep:         "SLEEP",
	ActionMove:          "MOVE",
	ActionHome:          "HOME",
	ActionGet:           "GET",
	ActionSet:           "SET",
	ActionNetStatus:     "NET:STATUS",
	ActionNetReset:      "NET:RESET",
	ActionNetList:       "NET:LIST",
	ActionNetSet:        "NET:SET",
	ActionMQTTGetConfig: "MQTT:GET_CONFIG",
	ActionMQTTSetConfig: "MQTT:SET_CONFIG",
}

// String returns the wire name of the action.
func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return actionNames[ActionUnknown]
}

// MarshalText implements encoding.TextMarshaler so actions serialize by name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ParseAction maps a wire name back to an Action. Unknown names return
// ActionUnknown.
func ParseAction(name string) Action {
	for i, n := range actionNames {
		if n == name && Action(i) != ActionUnknown {
			return Action(i)
		}
	}
	return ActionUnknown
}

// AwaitsDone reports whether the firmware answers with an ACK first and a
// separate DONE once motion finishes. Every other action is finished by its
// ACK or ERR.
func (a Action) AwaitsDone() bool {
	return a == ActionMove || a == ActionHome
}

// IsNet reports whether the action is part of the NET: family.
func (a Action) IsNet() bool {
	return a >= ActionNetStatus && a <= ActionNetSet
}
