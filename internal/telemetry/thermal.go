package telemetry

import (
	"strconv"
	"strings"
)

// ThermalState is the firmware's thermal limiting setting.
type ThermalState struct {
	Known      bool
	Enabled    bool
	MaxBudgetS *int
}

// ParseThermal reads THERMAL_LIMITING and max_budget_s from response
// attributes. It returns false when the flag is absent.
func ParseThermal(attrs map[string]string) (ThermalState, bool) {
	var (
		st    ThermalState
		found bool
	)
	for k, v := range attrs {
		switch strings.ToUpper(k) {
		case "THERMAL_LIMITING":
			switch strings.ToUpper(strings.TrimSpace(v)) {
			case "ON", "1", "TRUE":
				st.Enabled = true
			case "OFF", "0", "FALSE":
				st.Enabled = false
			default:
				continue
			}
			found = true
		case "MAX_BUDGET_S":
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				st.MaxBudgetS = &n
			}
		}
	}
	if !found {
		return ThermalState{}, false
	}
	st.Known = true
	return st, true
}

// Clone returns a copy that does not share MaxBudgetS.
func (t ThermalState) Clone() ThermalState {
	if t.MaxBudgetS != nil {
		n := *t.MaxBudgetS
		t.MaxBudgetS = &n
	}
	return t
}

// Text renders the state for a status bar, e.g. "thermal limiting=ON (max=90s)".
// Unknown state renders as "".
func (t ThermalState) Text() string {
	if !t.Known {
		return ""
	}
	prefix := "thermal limiting=OFF"
	if t.Enabled {
		prefix = "thermal limiting=ON"
	}
	if t.MaxBudgetS != nil {
		return prefix + " (max=" + strconv.Itoa(*t.MaxBudgetS) + "s)"
	}
	return prefix
}
