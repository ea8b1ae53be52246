package telemetry

import (
	"sort"
	"strconv"
	"strings"
)

// StatusRow is one motor's status in display form: booleans are "1"/"0",
// budget and cool-down seconds carry one decimal, absent optionals are "".
// Device, NodeState, IP and AgeS are only set for rows built from MQTT
// snapshots.
type StatusRow struct {
	Device    string
	NodeState string
	IP        string
	AgeS      string

	ID             string
	Pos            string
	Moving         string
	Awake          string
	Homed          string
	StepsSinceHome string
	BudgetS        string
	TtfcS          string
	Speed          string
	Accel          string
	EstMS          string
	StartedMS      string
	ActualMS       string
}

// Field is an ordered key/value pair for rendering.
type Field struct {
	Key   string
	Value string
}

// Fields returns the row in column order. Device columns are included only
// when the row came from a device snapshot.
func (r StatusRow) Fields() []Field {
	var out []Field
	if r.Device != "" {
		out = append(out,
			Field{"device", r.Device},
			Field{"node_state", r.NodeState},
			Field{"ip", r.IP},
			Field{"age_s", r.AgeS},
		)
	}
	return append(out,
		Field{"id", r.ID},
		Field{"pos", r.Pos},
		Field{"moving", r.Moving},
		Field{"awake", r.Awake},
		Field{"homed", r.Homed},
		Field{"steps_since_home", r.StepsSinceHome},
		Field{"budget_s", r.BudgetS},
		Field{"ttfc_s", r.TtfcS},
		Field{"speed", r.Speed},
		Field{"accel", r.Accel},
		Field{"est_ms", r.EstMS},
		Field{"started_ms", r.StartedMS},
		Field{"actual_ms", r.ActualMS},
	)
}

// String renders the row as space separated key=value pairs.
func (r StatusRow) String() string {
	fields := r.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Key + "=" + f.Value
	}
	return strings.Join(parts, " ")
}

// IsMoving reports whether the motor is in motion.
func (r StatusRow) IsMoving() bool {
	return r.Moving == "1"
}

// set stores one raw value under its canonical column, normalizing it.
// Unknown keys are ignored.
func (r *StatusRow) set(key, value string) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "id":
		r.ID = canonicalID(value)
	case "pos", "position":
		r.Pos = value
	case "moving":
		r.Moving = normalizeBool(value)
	case "awake":
		r.Awake = normalizeBool(value)
	case "homed":
		r.Homed = normalizeBool(value)
	case "steps_since_home":
		r.StepsSinceHome = value
	case "budget_s":
		r.BudgetS = oneDecimal(value)
	case "ttfc_s":
		r.TtfcS = oneDecimal(value)
	case "speed":
		r.Speed = value
	case "accel":
		r.Accel = value
	case "est_ms":
		r.EstMS = value
	case "started_ms":
		r.StartedMS = value
	case "actual_ms":
		r.ActualMS = value
	}
}

// ParseStatusText parses the body of a serial STATUS reply. Two layouts
// are accepted: one "key=value ..." line per motor, or a CSV table whose
// first line is a header. CTRL: lines are skipped. Rows are returned sorted
// by numeric motor id.
func ParseStatusText(text string) []StatusRow {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(strings.ToUpper(ln), "CTRL:") {
			continue
		}
		lines = append(lines, ln)
	}
	if len(lines) == 0 {
		return nil
	}

	var rows []StatusRow
	if strings.Contains(lines[0], ",") && !strings.Contains(lines[0], "=") {
		headers := strings.Split(lines[0], ",")
		for _, ln := range lines[1:] {
			parts := strings.Split(ln, ",")
			var row StatusRow
			for i, h := range headers {
				if i < len(parts) {
					row.set(h, parts[i])
				}
			}
			rows = append(rows, row)
		}
	} else {
		for _, ln := range lines {
			var row StatusRow
			seen := false
			for _, tok := range strings.Fields(ln) {
				k, v, ok := strings.Cut(tok, "=")
				if !ok {
					continue
				}
				row.set(k, v)
				seen = true
			}
			if seen {
				rows = append(rows, row)
			}
		}
	}

	SortRows(rows)
	return rows
}

// SortRows orders rows by device, then by numeric motor id. Non-numeric ids
// sort after numeric ones, lexically.
func SortRows(rows []StatusRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Device != rows[j].Device {
			return rows[i].Device < rows[j].Device
		}
		return lessID(rows[i].ID, rows[j].ID)
	})
}

func lessID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}

// canonicalID strips leading zeros and signs so "01" and "1" key the same
// motor. Non-numeric ids pass through.
func canonicalID(s string) string {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strconv.Itoa(n)
}

func normalizeBool(s string) string {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return "1"
	case "0", "false", "no", "off":
		return "0"
	}
	return s
}

func oneDecimal(s string) string {
	if s == "" {
		return ""
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
