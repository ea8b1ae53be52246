package serial

import (
	"strconv"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/telemetry"
)

// motionWatch completes an acknowledged MOVE or HOME from status polls when
// its CTRL:DONE line never arrives. baseline holds each targeted motor's
// started_ms as seen before the command ran, so rows left over from the
// previous operation are not mistaken for completion.
type motionWatch struct {
	action   command.Action
	cmdID    string
	target   command.Target
	baseline map[string]string
}

func newMotionWatch(req command.Request, cmdID string, rows []telemetry.StatusRow) *motionWatch {
	target, _ := req.Params.Target()
	w := &motionWatch{
		action:   req.Action,
		cmdID:    cmdID,
		target:   target,
		baseline: make(map[string]string),
	}
	for _, r := range w.targeted(rows) {
		w.baseline[r.ID] = r.StartedMS
	}
	return w
}

func (w *motionWatch) targeted(rows []telemetry.StatusRow) []telemetry.StatusRow {
	if w.target.All {
		return rows
	}
	id := strconv.Itoa(w.target.ID)
	for _, r := range rows {
		if r.ID == id {
			return []telemetry.StatusRow{r}
		}
	}
	return nil
}

// settled returns a synthetic DONE once every targeted motor has stopped
// after starting a new operation.
func (w *motionWatch) settled(rows []telemetry.StatusRow) (response.Event, bool) {
	targeted := w.targeted(rows)
	if len(targeted) == 0 {
		return response.Event{}, false
	}

	actual, est := -1, -1
	for _, r := range targeted {
		if r.IsMoving() || r.ActualMS == "" || r.StartedMS == w.baseline[r.ID] {
			return response.Event{}, false
		}
		if n, err := strconv.Atoi(r.ActualMS); err == nil && n > actual {
			actual = n
		}
		if n, err := strconv.Atoi(r.EstMS); err == nil && n > est {
			est = n
		}
	}

	attrs := map[string]string{"source": "status"}
	if actual >= 0 {
		attrs["actual_ms"] = strconv.Itoa(actual)
	}
	if est >= 0 {
		attrs["est_ms"] = strconv.Itoa(est)
	}
	return response.Event{
		Source:     response.SourceSerial,
		Type:       response.TypeDone,
		Action:     w.action.String(),
		CmdID:      w.cmdID,
		Attributes: attrs,
	}, true
}
