package mqtt

import (
	"hash/fnv"
	"time"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/command"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/response"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

// refreshKind names a cached resource the worker queries in the
// background.
type refreshKind uint8

const (
	refreshThermal refreshKind = iota
	refreshNet
)

var refreshRequests = [...]command.Request{
	refreshThermal: {
		Action: command.ActionGet,
		Params: command.Params{command.ParamResource: "THERMAL_LIMITING"},
		Raw:    "GET THERMAL_LIMITING",
	},
	refreshNet: {Action: command.ActionNetStatus, Raw: "NET:STATUS"},
}

type refreshKey struct {
	kind   refreshKind
	device string
}

// refreshQuery is one published background query. It never enters the
// registry, so its replies stay out of the log.
type refreshQuery struct {
	refreshKey
	request command.Request
	sentAt  time.Time
}

// refresher tracks wanted and outstanding background queries. At most one
// query per device and resource is outstanding. Owned by the worker
// goroutine.
type refresher struct {
	timeout     time.Duration
	wanted      map[refreshKey]bool
	outstanding map[string]refreshQuery
	inflight    map[refreshKey]string
}

func newRefresher(timeout time.Duration) *refresher {
	return &refresher{
		timeout:     timeout,
		wanted:      make(map[refreshKey]bool),
		outstanding: make(map[string]refreshQuery),
		inflight:    make(map[refreshKey]string),
	}
}

func (r *refresher) request(kind refreshKind, device string) {
	r.wanted[refreshKey{kind, device}] = true
}

// due returns the queries to publish now and expires unanswered ones.
func (r *refresher) due(now time.Time) []refreshQuery {
	for id, q := range r.outstanding {
		if now.Sub(q.sentAt) > r.timeout {
			delete(r.outstanding, id)
			delete(r.inflight, q.refreshKey)
		}
	}

	var out []refreshQuery
	for key := range r.wanted {
		if _, busy := r.inflight[key]; busy {
			continue
		}
		id := transport.NewCmdID()
		q := refreshQuery{
			refreshKey: key,
			request:    refreshRequests[key.kind].WithCmdID(id),
			sentAt:     now,
		}
		delete(r.wanted, key)
		r.outstanding[id] = q
		r.inflight[key] = id
		out = append(out, q)
	}
	return out
}

// answer claims a reply to an outstanding query. Nodes acknowledge every
// command before completing it, so the query is retired by DONE or ERROR.
func (r *refresher) answer(ev response.Event) (refreshKind, bool) {
	id := ev.CorrelationID()
	if id == "" {
		return 0, false
	}
	q, ok := r.outstanding[id]
	if !ok {
		return 0, false
	}
	if ev.Type.Terminal() {
		delete(r.outstanding, id)
		delete(r.inflight, q.refreshKey)
	}
	return q.kind, true
}

// abandon forgets a query that could not be published and asks for it
// again.
func (r *refresher) abandon(q refreshQuery) {
	delete(r.outstanding, q.request.CmdID)
	delete(r.inflight, q.refreshKey)
	r.wanted[q.refreshKey] = true
}

// reset drops outstanding queries after a disconnect and re-requests them.
func (r *refresher) reset() {
	for id, q := range r.outstanding {
		r.wanted[q.refreshKey] = true
		delete(r.outstanding, id)
	}
	clear(r.inflight)
}

// invalidates reports which cached resource a successful command changes.
func invalidates(req command.Request) (refreshKind, bool) {
	switch req.Action {
	case command.ActionSet:
		if _, ok := req.Params[command.ParamThermal]; ok {
			return refreshThermal, true
		}
	case command.ActionNetSet, command.ActionNetReset:
		return refreshNet, true
	}
	return 0, false
}

// digest identifies a response payload for redelivery filtering.
func digest(payload []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return h.Sum64()
}
