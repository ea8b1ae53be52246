package serial

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var errUnplugged = errors.New("device unplugged")

// fakePort is an in-memory link driven by a scripted firmware.
type fakePort struct {
	mu      sync.Mutex
	rx      []byte
	writes  []string
	closed  bool
	readErr error
	reply   func(line string) []string
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if len(p.rx) == 0 {
		p.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	n := copy(b, p.rx)
	p.rx = p.rx[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		p.writes = append(p.writes, line)
		if p.reply != nil {
			for _, r := range p.reply(line) {
				p.rx = append(p.rx, r+"\n"...)
			}
		}
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// push injects unsolicited lines.
func (p *fakePort) push(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		p.rx = append(p.rx, l+"\n"...)
	}
}

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

// firmware answers like the controller: polls, WAKE/SLEEP, MOVE with a
// delayed DONE, HOME without DONE, HELP text and BAD_ID errors. SLEEP:1
// is never answered.
type firmware struct {
	mu       sync.Mutex
	port     *fakePort
	cid      int
	started  string
	actual   string
	moving   string
	doneWait time.Duration
}

func newFirmware() *firmware {
	f := &firmware{started: "0", moving: "0", doneWait: 150 * time.Millisecond}
	f.port = &fakePort{reply: f.reply}
	return f
}

func (f *firmware) reply(line string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cid++
	cid := f.cid
	ack := fmt.Sprintf("CTRL:ACK CID=%d", cid)

	switch {
	case line == "STATUS":
		row := fmt.Sprintf("id=0 pos=0 moving=%s awake=1 homed=1 steps_since_home=0 budget_s=90.0 ttfc_s=0.0 speed=4000 accel=16000 est_ms=40 started_ms=%s", f.moving, f.started)
		if f.actual != "" {
			row += " actual_ms=" + f.actual
		}
		return []string{line, ack, row}
	case line == "GET THERMAL_LIMITING":
		return []string{ack + " THERMAL_LIMITING=ON max_budget_s=90"}
	case line == "NET:STATUS":
		return []string{ack + ` state=CONNECTED rssi=-60 ip=10.0.0.7 ssid="lab net" pass="********"`}
	case line == "HELP":
		return []string{"HELP", "MOVE:<id|ALL>,<abs_steps>", "HOME:<id|ALL>"}
	case line == "WAKE:9":
		return []string{fmt.Sprintf("CTRL:ERR CID=%d E02 BAD_ID", cid)}
	case line == "SLEEP:1":
		return nil
	case strings.HasPrefix(line, "MOVE:"):
		wait := f.doneWait
		time.AfterFunc(wait, func() {
			f.port.push(fmt.Sprintf("CTRL:DONE CID=%d action=MOVE status=done actual_ms=48", cid))
		})
		return []string{ack + " est_ms=40"}
	case strings.HasPrefix(line, "HOME:"):
		// The motor runs and stops without a DONE line.
		f.started, f.moving, f.actual = "500", "0", "42"
		return []string{ack + " est_ms=40"}
	}
	return []string{ack}
}

// opener hands out the given ports in order, then fails.
func opener(ports ...*fakePort) Opener {
	var mu sync.Mutex
	return func(string, int) (Port, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(ports) == 0 {
			return nil, errors.New("no such device")
		}
		p := ports[0]
		ports = ports[1:]
		if p == nil {
			return nil, errors.New("no such device")
		}
		return p, nil
	}
}
