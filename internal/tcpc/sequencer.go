// Package tcpc sequences power and reset of Type-C port controllers and
// decodes their alert lines.
package tcpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ecpower-go/bus"
	tcdrv "ecpower-go/drivers/tcpc"
	"ecpower-go/internal/halcore"
	"ecpower-go/internal/logger"
	"ecpower-go/internal/pdtask"
	"ecpower-go/x/timex"
)

// Port wires one controller. Rail names the power rail; ports with the same
// Rail share it and are always sequenced together.
type Port struct {
	ID       int
	Reset    halcore.Line // reset_l, active low
	Alert    halcore.Line // alert_l, active low
	CableDet halcore.Line // optional, active high
	Power    halcore.Line // rail enable, active high
	Rail     int
	Driver   tcdrv.Driver // optional
}

// Timing holds the minimum delay after each step of the reset sequence.
// Park is the hold between asserting reset and dropping the rail when a
// controller is parked for low power.
type Timing struct {
	ResetSettle time.Duration
	PowerOff    time.Duration
	PowerOn     time.Duration
	Park        time.Duration
}

// Poster hands events to a port's control task.
type Poster interface {
	Post(port int, ev pdtask.Event)
}

type port struct {
	Port
	state     State
	lastAlert bool
}

type Sequencer struct {
	ports  []*port
	groups map[int]*sync.Mutex
	timing Timing
	poster Poster
	conn   *bus.Connection

	// sleep waits out a settle delay. It is never cut short.
	sleep func(time.Duration)

	mu        sync.Mutex
	observers []func(port int, s State)
}

type Option func(*Sequencer)

// WithBus publishes every transition as a retained tcpc/<port>/state message.
func WithBus(conn *bus.Connection) Option { return func(s *Sequencer) { s.conn = conn } }

// WithPoster routes cable-detect wake requests to the port control tasks.
func WithPoster(p Poster) Option { return func(s *Sequencer) { s.poster = p } }

// WithSleep replaces time.Sleep for settle delays.
func WithSleep(fn func(time.Duration)) Option { return func(s *Sequencer) { s.sleep = fn } }

// New builds a sequencer. Ports must be ordered by ID from 0. All ports
// start PoweredOff.
func New(ports []Port, timing Timing, opts ...Option) *Sequencer {
	s := &Sequencer{
		groups: map[int]*sync.Mutex{},
		timing: timing,
		sleep:  time.Sleep,
	}
	for i, p := range ports {
		if p.ID != i {
			panic(fmt.Sprintf("tcpc: port %d at index %d", p.ID, i))
		}
		s.ports = append(s.ports, &port{Port: p, state: PoweredOff})
		if _, ok := s.groups[p.Rail]; !ok {
			s.groups[p.Rail] = &sync.Mutex{}
		}
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sequencer) Ports() int { return len(s.ports) }

// OnTransition registers fn to observe every state change. fn runs on the
// goroutine performing the sequence and must not call Reset.
func (s *Sequencer) OnTransition(fn func(port int, st State)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Sequencer) State(p int) State {
	pt := s.port(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	return pt.state
}

func (s *Sequencer) Status() []PortStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PortStatus, len(s.ports))
	for i, p := range s.ports {
		out[i] = PortStatus{ID: p.ID, State: p.state, LastAlert: p.lastAlert, Rail: p.Rail}
	}
	return out
}

// Reset power-cycles the controller on port p and every port sharing its
// rail: assert reset, rail off, rail on, release reset, each step followed
// by its settle delay. The sequence runs end to end whatever the current
// state; ctx only stops a reset that has not started yet.
func (s *Sequencer) Reset(ctx context.Context, p int) error {
	target := s.port(p)
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := s.groups[target.Rail]
	mu.Lock()
	defer mu.Unlock()

	ctx = logger.WithName(ctx, "tcpc")
	group := s.group(target.Rail)
	logger.InfoKV(ctx, "reset sequence start", "port", p, "rail", target.Rail, "ports", len(group))

	for _, g := range group {
		g.Reset.Assert(true)
		s.transition(ctx, g, ResetAsserted)
	}
	s.sleep(s.timing.ResetSettle)

	target.Power.Assert(false)
	for _, g := range group {
		s.transition(ctx, g, PoweredOff)
	}
	s.sleep(s.timing.PowerOff)

	target.Power.Assert(true)
	for _, g := range group {
		s.transition(ctx, g, Powering)
	}
	s.sleep(s.timing.PowerOn)

	for _, g := range group {
		g.Reset.Assert(false)
		s.transition(ctx, g, Active)
	}
	s.initDrivers(ctx, group)
	return nil
}

// SetPowerMode parks (on false) or unparks the controller on port p and every
// port sharing its rail. Parking asserts reset, holds it for Park and drops
// the rail. Unparking raises the rail, waits PowerOn and releases reset.
func (s *Sequencer) SetPowerMode(ctx context.Context, p int, on bool) error {
	target := s.port(p)
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := s.groups[target.Rail]
	mu.Lock()
	defer mu.Unlock()

	ctx = logger.WithName(ctx, "tcpc")
	group := s.group(target.Rail)
	logger.InfoKV(ctx, "power mode", "port", p, "on", on, "ports", len(group))

	if on {
		target.Power.Assert(true)
		for _, g := range group {
			s.transition(ctx, g, Powering)
		}
		s.sleep(s.timing.PowerOn)
		for _, g := range group {
			g.Reset.Assert(false)
			s.transition(ctx, g, Active)
		}
		s.initDrivers(ctx, group)
		return nil
	}

	for _, g := range group {
		g.Reset.Assert(true)
		s.transition(ctx, g, ResetAsserted)
	}
	s.sleep(s.timing.Park)
	target.Power.Assert(false)
	for _, g := range group {
		s.transition(ctx, g, PoweredOff)
	}
	return nil
}

func (s *Sequencer) initDrivers(ctx context.Context, group []*port) {
	for _, g := range group {
		if g.Driver == nil {
			continue
		}
		if err := g.Driver.Init(); err != nil {
			logger.WarnKV(ctx, "controller init failed", "port", g.ID, "driver", g.Driver.Kind(), "err", err)
		}
	}
}

// InitAll configures every port's lines. A cold boot resets each rail group
// once; a warm restart trusts the controllers and marks them Active.
func (s *Sequencer) InitAll(ctx context.Context, warm bool) error {
	for _, p := range s.ports {
		if p.Alert.Valid() {
			_ = p.Alert.Pin.ConfigureInput(halcore.PullNone)
		}
		if p.CableDet.Valid() {
			_ = p.CableDet.Pin.ConfigureInput(halcore.PullNone)
		}
		// Outputs come up in their current logical state for warm restart,
		// and held in reset for cold boot.
		if p.Reset.Valid() {
			_ = p.Reset.Pin.ConfigureOutput(!warm != p.Reset.ActiveLow)
		}
		if p.Power.Valid() {
			_ = p.Power.Pin.ConfigureOutput(warm != p.Power.ActiveLow)
		}
	}

	if warm {
		ctx = logger.WithName(ctx, "tcpc")
		for _, p := range s.ports {
			s.transition(ctx, p, Active)
		}
		return nil
	}

	done := map[int]bool{}
	for _, p := range s.ports {
		if done[p.Rail] {
			continue
		}
		done[p.Rail] = true
		if err := s.Reset(ctx, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// AlertStatus returns a bitmask with bit p set when port p's alert line is
// asserted and its controller is out of reset.
func (s *Sequencer) AlertStatus() uint16 {
	var mask uint16
	for i := range s.ports {
		if s.PortAlert(i) {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// PortAlert is the single-port form of AlertStatus.
func (s *Sequencer) PortAlert(p int) bool {
	pt := s.port(p)
	on := pt.Alert.Asserted() && !pt.Reset.Asserted()
	s.mu.Lock()
	pt.lastAlert = on
	s.mu.Unlock()
	return on
}

// ServiceAlert reads and acknowledges the controller's ALERT register when
// the port reports an alert. It returns the bits it cleared.
func (s *Sequencer) ServiceAlert(ctx context.Context, p int) (uint16, error) {
	pt := s.port(p)
	if !s.PortAlert(p) || pt.Driver == nil {
		return 0, nil
	}
	bits, err := pt.Driver.Alert()
	if err != nil {
		return 0, err
	}
	logger.DebugKV(ctx, "tcpc alert", "port", p, "bits", fmt.Sprintf("%#04x", bits))
	return bits, pt.Driver.ClearAlert(bits)
}

// HandleCableDetect is the low-power wake path for a confirmed cable-detect
// rising edge. A cable present while the controller is held in reset posts
// a reset request to the port's task; anything else is handled in band.
func (s *Sequencer) HandleCableDetect(ctx context.Context, p int) bool {
	pt := s.port(p)
	if !pt.CableDet.Valid() {
		return false
	}
	if !pt.CableDet.Asserted() || !pt.Reset.Asserted() {
		return false
	}
	logger.InfoKV(ctx, "cable present while in reset; requesting reset", "port", p)
	if s.poster != nil {
		s.poster.Post(p, pdtask.EventResetRequest)
	}
	return true
}

// EnterLowPower idles every active controller. Rail groups whose controllers
// all wake on cable detect are then powered down, held in reset until
// HandleCableDetect sees an attach.
func (s *Sequencer) EnterLowPower(ctx context.Context) {
	ctx = logger.WithName(ctx, "tcpc")
	for _, p := range s.ports {
		if p.Driver == nil || s.State(p.ID) != Active {
			continue
		}
		if err := p.Driver.EnterLowPower(); err != nil {
			logger.WarnKV(ctx, "controller low power failed", "port", p.ID, "err", err)
		}
	}

	parked := map[int]bool{}
	for _, p := range s.ports {
		if parked[p.Rail] || !s.canPark(p.Rail) {
			continue
		}
		parked[p.Rail] = true
		if err := s.SetPowerMode(ctx, p.ID, false); err != nil {
			logger.WarnKV(ctx, "park failed", "port", p.ID, "err", err)
		}
	}
}

// canPark reports whether every port on rail is active and can be woken by
// its cable-detect line.
func (s *Sequencer) canPark(rail int) bool {
	for _, g := range s.group(rail) {
		if s.State(g.ID) != Active || !g.CableDet.Valid() {
			return false
		}
		w, ok := g.Driver.(tcdrv.CableWaker)
		if !ok || !w.WakesOnCable() {
			return false
		}
	}
	return true
}

func (s *Sequencer) transition(ctx context.Context, p *port, st State) {
	s.mu.Lock()
	p.state = st
	obs := append([]func(int, State){}, s.observers...)
	s.mu.Unlock()

	logger.DebugKV(ctx, "tcpc state", "port", p.ID, "state", st)
	for _, fn := range obs {
		fn(p.ID, st)
	}
	if s.conn != nil {
		s.conn.Publish(s.conn.NewMessage(
			bus.T("tcpc", p.ID, "state"),
			StateEvent{Port: p.ID, State: st.String(), TS: timex.NowMs()},
			true,
		))
	}
}

// group returns the ports on rail, in ID order.
func (s *Sequencer) group(rail int) []*port {
	var out []*port
	for _, p := range s.ports {
		if p.Rail == rail {
			out = append(out, p)
		}
	}
	return out
}

func (s *Sequencer) port(p int) *port {
	if p < 0 || p >= len(s.ports) {
		panic(fmt.Sprintf("tcpc: invalid port %d", p))
	}
	return s.ports[p]
}
