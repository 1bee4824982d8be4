// Package charge decides which Type-C port, if any, feeds the charger and
// shapes the input current limit for it.
package charge

import (
	"context"
	"fmt"
	"sync"

	"ecpower-go/bus"
	"ecpower-go/errcode"
	"ecpower-go/internal/logger"
	"ecpower-go/x/mathx"
	"ecpower-go/x/timex"
)

// PortNone requests that no port feeds the charger.
const PortNone = -1

// Battery reports state of charge in percent, 0..100.
type Battery interface {
	Percent() int
}

// SourceQuery reports whether a port is currently sourcing VBUS.
type SourceQuery interface {
	IsSourcing(port int) bool
}

// InputMux switches the exclusive charger input. PortNone disables every input.
// SelectAll enables every input at once and is only used before hibernate,
// where the charger picks its input by itself.
type InputMux interface {
	SelectInput(port int) error
	SelectAll() error
}

// Charger is the input side of the battery charger.
type Charger interface {
	SetInputLimit(mA, mV int) error
	SetDischargeOnAC(on bool) error
	BusVoltage(port int) (mV int, err error)
	// EnableBC12 lets BC1.2 detection on port start charging.
	EnableBC12(port int, on bool) error
	SetPowerSave(on bool) error
}

// VbusSense reports whether a port sees VBUS from a partner.
type VbusSense interface {
	VbusPresent(port int) bool
}

// Lock reports whether the running firmware image is read-only.
type Lock interface {
	Locked() bool
}

// Config holds arbitration policy thresholds.
type Config struct {
	Ports             int
	MinInputCurrentMA int
	DeratePercent     int
	CriticalPercent   int
	FullPercent       int
	VbusMinMV         int
}

// Deps are the arbiter's collaborators. Lock may be nil (unlocked). Vbus may
// be nil, in which case only the active port's bus voltage is known.
type Deps struct {
	Battery Battery
	Sources SourceQuery
	Mux     InputMux
	Charger Charger
	Lock    Lock
	Vbus    VbusSense
}

// State is a snapshot of the arbitration state.
type State struct {
	ActivePort    int
	Initialized   bool
	DischargeOnAC bool
	AllInputs     bool // hibernate: every input enabled
	PowerSave     bool
	Limit         Limit
}

// Limit is the last input limit applied through SetChargeLimit.
type Limit struct {
	Port      int
	Supplier  Supplier
	RequestMA int
	MaxMA     int
	AppliedMA int
	MV        int
}

// ActivePortEvent is the retained payload on charge/active_port.
type ActivePortEvent struct {
	Port        int   `json:"port"`
	Initialized bool  `json:"initialized"`
	TS          int64 `json:"ts_ms"`
}

type Arbiter struct {
	cfg  Config
	deps Deps
	conn *bus.Connection

	mu    sync.Mutex
	state State
}

// New returns an arbiter in its power-on state: no port selected, not
// initialized.
func New(cfg Config, deps Deps, conn *bus.Connection) *Arbiter {
	return &Arbiter{
		cfg:   cfg,
		deps:  deps,
		conn:  conn,
		state: State{ActivePort: PortNone, Limit: Limit{Port: PortNone}},
	}
}

// Select makes port the only charger input, or deselects all inputs for
// PortNone. Policy rejections return errcode.SourceConflict or
// errcode.BatteryCritical and leave the state untouched. A port outside
// 0..Ports-1 that is not PortNone is a caller bug and panics.
func (a *Arbiter) Select(ctx context.Context, port int) error {
	if port < PortNone || port >= a.cfg.Ports {
		panic(fmt.Sprintf("charge: invalid port %d", port))
	}
	ctx = logger.WithName(ctx, "charge")

	a.mu.Lock()
	defer a.mu.Unlock()

	if port == PortNone {
		return a.deselect(ctx)
	}

	if a.deps.Sources.IsSourcing(port) {
		logger.InfoKV(ctx, "skip sourcing port", "port", port)
		return &errcode.E{C: errcode.SourceConflict, Op: "charge.select", Msg: fmt.Sprintf("port %d is sourcing", port)}
	}

	logger.InfoKV(ctx, "new charge port", "port", port, "previous", a.state.ActivePort)
	if err := a.deps.Mux.SelectInput(port); err != nil {
		return errcode.Wrap(errcode.BusError, "charge.select", err)
	}
	a.state.ActivePort = port
	a.state.Initialized = true
	a.state.AllInputs = false
	if a.state.PowerSave {
		if err := a.deps.Charger.SetPowerSave(false); err != nil {
			logger.WarnKV(ctx, "leave power save failed", "err", err)
		} else {
			a.state.PowerSave = false
		}
	}
	if a.state.DischargeOnAC {
		if err := a.deps.Charger.SetDischargeOnAC(false); err != nil {
			logger.WarnKV(ctx, "clear discharge on ac failed", "err", err)
		} else {
			a.state.DischargeOnAC = false
		}
	}
	a.publish()
	return nil
}

// deselect runs with mu held.
func (a *Arbiter) deselect(ctx context.Context) error {
	batt := a.deps.Battery.Percent()
	if !a.state.Initialized && batt < a.cfg.CriticalPercent {
		logger.WarnKV(ctx, "refusing to deselect with critical battery", "battery", batt)
		return &errcode.E{C: errcode.BatteryCritical, Op: "charge.select", Msg: fmt.Sprintf("battery %d%%", batt)}
	}

	if err := a.deps.Mux.SelectInput(PortNone); err != nil {
		return errcode.Wrap(errcode.BusError, "charge.select", err)
	}
	logger.InfoKV(ctx, "charge port deselected", "previous", a.state.ActivePort, "battery", batt)
	a.state.ActivePort = PortNone
	a.state.Initialized = true
	a.state.AllInputs = false

	// Discharging on AC limits inrush while the source is about to change.
	if batt > a.cfg.CriticalPercent {
		if err := a.deps.Charger.SetDischargeOnAC(true); err != nil {
			logger.WarnKV(ctx, "discharge on ac failed", "err", err)
		} else {
			a.state.DischargeOnAC = true
		}
	}
	a.publish()
	return nil
}

// SetChargeLimit applies a derated input current limit for port, never
// below the configured minimum. maxMA is recorded for the ramp controller.
// BC1.2 charging on port follows the supplier class first; if that fails the
// limit is left as it was.
func (a *Arbiter) SetChargeLimit(ctx context.Context, port int, supplier Supplier, mA, maxMA, mV int) error {
	derated := mA * (100 - a.cfg.DeratePercent) / 100
	applied := mathx.Max(derated, a.cfg.MinInputCurrentMA)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.deps.Charger.EnableBC12(port, supplier.bc12()); err != nil {
		return errcode.Wrap(errcode.BusError, "charge.bc12", err)
	}
	if err := a.deps.Charger.SetInputLimit(applied, mV); err != nil {
		return errcode.Wrap(errcode.BusError, "charge.limit", err)
	}
	logger.DebugKV(logger.WithName(ctx, "charge"), "input limit", "port", port, "supplier", supplier, "request_ma", mA, "applied_ma", applied, "mv", mV)
	a.state.Limit = Limit{Port: port, Supplier: supplier, RequestMA: mA, MaxMA: maxMA, AppliedMA: applied, MV: mV}
	return nil
}

// RampAllowed reports whether input current may be ramped for supplier.
// A locked firmware image never ramps.
func (a *Arbiter) RampAllowed(supplier Supplier) bool {
	if a.deps.Lock != nil && a.deps.Lock.Locked() {
		return false
	}
	return supplier.bc12()
}

// Hibernate hands input selection to the charger: every input is enabled
// and the charger enters power save. The next Select restores exclusive
// selection.
func (a *Arbiter) Hibernate(ctx context.Context) error {
	ctx = logger.WithName(ctx, "charge")
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.deps.Mux.SelectAll(); err != nil {
		return errcode.Wrap(errcode.BusError, "charge.hibernate", err)
	}
	a.state.ActivePort = PortNone
	a.state.AllInputs = true
	if err := a.deps.Charger.SetPowerSave(true); err != nil {
		logger.WarnKV(ctx, "power save failed", "err", err)
	} else {
		a.state.PowerSave = true
	}
	logger.InfoKV(ctx, "all charge inputs enabled for hibernate", "power_save", a.state.PowerSave)
	a.publish()
	return nil
}

// VbusProvided reports whether a partner supplies VBUS on port. Without a
// VBUS sense collaborator only the active port can be measured. port must
// be a real port; anything else panics.
func (a *Arbiter) VbusProvided(port int) bool {
	if port < 0 || port >= a.cfg.Ports {
		panic(fmt.Sprintf("charge: invalid port %d", port))
	}
	if a.deps.Vbus != nil {
		return a.deps.Vbus.VbusPresent(port)
	}
	if a.State().ActivePort != port {
		return false
	}
	mv, err := a.deps.Charger.BusVoltage(port)
	return err == nil && mv >= a.cfg.VbusMinMV
}

// ConsumingFullInputCurrent reports whether the battery is in the band
// where the charger draws everything the input offers.
func (a *Arbiter) ConsumingFullInputCurrent() bool {
	batt := a.deps.Battery.Percent()
	return batt > a.cfg.CriticalPercent && batt < a.cfg.FullPercent
}

// VbusTooLow reports whether the bus voltage on port has sagged below the
// ramp threshold. A failed measurement reads as 0 mV.
func (a *Arbiter) VbusTooLow(port int) bool {
	mv, err := a.deps.Charger.BusVoltage(port)
	if err != nil {
		mv = 0
	}
	return mv < a.cfg.VbusMinMV
}

func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Arbiter) Ports() int { return a.cfg.Ports }

// publish runs with mu held.
func (a *Arbiter) publish() {
	if a.conn == nil {
		return
	}
	a.conn.Publish(a.conn.NewMessage(
		bus.T("charge", "active_port"),
		ActivePortEvent{Port: a.state.ActivePort, Initialized: a.state.Initialized, TS: timex.NowMs()},
		true,
	))
}
