package board

import (
	"sync/atomic"

	"ecpower-go/drivers/ltc4015"
	"ecpower-go/errcode"
	"ecpower-go/internal/charge"
	"ecpower-go/internal/halcore"
	"ecpower-go/x/mathx"
)

// vbusSources answers charge.SourceQuery from the per-port vbus_src_en pins.
type vbusSources struct {
	en []halcore.Line
}

func (v vbusSources) IsSourcing(port int) bool {
	if port < 0 || port >= len(v.en) {
		return false
	}
	return v.en[port].Asserted()
}

// chargeMux drives the active-low charge_en_l pins. Every input is disabled
// before the new one is enabled, so two inputs are never on together.
type chargeMux struct {
	en []halcore.Line
}

func (m chargeMux) SelectInput(port int) error {
	if port != charge.PortNone && (port < 0 || port >= len(m.en) || !m.en[port].Valid()) {
		return &errcode.E{C: errcode.UnknownPin, Op: "board.mux", Msg: "no charge_en_l for port"}
	}
	for _, l := range m.en {
		l.Assert(false)
	}
	if port != charge.PortNone {
		m.en[port].Assert(true)
	}
	return nil
}

func (m chargeMux) SelectAll() error {
	for _, l := range m.en {
		l.Assert(true)
	}
	return nil
}

// vbusDetect answers charge.VbusSense from the per-port vbus_det pins.
type vbusDetect struct {
	det []halcore.Line
}

func (v vbusDetect) VbusPresent(port int) bool {
	return port >= 0 && port < len(v.det) && v.det[port].Asserted()
}

// bc12Gate drives the per-port BC1.2 charge enable pins. A port without a
// detector has nothing to enable.
type bc12Gate []halcore.Line

func (g bc12Gate) enable(port int, on bool) error {
	if port < 0 || port >= len(g) {
		return &errcode.E{C: errcode.InvalidPort, Op: "board.bc12", Msg: "no such port"}
	}
	g[port].Assert(on)
	return nil
}

// Gauge is the host battery gauge: a settable state of charge.
type Gauge struct {
	pct atomic.Int32
}

func NewGauge(pct int) *Gauge {
	g := &Gauge{}
	g.Set(pct)
	return g
}

func (g *Gauge) Percent() int { return int(g.pct.Load()) }

// Set clamps pct to 0..100.
func (g *Gauge) Set(pct int) { g.pct.Store(int32(mathx.Clamp(pct, 0, 100))) }

// ltcCharger adapts the LTC4015 to charge.Charger. The charger only sees
// the selected input, so VIN is the bus voltage of whichever port is active.
type ltcCharger struct {
	dev  *ltc4015.Device
	bc12 bc12Gate
}

func (c ltcCharger) SetInputLimit(mA, _ int) error { return c.dev.SetIinLimit_mA(int32(mA)) }

func (c ltcCharger) SetDischargeOnAC(on bool) error { return c.dev.SetSuspend(on) }

func (c ltcCharger) BusVoltage(int) (int, error) {
	mv, err := c.dev.VinMilliV()
	return int(mv), err
}

func (c ltcCharger) EnableBC12(port int, on bool) error { return c.bc12.enable(port, on) }

// SetPowerSave stops the measurement system from running on battery alone.
func (c ltcCharger) SetPowerSave(on bool) error { return c.dev.SetForceMeasSys(!on) }

// StaticLock is a fixed firmware lock state.
type StaticLock bool

func (l StaticLock) Locked() bool { return bool(l) }
