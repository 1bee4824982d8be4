package charge

import (
	"context"
	"errors"
	"testing"
	"time"

	"ecpower-go/bus"
	"ecpower-go/errcode"

	"github.com/stretchr/testify/require"
)

type fakeBattery struct{ pct int }

func (b *fakeBattery) Percent() int { return b.pct }

type fakeSources map[int]bool

func (s fakeSources) IsSourcing(port int) bool { return s[port] }

type fakeMux struct {
	calls []int
	all   int
	err   error
}

func (m *fakeMux) SelectAll() error {
	if m.err != nil {
		return m.err
	}
	m.all++
	return nil
}

func (m *fakeMux) SelectInput(port int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, port)
	return nil
}

type fakeCharger struct {
	limitMA, limitMV int
	discharge        []bool
	vbus             map[int]int
	vbusErr          error
	bc12             map[int]bool
	bc12Err          error
	powerSave        []bool
}

func (c *fakeCharger) EnableBC12(port int, on bool) error {
	if c.bc12Err != nil {
		return c.bc12Err
	}
	if c.bc12 == nil {
		c.bc12 = map[int]bool{}
	}
	c.bc12[port] = on
	return nil
}

func (c *fakeCharger) SetPowerSave(on bool) error {
	c.powerSave = append(c.powerSave, on)
	return nil
}

func (c *fakeCharger) SetInputLimit(mA, mV int) error {
	c.limitMA, c.limitMV = mA, mV
	return nil
}

func (c *fakeCharger) SetDischargeOnAC(on bool) error {
	c.discharge = append(c.discharge, on)
	return nil
}

func (c *fakeCharger) BusVoltage(port int) (int, error) {
	if c.vbusErr != nil {
		return 0, c.vbusErr
	}
	return c.vbus[port], nil
}

type fakeLock bool

func (l fakeLock) Locked() bool { return bool(l) }

type fixture struct {
	batt    *fakeBattery
	sources fakeSources
	mux     *fakeMux
	chg     *fakeCharger
	arb     *Arbiter
}

func newFixture(batt int, lock Lock) *fixture {
	f := &fixture{
		batt:    &fakeBattery{pct: batt},
		sources: fakeSources{},
		mux:     &fakeMux{},
		chg:     &fakeCharger{vbus: map[int]int{}},
	}
	f.arb = New(Config{
		Ports:             2,
		MinInputCurrentMA: 512,
		DeratePercent:     5,
		CriticalPercent:   2,
		FullPercent:       95,
		VbusMinMV:         4400,
	}, Deps{Battery: f.batt, Sources: f.sources, Mux: f.mux, Charger: f.chg, Lock: lock}, nil)
	return f
}

func TestSelect_NoneWithCriticalBatteryBeforeInit(t *testing.T) {
	f := newFixture(1, nil)
	err := f.arb.Select(context.Background(), PortNone)
	require.ErrorIs(t, err, errcode.BatteryCritical)
	require.Equal(t, errcode.BatteryCritical, errcode.Of(err))

	st := f.arb.State()
	require.Equal(t, PortNone, st.ActivePort)
	require.False(t, st.Initialized)
	require.Empty(t, f.mux.calls, "hardware untouched")
}

func TestSelect_ScenarioSequence(t *testing.T) {
	f := newFixture(50, nil)
	ctx := context.Background()

	require.NoError(t, f.arb.Select(ctx, 0))
	st := f.arb.State()
	require.Equal(t, 0, st.ActivePort)
	require.True(t, st.Initialized)

	require.NoError(t, f.arb.Select(ctx, 1))
	require.Equal(t, 1, f.arb.State().ActivePort)
	require.Equal(t, []int{0, 1}, f.mux.calls)

	require.NoError(t, f.arb.Select(ctx, PortNone))
	st = f.arb.State()
	require.Equal(t, PortNone, st.ActivePort)
	require.True(t, st.DischargeOnAC)
	require.Equal(t, []bool{true}, f.chg.discharge)
}

func TestSelect_SourcingPortRejected(t *testing.T) {
	f := newFixture(50, nil)
	ctx := context.Background()
	require.NoError(t, f.arb.Select(ctx, 1))

	f.sources[0] = true
	err := f.arb.Select(ctx, 0)
	require.ErrorIs(t, err, errcode.SourceConflict)
	require.Equal(t, 1, f.arb.State().ActivePort)
	require.Equal(t, []int{1}, f.mux.calls)
}

func TestSelect_SourcingRejectedBeforeInitLeavesUninitialized(t *testing.T) {
	f := newFixture(50, nil)
	f.sources[1] = true
	require.ErrorIs(t, f.arb.Select(context.Background(), 1), errcode.SourceConflict)
	require.False(t, f.arb.State().Initialized)
}

func TestSelect_NoneAtThresholdSkipsDischarge(t *testing.T) {
	for _, batt := range []int{2, 0} {
		f := newFixture(batt, nil)
		require.NoError(t, f.arb.Select(context.Background(), 0))
		require.NoError(t, f.arb.Select(context.Background(), PortNone))
		require.Empty(t, f.chg.discharge, "battery %d", batt)
		require.False(t, f.arb.State().DischargeOnAC)
	}
}

func TestSelect_CriticalBatteryAllowedOnceInitialized(t *testing.T) {
	f := newFixture(1, nil)
	require.NoError(t, f.arb.Select(context.Background(), 0))
	require.NoError(t, f.arb.Select(context.Background(), PortNone))
	require.Equal(t, PortNone, f.arb.State().ActivePort)
}

func TestSelect_PortClearsDischargeOnAC(t *testing.T) {
	f := newFixture(60, nil)
	ctx := context.Background()
	require.NoError(t, f.arb.Select(ctx, PortNone))
	require.NoError(t, f.arb.Select(ctx, 0))
	require.Equal(t, []bool{true, false}, f.chg.discharge)
	require.False(t, f.arb.State().DischargeOnAC)
}

func TestSelect_MuxFailureLeavesState(t *testing.T) {
	f := newFixture(50, nil)
	ctx := context.Background()
	require.NoError(t, f.arb.Select(ctx, 0))

	f.mux.err = errors.New("i2c nak")
	err := f.arb.Select(ctx, 1)
	require.ErrorIs(t, err, errcode.BusError)
	require.Equal(t, 0, f.arb.State().ActivePort)
}

func TestSelect_InvalidPortPanics(t *testing.T) {
	f := newFixture(50, nil)
	require.Panics(t, func() { _ = f.arb.Select(context.Background(), 2) })
	require.Panics(t, func() { _ = f.arb.Select(context.Background(), -2) })
}

func TestSelect_PublishesActivePort(t *testing.T) {
	b := bus.NewBus(4)
	f := newFixture(50, nil)
	f.arb.conn = b.NewConnection("charge")

	require.NoError(t, f.arb.Select(context.Background(), 1))
	sub := b.NewConnection("test").Subscribe(bus.T("charge", "active_port"))
	select {
	case msg := <-sub.Channel():
		ev := msg.Payload.(ActivePortEvent)
		require.Equal(t, 1, ev.Port)
		require.True(t, ev.Initialized)
	case <-time.After(time.Second):
		t.Fatal("no retained active port")
	}
}

func TestSetChargeLimit_DeratesAndFloors(t *testing.T) {
	f := newFixture(50, nil)
	ctx := context.Background()

	require.NoError(t, f.arb.SetChargeLimit(ctx, 0, SupplierPD, 3000, 3000, 20000))
	require.Equal(t, 2850, f.chg.limitMA)
	require.Equal(t, 20000, f.chg.limitMV)

	require.NoError(t, f.arb.SetChargeLimit(ctx, 0, SupplierBC12SDP, 500, 500, 5000))
	require.Equal(t, 512, f.chg.limitMA, "floored at minimum")

	lim := f.arb.State().Limit
	require.Equal(t, 500, lim.RequestMA)
	require.Equal(t, 512, lim.AppliedMA)
	require.Equal(t, SupplierBC12SDP, lim.Supplier)
}

func TestSetChargeLimit_BC12FollowsSupplier(t *testing.T) {
	f := newFixture(50, nil)
	ctx := context.Background()

	require.NoError(t, f.arb.SetChargeLimit(ctx, 1, SupplierBC12CDP, 1500, 1500, 5000))
	require.True(t, f.chg.bc12[1])
	require.NoError(t, f.arb.SetChargeLimit(ctx, 1, SupplierOther, 1000, 1000, 5000))
	require.True(t, f.chg.bc12[1])
	require.NoError(t, f.arb.SetChargeLimit(ctx, 1, SupplierPD, 3000, 3000, 20000))
	require.False(t, f.chg.bc12[1])
}

func TestSetChargeLimit_BC12FailureKeepsLimit(t *testing.T) {
	f := newFixture(50, nil)
	ctx := context.Background()
	require.NoError(t, f.arb.SetChargeLimit(ctx, 0, SupplierPD, 3000, 3000, 20000))

	f.chg.bc12Err = errors.New("i2c nak")
	err := f.arb.SetChargeLimit(ctx, 0, SupplierBC12DCP, 1500, 1500, 5000)
	require.ErrorIs(t, err, errcode.BusError)
	require.Equal(t, 2850, f.chg.limitMA, "limit untouched")
	require.Equal(t, SupplierPD, f.arb.State().Limit.Supplier)
}

func TestHibernate_AllInputsAndPowerSave(t *testing.T) {
	f := newFixture(50, nil)
	ctx := context.Background()
	require.NoError(t, f.arb.Select(ctx, 1))

	require.NoError(t, f.arb.Hibernate(ctx))
	require.Equal(t, 1, f.mux.all)
	require.Equal(t, []bool{true}, f.chg.powerSave)
	st := f.arb.State()
	require.True(t, st.AllInputs)
	require.True(t, st.PowerSave)
	require.Equal(t, PortNone, st.ActivePort)

	require.NoError(t, f.arb.Select(ctx, 0))
	require.Equal(t, []bool{true, false}, f.chg.powerSave)
	st = f.arb.State()
	require.False(t, st.AllInputs)
	require.False(t, st.PowerSave)
}

func TestHibernate_MuxErrorLeavesState(t *testing.T) {
	f := newFixture(50, nil)
	require.NoError(t, f.arb.Select(context.Background(), 1))
	f.mux.err = errors.New("gpio")
	require.ErrorIs(t, f.arb.Hibernate(context.Background()), errcode.BusError)
	require.Equal(t, 1, f.arb.State().ActivePort)
	require.Empty(t, f.chg.powerSave)
}

type fakeVbus map[int]bool

func (v fakeVbus) VbusPresent(port int) bool { return v[port] }

func TestVbusProvided(t *testing.T) {
	f := newFixture(50, nil)
	f.chg.vbus[0] = 5000
	require.False(t, f.arb.VbusProvided(0), "not the active port")
	require.NoError(t, f.arb.Select(context.Background(), 0))
	require.True(t, f.arb.VbusProvided(0))
	f.chg.vbus[0] = 0
	require.False(t, f.arb.VbusProvided(0))

	f.arb.deps.Vbus = fakeVbus{1: true}
	require.True(t, f.arb.VbusProvided(1))
	require.False(t, f.arb.VbusProvided(0))

	require.Panics(t, func() { f.arb.VbusProvided(PortNone) })
	require.Panics(t, func() { f.arb.VbusProvided(2) })
}

func TestRampAllowed(t *testing.T) {
	f := newFixture(50, nil)
	for _, s := range []Supplier{SupplierBC12DCP, SupplierBC12CDP, SupplierBC12SDP, SupplierOther} {
		require.True(t, f.arb.RampAllowed(s), s.String())
	}
	for _, s := range []Supplier{SupplierNone, SupplierPD, SupplierTypeC, SupplierProprietary, SupplierVBUS} {
		require.False(t, f.arb.RampAllowed(s), s.String())
	}

	locked := newFixture(50, fakeLock(true))
	require.False(t, locked.arb.RampAllowed(SupplierBC12DCP))
}

func TestConsumingFullInputCurrent(t *testing.T) {
	f := newFixture(0, nil)
	for batt, want := range map[int]bool{0: false, 2: false, 3: true, 50: true, 94: true, 95: false, 100: false} {
		f.batt.pct = batt
		require.Equal(t, want, f.arb.ConsumingFullInputCurrent(), "battery %d", batt)
	}
}

func TestVbusTooLow(t *testing.T) {
	f := newFixture(50, nil)
	f.chg.vbus[0] = 4399
	f.chg.vbus[1] = 4400
	require.True(t, f.arb.VbusTooLow(0))
	require.False(t, f.arb.VbusTooLow(1))

	f.chg.vbusErr = errors.New("adc busy")
	require.True(t, f.arb.VbusTooLow(1), "read failure counts as 0 mV")
}

func TestParseSupplier(t *testing.T) {
	s, ok := ParseSupplier("BC12_DCP")
	require.True(t, ok)
	require.Equal(t, SupplierBC12DCP, s)
	_, ok = ParseSupplier("qc3")
	require.False(t, ok)
}
