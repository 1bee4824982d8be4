package board

import (
	"context"
	"fmt"

	"ecpower-go/bus"
	"ecpower-go/internal/charge"
	"ecpower-go/internal/gpioirq"
	"ecpower-go/internal/logger"
	"ecpower-go/internal/tcpc"
	"ecpower-go/x/timex"
)

// Topic payloads.
type (
	LidEvent struct {
		Open bool  `json:"open"`
		TS   int64 `json:"ts_ms"`
	}
	TabletEvent struct {
		On bool  `json:"on"`
		TS int64 `json:"ts_ms"`
	}
	WakeEvent struct {
		Source string `json:"source"`
		TS     int64  `json:"ts_ms"`
	}
	ACEvent struct {
		Present bool  `json:"present"`
		TS      int64 `json:"ts_ms"`
	}
	OvercurrentEvent struct {
		Port   int   `json:"port"`
		Active bool  `json:"active"`
		TS     int64 `json:"ts_ms"`
	}
)

// Snapshot is the board-level state shown by the console.
type Snapshot struct {
	ACPresent    bool
	LidOpen      bool
	TabletMode   bool
	TrackpadWake bool
}

// Status is the periodic power status payload.
type Status struct {
	Charge  charge.State      `json:"charge"`
	Ports   []tcpc.PortStatus `json:"ports"`
	Board   Snapshot          `json:"board"`
	Battery int               `json:"battery_pct"`
	Drops   uint32            `json:"irq_drops"`
}

func (b *Board) Status() Status {
	return Status{
		Charge:  b.Charge.State(),
		Ports:   b.TCPC.Status(),
		Board:   b.Snapshot(),
		Battery: b.battery.Percent(),
		Drops:   b.Debounce.Drops(),
	}
}

func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{ACPresent: b.acPresent, LidOpen: b.lidOpen, TabletMode: b.tabletMode, TrackpadWake: b.trackpadWake}
}

func (b *Board) watchLidAndTablet() error {
	if n := b.cfg.Pins.LidOpen; n != nil {
		pin, err := b.irqPin(*n)
		if err != nil {
			return err
		}
		cfg := gpioirq.FilterConfig{Name: FilterLid, Pin: pin, Window: b.cfg.Debounce.Lid}
		if err := b.Debounce.Watch(cfg, b.onLid); err != nil {
			return err
		}
		open, _ := b.Debounce.Level(FilterLid)
		b.mu.Lock()
		b.lidOpen = open
		b.mu.Unlock()
	}
	if n := b.cfg.Pins.TabletModeL; n != nil {
		pin, err := b.irqPin(*n)
		if err != nil {
			return err
		}
		cfg := gpioirq.FilterConfig{Name: FilterTablet, Pin: pin, Window: b.cfg.Debounce.Tablet, Invert: true}
		if err := b.Debounce.Watch(cfg, b.onTablet); err != nil {
			return err
		}
		on, _ := b.Debounce.Level(FilterTablet)
		b.mu.Lock()
		b.tabletMode = on
		b.mu.Unlock()
	}
	return nil
}

// watchAC buffers the debounced AC-present input onto the host's ACOK line.
func (b *Board) watchAC() error {
	n := b.cfg.Pins.ACPresent
	if n == nil {
		return nil
	}
	pin, err := b.irqPin(*n)
	if err != nil {
		return err
	}
	cfg := gpioirq.FilterConfig{Name: FilterAC, Pin: pin, Window: b.cfg.Debounce.AC}
	if err := b.Debounce.Watch(cfg, b.onAC); err != nil {
		return err
	}
	present, _ := b.Debounce.Level(FilterAC)
	b.setAC(present)
	return nil
}

func (b *Board) onAC(ctx context.Context, present bool) {
	logger.InfoKV(ctx, "external power", "present", present)
	b.setAC(present)
}

func (b *Board) setAC(present bool) {
	b.mu.Lock()
	b.acPresent = present
	b.mu.Unlock()
	b.acok.Assert(present)
	b.conn.Publish(b.conn.NewMessage(bus.T("board", "ac"), ACEvent{Present: present, TS: timex.NowMs()}, true))
}

// VbusProvided reports whether a partner supplies VBUS on port.
func (b *Board) VbusProvided(port int) bool { return b.Charge.VbusProvided(port) }

func (b *Board) onLid(ctx context.Context, open bool) {
	b.mu.Lock()
	b.lidOpen = open
	b.mu.Unlock()
	logger.InfoKV(ctx, "lid", "open", open)
	b.conn.Publish(b.conn.NewMessage(bus.T("board", "lid"), LidEvent{Open: open, TS: timex.NowMs()}, true))
	b.updateTrackpadWake(ctx)
}

func (b *Board) onTablet(ctx context.Context, on bool) {
	b.mu.Lock()
	b.tabletMode = on
	b.mu.Unlock()
	logger.InfoKV(ctx, "tablet mode", "on", on)
	b.conn.Publish(b.conn.NewMessage(bus.T("board", "tablet_mode"), TabletEvent{On: on, TS: timex.NowMs()}, true))
	b.updateTrackpadWake(ctx)
}

func (b *Board) onTrackpad(ctx context.Context, asserted bool) {
	if !asserted {
		return
	}
	logger.DebugKV(ctx, "trackpad wake")
	b.conn.Publish(b.conn.NewMessage(bus.T("host", "wake"), WakeEvent{Source: FilterTrackpad, TS: timex.NowMs()}, false))
}

// updateTrackpadWake keeps the trackpad able to wake the host only while the
// lid is open in laptop mode.
func (b *Board) updateTrackpadWake(ctx context.Context) {
	b.mu.Lock()
	want := b.lidOpen && !b.tabletMode
	b.mu.Unlock()
	if err := b.EnableTrackpadWake(ctx, want); err != nil {
		logger.WarnKV(ctx, "trackpad wake", "enable", want, "err", err)
	}
}

// EnableTrackpadWake arms or disarms the trackpad interrupt. Asking for the
// state already in effect does nothing.
func (b *Board) EnableTrackpadWake(ctx context.Context, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.trackpadKnown && b.trackpadWake == on {
		return nil
	}
	if n := b.cfg.Pins.TrackpadIntL; n != nil {
		if on {
			pin, err := b.irqPin(*n)
			if err != nil {
				return err
			}
			cfg := gpioirq.FilterConfig{Name: FilterTrackpad, Pin: pin, Window: b.cfg.Debounce.Trackpad, Invert: true}
			if err := b.Debounce.Watch(cfg, b.onTrackpad); err != nil {
				return err
			}
		} else {
			b.Debounce.Unwatch(FilterTrackpad)
		}
	}
	b.trackpadWake = on
	b.trackpadKnown = true
	logger.DebugKV(ctx, "trackpad wake", "enabled", on)
	return nil
}

// Overcurrent records an overcurrent report for port.
func (b *Board) Overcurrent(ctx context.Context, port int, active bool) {
	if port < 0 || port >= len(b.ports) {
		panic(fmt.Sprintf("board: invalid port %d", port))
	}
	if active {
		logger.WarnKV(ctx, "overcurrent", "port", port)
	} else {
		logger.InfoKV(ctx, "overcurrent cleared", "port", port)
	}
	b.conn.Publish(b.conn.NewMessage(
		bus.T("usbc", port, "overcurrent"),
		OvercurrentEvent{Port: port, Active: active, TS: timex.NowMs()},
		true,
	))
}

// Hibernate parks the port controllers, hands input selection to the
// charger and applies the low-power bank masks from the board description.
func (b *Board) Hibernate(ctx context.Context) error {
	ctx = logger.WithName(ctx, "board")
	b.TCPC.EnterLowPower(ctx)
	if err := b.Charge.Hibernate(ctx); err != nil {
		return fmt.Errorf("hibernate charger: %w", err)
	}
	if b.plat.Banks == nil {
		return nil
	}
	for _, m := range b.cfg.Hibernate {
		if err := b.plat.Banks.SetLowPower(m.Bank, m.Mask); err != nil {
			return fmt.Errorf("hibernate bank %s: %w", m.Bank, err)
		}
	}
	logger.InfoKV(ctx, "hibernate", "banks", len(b.cfg.Hibernate))
	return nil
}
