// Package board wires the power core for one board description: pins and
// buses from the platform, policy from config.
package board

import (
	"context"
	"fmt"
	"sync"

	"ecpower-go/bus"
	"ecpower-go/drivers/ltc4015"
	tcdrv "ecpower-go/drivers/tcpc"
	"ecpower-go/errcode"
	"ecpower-go/internal/boardid"
	"ecpower-go/internal/charge"
	"ecpower-go/internal/config"
	"ecpower-go/internal/deferred"
	"ecpower-go/internal/gpioirq"
	"ecpower-go/internal/halcore"
	"ecpower-go/internal/logger"
	"ecpower-go/internal/pdtask"
	"ecpower-go/internal/tcpc"
)

// Filter names.
const (
	FilterLid      = "lid"
	FilterTablet   = "tablet"
	FilterTrackpad = "trackpad"
	FilterAC       = "ac"
)

func cableFilter(port int) string { return fmt.Sprintf("cable%d", port) }

// Platform supplies the hardware the board is built on.
type Platform struct {
	Pins    halcore.PinFactory
	I2C     halcore.I2CBusFactory
	Banks   halcore.PinBank
	Battery charge.Battery // nil: a host Gauge at 50%
	Lock    charge.Lock    // nil: unlocked
}

type Board struct {
	cfg   *config.Config
	plat  Platform
	ports []tcpc.Port

	Bus      *bus.Bus
	Sched    *deferred.Scheduler
	Debounce *gpioirq.Debouncer
	TCPC     *tcpc.Sequencer
	Charge   *charge.Arbiter
	Tasks    *pdtask.Tasks
	BoardID  *boardid.Reader
	Gauge    *Gauge // set when Platform.Battery is nil

	conn    *bus.Connection
	battery charge.Battery

	acok halcore.Line

	mu            sync.Mutex
	started       bool
	acPresent     bool
	lidOpen       bool
	tabletMode    bool
	trackpadWake  bool
	trackpadKnown bool
}

// New builds every component. Nothing runs until Start.
func New(cfg *config.Config, plat Platform) (*Board, error) {
	b := &Board{
		cfg:     cfg,
		plat:    plat,
		Bus:     bus.NewBus(16),
		Sched:   deferred.New(),
		lidOpen: true,
	}
	b.conn = b.Bus.NewConnection("board")
	b.Debounce = gpioirq.New(b.Sched, 32)
	b.Tasks = pdtask.New(len(cfg.Ports), pdtask.HandlerFunc(b.handlePortEvent))

	var srcEn, chgEn, vbusDet []halcore.Line
	var bc12 bc12Gate
	haveDet := false
	for _, pc := range cfg.Ports {
		p, err := b.buildPort(pc)
		if err != nil {
			return nil, err
		}
		b.ports = append(b.ports, p)
		srcEn = append(srcEn, b.optLine(pc.VbusSrcEn, false))
		chgEn = append(chgEn, b.optLine(pc.ChargeEnL, true))
		det := b.optLine(pc.VbusDet, false)
		haveDet = haveDet || det.Valid()
		vbusDet = append(vbusDet, det)
		bc12 = append(bc12, b.optLine(pc.BC12En, false))
	}
	b.TCPC = tcpc.New(b.ports, tcpc.Timing{
		ResetSettle: cfg.Timing.ResetSettle,
		PowerOff:    cfg.Timing.PowerOff,
		PowerOn:     cfg.Timing.PowerOn,
		Park:        cfg.Timing.Park,
	}, tcpc.WithBus(b.Bus.NewConnection("tcpc")), tcpc.WithPoster(b.Tasks))

	chg, err := b.buildCharger(bc12)
	if err != nil {
		return nil, err
	}
	battery := plat.Battery
	if battery == nil {
		b.Gauge = NewGauge(50)
		battery = b.Gauge
	}
	b.battery = battery
	for _, l := range chgEn {
		if l.Valid() {
			_ = l.Pin.ConfigureOutput(true) // charge_en_l released
		}
	}
	for _, l := range bc12 {
		if l.Valid() {
			_ = l.Pin.ConfigureOutput(false)
		}
	}
	for _, l := range append(srcEn, vbusDet...) {
		if l.Valid() {
			_ = l.Pin.ConfigureInput(halcore.PullNone)
		}
	}
	var vbus charge.VbusSense
	if haveDet {
		vbus = vbusDetect{det: vbusDet}
	}
	b.acok = b.optLine(cfg.Pins.PCHACOK, false)
	if b.acok.Valid() {
		_ = b.acok.Pin.ConfigureOutput(false)
	}
	b.Charge = charge.New(charge.Config{
		Ports:             len(cfg.Ports),
		MinInputCurrentMA: cfg.Charge.MinInputCurrentMA,
		DeratePercent:     cfg.Charge.DeratePercent,
		CriticalPercent:   cfg.Charge.CriticalPercent,
		FullPercent:       cfg.Charge.FullPercent,
		VbusMinMV:         cfg.Charge.VbusMinMV,
	}, charge.Deps{
		Battery: battery,
		Sources: vbusSources{en: srcEn},
		Mux:     chargeMux{en: chgEn},
		Charger: chg,
		Lock:    plat.Lock,
		Vbus:    vbus,
	}, b.Bus.NewConnection("charge"))

	if len(cfg.BoardID.Pins) == 3 {
		var pins [3]halcore.GPIOPin
		for i, n := range cfg.BoardID.Pins {
			p, err := b.pin(n)
			if err != nil {
				return nil, err
			}
			pins[i] = p
		}
		b.BoardID = boardid.NewReader(pins, boardid.PullSampler{Settle: cfg.BoardID.Settle})
	}
	return b, nil
}

func (b *Board) buildPort(pc config.Port) (tcpc.Port, error) {
	reset, err := b.pin(pc.ResetL)
	if err != nil {
		return tcpc.Port{}, err
	}
	alert, err := b.pin(pc.AlertL)
	if err != nil {
		return tcpc.Port{}, err
	}
	rail, err := b.pin(pc.Rail)
	if err != nil {
		return tcpc.Port{}, err
	}
	p := tcpc.Port{
		ID:       pc.ID,
		Reset:    halcore.Line{Pin: reset, ActiveLow: true},
		Alert:    halcore.Line{Pin: alert, ActiveLow: true},
		CableDet: b.optLine(pc.CableDet, false),
		Power:    halcore.Line{Pin: rail},
		Rail:     pc.Rail,
	}
	if b.plat.I2C != nil && pc.I2CBus != "" {
		i2c, ok := b.plat.I2C.ByID(pc.I2CBus)
		if !ok {
			return tcpc.Port{}, &errcode.E{C: errcode.InvalidParams, Op: "board.port", Msg: "unknown i2c bus " + pc.I2CBus}
		}
		drv, err := tcdrv.New(tcdrv.Kind(pc.Controller), i2c, pc.I2CAddr)
		if err != nil {
			return tcpc.Port{}, errcode.Wrap(errcode.Unsupported, "board.port", err)
		}
		p.Driver = drv
	}
	return p, nil
}

func (b *Board) buildCharger(bc12 bc12Gate) (charge.Charger, error) {
	cc := b.cfg.Charge.Charger
	if b.plat.I2C == nil || cc.I2CBus == "" {
		return nopCharger{bc12: bc12}, nil
	}
	i2c, ok := b.plat.I2C.ByID(cc.I2CBus)
	if !ok {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "board.charger", Msg: "unknown i2c bus " + cc.I2CBus}
	}
	return ltcCharger{dev: ltc4015.New(i2c, ltc4015.Config{Address: cc.I2CAddr, RSNSI_uOhm: cc.RSNSIuOhm}), bc12: bc12}, nil
}

// Start runs the scheduler, debouncer and port tasks, brings up the port
// controllers and arms the board filters. It returns once the board is live;
// the goroutines stop with ctx.
func (b *Board) Start(ctx context.Context, warm bool) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errcode.Busy
	}
	b.started = true
	b.mu.Unlock()

	ctx = logger.WithName(ctx, "board")
	go b.Sched.Run(ctx)
	b.Debounce.Start(ctx)
	go b.Tasks.Run(ctx)

	if b.BoardID != nil {
		logger.InfoKV(ctx, "board id", "board", b.cfg.Board, "version", b.BoardID.Version())
	}

	if err := b.TCPC.InitAll(ctx, warm); err != nil {
		return err
	}
	if err := b.armAlerts(); err != nil {
		return err
	}
	if err := b.watchCables(); err != nil {
		return err
	}
	if err := b.watchLidAndTablet(); err != nil {
		return err
	}
	if err := b.watchAC(); err != nil {
		return err
	}
	b.updateTrackpadWake(ctx)
	return nil
}

// armAlerts posts EventAlert to the port task on every falling alert_l edge.
func (b *Board) armAlerts() error {
	for _, p := range b.ports {
		irq, ok := p.Alert.Pin.(halcore.IRQPin)
		if !ok {
			return &errcode.E{C: errcode.Unsupported, Op: "board.alert", Msg: "alert_l has no interrupt"}
		}
		port := p.ID
		if err := irq.SetIRQ(halcore.EdgeFalling, func() { b.Tasks.Post(port, pdtask.EventAlert) }); err != nil {
			return err
		}
	}
	return nil
}

func (b *Board) watchCables() error {
	for _, p := range b.ports {
		if !p.CableDet.Valid() {
			continue
		}
		irq, ok := p.CableDet.Pin.(halcore.IRQPin)
		if !ok {
			return &errcode.E{C: errcode.Unsupported, Op: "board.cable", Msg: "cable_det has no interrupt"}
		}
		port := p.ID
		err := b.Debounce.Watch(gpioirq.FilterConfig{
			Name:   cableFilter(port),
			Pin:    irq,
			Window: b.cfg.Debounce.CableDet,
		}, func(ctx context.Context, present bool) {
			if present {
				b.TCPC.HandleCableDetect(ctx, port)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Board) handlePortEvent(ctx context.Context, port int, ev pdtask.Event) {
	switch ev {
	case pdtask.EventResetRequest:
		if err := b.TCPC.Reset(ctx, port); err != nil {
			logger.WarnKV(ctx, "port reset failed", "port", port, "err", err)
		}
	case pdtask.EventAlert:
		if _, err := b.TCPC.ServiceAlert(ctx, port); err != nil {
			logger.WarnKV(ctx, "alert service failed", "port", port, "err", err)
		}
	}
}

// Config returns the board description the board was built from.
func (b *Board) Config() *config.Config { return b.cfg }

// Pin resolves a pin number through the platform.
func (b *Board) Pin(n int) (halcore.GPIOPin, error) { return b.pin(n) }

func (b *Board) pin(n int) (halcore.GPIOPin, error) {
	p, ok := b.plat.Pins.ByNumber(n)
	if !ok || p == nil {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "board.pin", Msg: fmt.Sprintf("pin %d", n)}
	}
	return p, nil
}

func (b *Board) irqPin(n int) (halcore.IRQPin, error) {
	p, err := b.pin(n)
	if err != nil {
		return nil, err
	}
	irq, ok := p.(halcore.IRQPin)
	if !ok {
		return nil, &errcode.E{C: errcode.Unsupported, Op: "board.pin", Msg: fmt.Sprintf("pin %d has no interrupt", n)}
	}
	return irq, nil
}

// optLine resolves an optional pin; a missing or unknown pin is an empty Line.
func (b *Board) optLine(n *int, activeLow bool) halcore.Line {
	if n == nil {
		return halcore.Line{}
	}
	p, err := b.pin(*n)
	if err != nil {
		return halcore.Line{}
	}
	return halcore.Line{Pin: p, ActiveLow: activeLow}
}

type nopCharger struct{ bc12 bc12Gate }

func (nopCharger) SetInputLimit(int, int) error { return nil }
func (nopCharger) SetDischargeOnAC(bool) error  { return nil }
func (nopCharger) BusVoltage(int) (int, error)  { return 0, errcode.Unsupported }
func (nopCharger) SetPowerSave(bool) error      { return nil }

func (c nopCharger) EnableBC12(port int, on bool) error { return c.bc12.enable(port, on) }
