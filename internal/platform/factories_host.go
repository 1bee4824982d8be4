// internal/platform/factories_host.go
package platform

import (
	"errors"
	"sync"

	"ecpower-go/internal/halcore"

	"tinygo.org/x/drivers"
)

// ----------------------------- I²C (host) ------------------------------------

// ErrNAK is returned by HostI2C when failure injection is armed.
var ErrNAK = errors.New("i2c: nak")

// HostI2C implements tinygo drivers.I2C for host runs and tests. It emulates
// byte-addressed register files per target address: a write stores w[1:] at
// w[0] onwards, a read returns bytes starting at the last written register.
type HostI2C struct {
	mu    sync.Mutex
	regs  map[uint16]map[byte]byte
	fails int
	Txs   int
}

func NewHostI2C() *HostI2C {
	return &HostI2C{regs: map[uint16]map[byte]byte{}}
}

func (h *HostI2C) Tx(addr uint16, w, r []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Txs++
	if h.fails > 0 {
		h.fails--
		return ErrNAK
	}
	if len(w) == 0 {
		return nil
	}
	file := h.regs[addr]
	if file == nil {
		file = map[byte]byte{}
		h.regs[addr] = file
	}
	reg := w[0]
	for i, b := range w[1:] {
		file[reg+byte(i)] = b
	}
	for i := range r {
		r[i] = file[reg+byte(i)]
	}
	return nil
}

// Poke seeds a register byte.
func (h *HostI2C) Poke(addr uint16, reg, v byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	file := h.regs[addr]
	if file == nil {
		file = map[byte]byte{}
		h.regs[addr] = file
	}
	file[reg] = v
}

// PokeWord seeds a little-endian register word at reg, reg+1.
func (h *HostI2C) PokeWord(addr uint16, reg byte, v uint16) {
	h.Poke(addr, reg, byte(v))
	h.Poke(addr, reg+1, byte(v>>8))
}

// Peek reads a register byte without counting a transaction.
func (h *HostI2C) Peek(addr uint16, reg byte) byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.regs[addr][reg]
}

// TxCount returns the number of transactions seen so far.
func (h *HostI2C) TxCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Txs
}

// FailNext makes the next n transactions return ErrNAK.
func (h *HostI2C) FailNext(n int) {
	h.mu.Lock()
	h.fails = n
	h.mu.Unlock()
}

type hostI2CFactory struct {
	buses map[string]drivers.I2C
}

func (f *hostI2CFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	return b, ok
}

// DefaultI2CFactory creates host I²C buses "i2c0" and "i2c1".
func DefaultI2CFactory() halcore.I2CBusFactory {
	return &hostI2CFactory{
		buses: map[string]drivers.I2C{
			"i2c0": NewHostI2C(),
			"i2c1": NewHostI2C(),
		},
	}
}

// ----------------------------- GPIO (host) -----------------------------------

// FakePin implements IRQPin for host runs and tests. A pin that nothing
// drives externally reads its pull level, which is what tri-state sampling
// relies on.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool // output level or externally driven level
	driven  bool // externally driven (input mode)
	modeOut bool
	pull    halcore.Pull
	irqEdge halcore.Edge
	irqFunc func()
	writes  int
}

func (p *FakePin) ConfigureInput(pull halcore.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.pull = pull
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.writes++
	p.mu.Unlock()
	return nil
}

// Set drives an output pin.
func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.writes++
	p.mu.Unlock()
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.get()
}

func (p *FakePin) Number() int { return p.number }

// Writes counts output writes; tests use it to prove redundant writes are skipped.
func (p *FakePin) Writes() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.writes
}

// Drive simulates an external source holding the pin at level and fires
// the IRQ handler when the edge matches the configured one.
func (p *FakePin) Drive(level bool) {
	p.mu.Lock()
	old := p.get()
	p.level = level
	p.driven = true
	irq := p.irqFunc
	want := irqWanted(p.irqEdge, edgeFrom(old, level))
	p.mu.Unlock()
	if want && irq != nil {
		irq() // ISR-style callback
	}
}

// Float releases the external drive; the pin reads its pull again.
func (p *FakePin) Float() {
	p.mu.Lock()
	p.driven = false
	p.mu.Unlock()
}

// Pulse fires the IRQ handler without a level change (noise).
func (p *FakePin) Pulse() {
	p.mu.RLock()
	irq := p.irqFunc
	p.mu.RUnlock()
	if irq != nil {
		irq()
	}
}

// get reads the level; callers hold mu.
func (p *FakePin) get() bool {
	if p.modeOut || p.driven {
		return p.level
	}
	switch p.pull {
	case halcore.PullUp:
		return true
	case halcore.PullDown:
		return false
	default:
		return p.level
	}
}

func (p *FakePin) SetIRQ(edge halcore.Edge, handler func()) error {
	p.mu.Lock()
	p.irqEdge = edge
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = halcore.EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

func edgeFrom(old, new bool) halcore.Edge {
	switch {
	case !old && new:
		return halcore.EdgeRising
	case old && !new:
		return halcore.EdgeFalling
	default:
		return halcore.EdgeNone
	}
}

func irqWanted(cfg, seen halcore.Edge) bool {
	switch cfg {
	case halcore.EdgeBoth:
		return seen == halcore.EdgeRising || seen == halcore.EdgeFalling
	default:
		return cfg != halcore.EdgeNone && cfg == seen
	}
}

// HostPinFactory returns stable *FakePin instances per number.
type HostPinFactory struct {
	mu   sync.Mutex
	pins map[int]*FakePin
}

func NewHostPinFactory() *HostPinFactory {
	return &HostPinFactory{pins: make(map[int]*FakePin)}
}

func (f *HostPinFactory) ByNumber(n int) (halcore.GPIOPin, bool) {
	return f.Pin(n), true
}

// Pin exposes the underlying *FakePin, creating it on first use.
func (f *HostPinFactory) Pin(n int) *FakePin {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pins[n]
	if !ok {
		p = &FakePin{number: n}
		f.pins[n] = p
	}
	return p
}

// ----------------------------- Pin banks (host) ------------------------------

// HostBank records low-power masks applied per bank.
type HostBank struct {
	mu    sync.Mutex
	Masks map[string]uint32
}

func NewHostBank() *HostBank { return &HostBank{Masks: map[string]uint32{}} }

func (b *HostBank) SetLowPower(bank string, mask uint32) error {
	b.mu.Lock()
	b.Masks[bank] |= mask
	b.mu.Unlock()
	return nil
}

// Applied returns a copy of the recorded masks.
func (b *HostBank) Applied() map[string]uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]uint32, len(b.Masks))
	for k, v := range b.Masks {
		out[k] = v
	}
	return out
}
