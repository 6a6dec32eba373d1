package hal

import (
	"errors"
	"math"
	"sync"
	"time"

	"tinygo.org/x/drivers"
)

// ----------------------------- GPIO (host) -----------------------------------

// FakePin implements GPIOPin and IRQPin in memory. Set drives the level
// and fires the interrupt handler synchronously on a matching edge.
type FakePin struct {
	mu       sync.RWMutex
	number   int
	level    bool
	pull     Pull
	modeOut  bool
	irqEdge  Edge
	irqFunc  func()
	debounce time.Duration
	lastIRQ  time.Time
}

func NewFakePin(n int, level bool) *FakePin { return &FakePin{number: n, level: level} }

// ConfigureInput applies pull to a pin that has never been driven: a
// pull-up reads high until something pulls it low.
func (p *FakePin) ConfigureInput(pull Pull) error {
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
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	edge := edgeFrom(old, level)
	irq := p.irqFunc
	want := irqWanted(p.irqEdge, edge)
	now := time.Now()
	if want && (p.debounce == 0 || now.Sub(p.lastIRQ) >= p.debounce) {
		p.lastIRQ = now
		p.mu.Unlock()
		if irq != nil {
			irq()
		}
		return
	}
	p.mu.Unlock()
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

func (p *FakePin) Toggle() { p.Set(!p.Get()) }

func (p *FakePin) Number() int { return p.number }

func (p *FakePin) Pull() Pull {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pull
}

func (p *FakePin) SetIRQ(edge Edge, handler func()) error {
	p.mu.Lock()
	p.irqEdge = edge
	p.irqFunc = handler
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ClearIRQ() error {
	p.mu.Lock()
	p.irqEdge = EdgeNone
	p.irqFunc = nil
	p.mu.Unlock()
	return nil
}

// Armed reports the edge currently armed for interrupts.
func (p *FakePin) Armed() Edge {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.irqEdge
}

func edgeFrom(old, new bool) Edge {
	switch {
	case !old && new:
		return EdgeRising
	case old && !new:
		return EdgeFalling
	default:
		return EdgeNone
	}
}

func irqWanted(cfg, seen Edge) bool {
	switch cfg {
	case EdgeBoth:
		return seen == EdgeRising || seen == EdgeFalling
	default:
		return cfg != EdgeNone && cfg == seen
	}
}

// HostPinFactory returns stable *FakePin instances per number. Pins are
// created high, as a pulled-up input with nothing attached reads.
type HostPinFactory struct {
	mu   sync.Mutex
	pins map[int]*FakePin
}

func NewHostPinFactory() *HostPinFactory {
	return &HostPinFactory{pins: make(map[int]*FakePin)}
}

func (f *HostPinFactory) ByNumber(n int) (GPIOPin, bool) {
	return f.Pin(n), true
}

// Pin exposes the underlying *FakePin, creating it if needed.
func (f *HostPinFactory) Pin(n int) *FakePin {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == nil {
		f.pins = make(map[int]*FakePin)
	}
	p, ok := f.pins[n]
	if !ok {
		p = NewFakePin(n, true)
		f.pins[n] = p
	}
	return p
}

// ----------------------------- I²C (host) ------------------------------------

var ErrNoDevice = errors.New("i2c: no device at address")

// SimChip answers bus transactions for one address.
type SimChip interface {
	Tx(w, r []byte) error
}

// SimI2C is a host bus with simulated chips attached by address.
type SimI2C struct {
	mu    sync.Mutex
	chips map[uint16]SimChip
	fail  error
}

func NewSimI2C() *SimI2C { return &SimI2C{chips: map[uint16]SimChip{}} }

func (b *SimI2C) Attach(addr uint16, c SimChip) {
	b.mu.Lock()
	b.chips[addr] = c
	b.mu.Unlock()
}

// SetFault makes every transaction fail with err until cleared with nil.
func (b *SimI2C) SetFault(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func (b *SimI2C) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	c, ok := b.chips[addr]
	fail := b.fail
	b.mu.Unlock()
	if fail != nil {
		return fail
	}
	if !ok {
		return ErrNoDevice
	}
	return c.Tx(w, r)
}

type simI2CFactory struct {
	buses map[string]drivers.I2C
}

func (f simI2CFactory) ByID(id string) (drivers.I2C, bool) {
	b, ok := f.buses[id]
	return b, ok
}

// NewSimI2CFactory exposes buses under their ids.
func NewSimI2CFactory(buses map[string]*SimI2C) I2CBusFactory {
	m := make(map[string]drivers.I2C, len(buses))
	for id, b := range buses {
		m[id] = b
	}
	return simI2CFactory{buses: m}
}

// Climate is a settable temperature/humidity shared by simulated chips.
type Climate struct {
	mu       sync.Mutex
	tempC    float64
	humidity float64
}

func NewClimate(tempC, humidity float64) *Climate {
	return &Climate{tempC: tempC, humidity: humidity}
}

func (c *Climate) Set(tempC, humidity float64) {
	c.mu.Lock()
	c.tempC, c.humidity = tempC, humidity
	c.mu.Unlock()
}

func (c *Climate) Get() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tempC, c.humidity
}

// SimAHT20 answers the AHT20 status, init, trigger and read sequence.
// Status reads as calibrated and idle.
type SimAHT20 struct {
	c *Climate
}

func NewSimAHT20(c *Climate) *SimAHT20 { return &SimAHT20{c: c} }

const simAHT20Status = 0x1C

func (s *SimAHT20) Tx(w, r []byte) error {
	if len(r) == 0 {
		return nil
	}
	for i := range r {
		r[i] = 0
	}
	r[0] = simAHT20Status
	if len(w) > 0 || len(r) < 6 {
		return nil
	}
	t, h := s.c.Get()
	hraw := uint32(math.Round(clamp(h, 0, 100) / 100 * (1 << 20)))
	traw := uint32(math.Round((clamp(t, -50, 150) + 50) / 200 * (1 << 20)))
	if hraw > 0xFFFFF {
		hraw = 0xFFFFF
	}
	if traw > 0xFFFFF {
		traw = 0xFFFFF
	}
	r[1] = byte(hraw >> 12)
	r[2] = byte(hraw >> 4)
	r[3] = byte(hraw<<4) | byte(traw>>16)&0x0F
	r[4] = byte(traw >> 8)
	r[5] = byte(traw)
	if len(r) > 6 {
		r[6] = sensirionCRC(r[:6])
	}
	return nil
}

// SimSHTC3 answers SHTC3 measurement reads in the order of the last
// measure command: humidity first for 0x5C24/0x58E0, else temperature first.
type SimSHTC3 struct {
	c *Climate

	mu      sync.Mutex
	rhFirst bool
}

func NewSimSHTC3(c *Climate) *SimSHTC3 { return &SimSHTC3{c: c} }

func (s *SimSHTC3) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(w) >= 2 {
		cmd := uint16(w[0])<<8 | uint16(w[1])
		switch cmd {
		case 0x5C24, 0x58E0, 0x44DE, 0x401A:
			s.rhFirst = true
		case 0x7CA2, 0x7866, 0x6458, 0x609C:
			s.rhFirst = false
		}
	}
	if len(r) < 6 {
		return nil
	}
	t, h := s.c.Get()
	traw := uint16(math.Round((clamp(t, -45, 130) + 45) / 175 * 65535))
	hraw := uint16(math.Round(clamp(h, 0, 100) / 100 * 65535))
	first, second := traw, hraw
	if s.rhFirst {
		first, second = hraw, traw
	}
	r[0], r[1] = byte(first>>8), byte(first)
	r[2] = sensirionCRC(r[0:2])
	r[3], r[4] = byte(second>>8), byte(second)
	r[5] = sensirionCRC(r[3:5])
	return nil
}

// sensirionCRC is CRC-8, polynomial 0x31, init 0xFF.
func sensirionCRC(b []byte) byte {
	crc := byte(0xFF)
	for _, v := range b {
		crc ^= v
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
