// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp23017

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
)

// DefaultAddress is the I2C address of the chip with all three address pins
// tied to ground.
const DefaultAddress uint16 = 0x20

// Errors callers may test for with errors.Is.
var (
	// ErrPinBusy is returned by OpenPin while another handle holds the pin.
	ErrPinBusy = errors.New("mcp23017: pin is already in use")
	// ErrUnknownPin is returned by OpenPin for names outside A0..A7, B0..B7.
	ErrUnknownPin = errors.New("mcp23017: unknown pin")
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("mcp23017: device is closed")
)

// Opts holds the configuration options for the device.
type Opts struct {
	// PollInterval is the pause between two interrupt scans of the input
	// pins. Leave 0 to use the default of 10ms.
	PollInterval time.Duration
}

// DefaultOpts holds the default configuration options for the device.
var DefaultOpts = Opts{
	PollInterval: 10 * time.Millisecond,
}

// direction is the target configuration of setDirection. Output pins commit
// their initial level in the same register sequence.
type direction int

const (
	dirIn direction = iota
	dirOutHigh
	dirOutLow
)

// Dev is a handle to an MCP23017 expander and the poll loop watching its
// input pins.
type Dev struct {
	c    *i2c.Dev
	bus  i2c.Bus
	name string

	// halt is closed to stop the poll loop, done is closed by the loop on
	// the way out. Both are created once and never replaced.
	halt chan struct{}
	done chan struct{}

	mu       sync.Mutex
	latch    [2]uint8 // last level set or observed per bank, one bit per pin
	pins     map[string]*Pin
	inputs   []*Pin // input pins in pin number order, scanned by the loop
	interval time.Duration
	halted   bool
	closed   bool
}

// NewI2C returns a handle to an MCP23017 expander on the given bus.
//
// addr is one of the eight addresses 0x20 to 0x27 selected by the chip's
// three address pins. opts may be nil for the defaults. The device is reset
// to all sixteen pins output low with polarity inversion, pull-ups and
// interrupt detection disabled, then the poll loop is started.
//
// The device takes ownership of bus: when bus also implements io.Closer, it
// is closed exactly once by Close.
func NewI2C(bus i2c.Bus, addr uint16, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	if addr&^0x07 != DefaultAddress {
		return nil, fmt.Errorf("mcp23017: unsupported address 0x%02x, the chip decodes 0x20 to 0x27", addr)
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultOpts.PollInterval
	}
	d := &Dev{
		c:        &i2c.Dev{Bus: bus, Addr: addr},
		bus:      bus,
		name:     "MCP23017_" + strconv.FormatInt(int64(addr), 16),
		halt:     make(chan struct{}),
		done:     make(chan struct{}),
		pins:     map[string]*Pin{},
		interval: interval,
	}
	if err := d.initRegisters(); err != nil {
		return nil, err
	}
	go d.poll()
	return d, nil
}

func (d *Dev) String() string {
	return d.name
}

// SetPollingInterval changes the pause between interrupt scans. The poll
// loop picks it up at its next wakeup; it is not restarted.
func (d *Dev) SetPollingInterval(interval time.Duration) {
	d.mu.Lock()
	d.interval = interval
	d.mu.Unlock()
}

// OpenPin returns a handle to one of the sixteen pins, named "A0" through
// "A7" and "B0" through "B7". Each pin can be held by one handle at a time;
// opening a pin again before its handle was closed fails with ErrPinBusy.
// The new handle is also registered with gpioreg under its full name, for
// example "MCP23017_20_A0".
func (d *Dev) OpenPin(name string) (*Pin, error) {
	loc, ok := pinTable[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPin, name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if _, ok := d.pins[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPinBusy, name)
	}
	p := &Pin{
		id:     name,
		number: int(loc.bank)*8 + int(loc.bit),
		bank:   loc.bank,
		mask:   1 << loc.bit,
		regs:   &bankRegisters[loc.bank],
		dev:    d,
		done:   make(chan struct{}),
		edge:   gpio.NoEdge,
	}
	d.pins[name] = p
	// Ignore registration failure.
	_ = gpioreg.Register(p)
	return p, nil
}

// Halt stops the poll loop and waits for it to exit. Pins and the bus stay
// usable for direct register access. The loop cannot be restarted; open a
// new device to poll again. Implements conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	if !d.halted {
		d.halted = true
		close(d.halt)
	}
	d.mu.Unlock()
	<-d.done
	return nil
}

// Close stops the poll loop, closes every open pin and finally closes the
// bus if the device owns a closeable bus handle. Once the loop has been
// joined no further register access happens behind the caller's back.
// Calling Close again is harmless; the bus is closed exactly once. A pin
// that fails to close is logged and does not keep the others from closing.
func (d *Dev) Close() error {
	if err := d.Halt(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	open := make([]*Pin, 0, len(d.pins))
	for _, p := range d.pins {
		open = append(open, p)
	}
	d.mu.Unlock()
	sort.Slice(open, func(i, j int) bool { return open[i].number < open[j].number })
	for _, p := range open {
		if err := p.Close(); err != nil {
			log.Printf("failed to close %s: %v", p.Name(), err)
		}
	}
	if c, ok := d.bus.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// initRegisters resets the chip to the driver's baseline: every pin output
// low, polarity normal, pull-ups off, interrupt detection disarmed.
func (d *Dev) initRegisters() error {
	a := &bankRegisters[0]
	b := &bankRegisters[1]
	for _, reg := range [...]uint8{
		a.iodir, b.iodir,
		a.ipol, b.ipol,
		a.gppu, b.gppu,
		a.gpio, b.gpio,
		a.gpinten, b.gpinten,
		a.intcon, b.intcon,
		a.defval, b.defval,
	} {
		if err := d.writeReg(reg, 0x00); err != nil {
			return err
		}
	}
	return nil
}

// poll is the interrupt loop. Every interval it scans the input pins and
// dispatches callbacks for pins whose level changed. The interval is read
// fresh each cycle so SetPollingInterval needs no restart.
func (d *Dev) poll() {
	defer close(d.done)
	for {
		d.mu.Lock()
		interval := d.interval
		d.mu.Unlock()
		select {
		case <-d.halt:
			return
		case <-time.After(interval):
		}
		d.scan()
	}
}

// scan runs one pass over the input pins. A read failure counts as "not
// interrupted" for that pin and pass, so a transient bus error never stops
// the poll loop.
func (d *Dev) scan() {
	for _, p := range d.inputPins() {
		fired, level, err := d.isInterrupted(p)
		if err != nil || !fired {
			continue
		}
		p.dispatch(level)
	}
}

// setDirection reconfigures p as input or output. The direction register is
// written before the port register so a pin switching to output does not
// drive a stale level. Both registers are written even when only one
// changed, keeping the transaction sequence uniform.
func (d *Dev) setDirection(p *Pin, dir direction) error {
	iodir, err := d.readReg(p.regs.iodir)
	if err != nil {
		return err
	}
	state, err := d.readReg(p.regs.gpio)
	if err != nil {
		return err
	}
	switch dir {
	case dirIn:
		iodir |= p.mask
		d.trackInput(p, true)
	case dirOutHigh:
		iodir &= ^p.mask
		state |= p.mask
		d.trackInput(p, false)
	case dirOutLow:
		iodir &= ^p.mask
		state &= ^p.mask
		d.trackInput(p, false)
	default:
		return fmt.Errorf("mcp23017: unknown direction %d", dir)
	}
	if err := d.writeReg(p.regs.iodir, iodir); err != nil {
		return err
	}
	return d.writeReg(p.regs.gpio, state)
}

// setValue drives an output pin. The pin's bit in the latch shadow follows
// the level so the poll loop's change detection stays in sync.
func (d *Dev) setValue(p *Pin, l gpio.Level) error {
	state, err := d.readReg(p.regs.gpio)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if l {
		state |= p.mask
		d.latch[p.bank] |= p.mask
	} else {
		state &= ^p.mask
		d.latch[p.bank] &= ^p.mask
	}
	d.mu.Unlock()
	return d.writeReg(p.regs.gpio, state)
}

// getValue reads the pin's current level straight from the port register.
func (d *Dev) getValue(p *Pin) (gpio.Level, error) {
	state, err := d.readReg(p.regs.gpio)
	if err != nil {
		return gpio.Low, err
	}
	return gpio.Level(state&p.mask != 0), nil
}

func (d *Dev) setActiveType(p *Pin, inverted bool) error {
	return d.setBit(p.regs.ipol, p.mask, inverted)
}

// setEdge arms or disarms interrupt-on-change for p. The interrupt enable
// register is written last so detection only goes live once the comparison
// mode is consistent.
func (d *Dev) setEdge(p *Pin, edge gpio.Edge) error {
	gpinten, err := d.readReg(p.regs.gpinten)
	if err != nil {
		return err
	}
	switch edge {
	case gpio.NoEdge:
		gpinten &= ^p.mask
	case gpio.RisingEdge:
		// Compare against a default of 0 so a rise to 1 raises the flag.
		gpinten |= p.mask
		if err := d.setBit(p.regs.defval, p.mask, false); err != nil {
			return err
		}
		if err := d.setBit(p.regs.intcon, p.mask, true); err != nil {
			return err
		}
	case gpio.FallingEdge:
		// Compare against a default of 1 so a drop to 0 raises the flag.
		gpinten |= p.mask
		if err := d.setBit(p.regs.defval, p.mask, true); err != nil {
			return err
		}
		if err := d.setBit(p.regs.intcon, p.mask, true); err != nil {
			return err
		}
	case gpio.BothEdges:
		// Compare against the previous value, any change raises the flag.
		gpinten |= p.mask
		if err := d.setBit(p.regs.intcon, p.mask, false); err != nil {
			return err
		}
	default:
		return fmt.Errorf("mcp23017: unknown edge %s", edge)
	}
	if err := d.writeReg(p.regs.gpinten, gpinten); err != nil {
		return err
	}
	d.mu.Lock()
	p.edge = edge
	d.mu.Unlock()
	return nil
}

// setPullUp drives the pull-up enable bit for p. The chip has no pull-downs
// and gpio.PullNoChange leaves the register untouched.
func (d *Dev) setPullUp(p *Pin, pull gpio.Pull) error {
	switch pull {
	case gpio.PullUp:
		return d.setBit(p.regs.gppu, p.mask, true)
	case gpio.Float:
		return d.setBit(p.regs.gppu, p.mask, false)
	case gpio.PullNoChange:
		return nil
	default:
		return fmt.Errorf("mcp23017: pull %s is not supported", pull)
	}
}

// isInterrupted reports whether p's level changed since it was last
// recorded. The interrupt flag register is read first and a zero byte ends
// the check without touching the port register. When any flag in the bank
// is raised the pin's level is compared against the latch shadow and the
// shadow moves to the observed level, so one level change reports true
// exactly once.
func (d *Dev) isInterrupted(p *Pin) (bool, gpio.Level, error) {
	flags, err := d.readReg(p.regs.intf)
	if err != nil {
		return false, gpio.Low, err
	}
	if flags == 0 {
		return false, gpio.Low, nil
	}
	state, err := d.readReg(p.regs.gpio)
	if err != nil {
		return false, gpio.Low, err
	}
	current := state&p.mask != 0
	d.mu.Lock()
	previous := d.latch[p.bank]&p.mask != 0
	if current {
		d.latch[p.bank] |= p.mask
	} else {
		d.latch[p.bank] &= ^p.mask
	}
	d.mu.Unlock()
	return current != previous, gpio.Level(current), nil
}

// closePin releases p so its name can be opened again. A pin that still has
// an edge trigger armed gets its interrupt enable bit cleared first, so the
// flag source does not outlive the handle.
func (d *Dev) closePin(p *Pin) error {
	d.mu.Lock()
	if d.pins[p.id] != p {
		d.mu.Unlock()
		return nil
	}
	delete(d.pins, p.id)
	d.dropInput(p)
	hadEdge := p.edge != gpio.NoEdge
	p.edge = gpio.NoEdge
	p.cbs = nil
	close(p.done)
	d.mu.Unlock()
	_ = gpioreg.Unregister(p.Name())
	if hadEdge {
		return d.setBit(p.regs.gpinten, p.mask, false)
	}
	return nil
}

// trackInput adds or removes p from the set scanned by the poll loop.
func (d *Dev) trackInput(p *Pin, input bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if input {
		d.addInput(p)
	} else {
		d.dropInput(p)
	}
}

// addInput inserts p in pin number order. The caller holds d.mu.
func (d *Dev) addInput(p *Pin) {
	for _, q := range d.inputs {
		if q == p {
			return
		}
	}
	i := sort.Search(len(d.inputs), func(i int) bool { return d.inputs[i].number >= p.number })
	d.inputs = append(d.inputs, nil)
	copy(d.inputs[i+1:], d.inputs[i:])
	d.inputs[i] = p
}

// dropInput removes p if present. The caller holds d.mu.
func (d *Dev) dropInput(p *Pin) {
	for i, q := range d.inputs {
		if q == p {
			d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
			return
		}
	}
}

// inputPins returns a copy of the input pin set so the poll loop iterates
// without holding the lock.
func (d *Dev) inputPins() []*Pin {
	d.mu.Lock()
	defer d.mu.Unlock()
	pins := make([]*Pin, len(d.inputs))
	copy(pins, d.inputs)
	return pins
}

var _ conn.Resource = &Dev{}
