// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp23017

import (
	"errors"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// Callback is invoked from the polling goroutine when interrupt-on-change
// fires for the pin it is registered on. level is the pin state observed in
// the same poll cycle. The loop does not scan again until every callback of
// the cycle has returned, so callbacks must not block. Calling Close or Halt
// on the device from inside a callback deadlocks.
type Callback func(p *Pin, level gpio.Level)

// callback boxes a Callback so a registration can later be released by
// identity. Function values themselves are not comparable.
type callback struct {
	fn Callback
}

// Pin is a single expander pin. Instances are obtained from Dev.OpenPin and
// handed back with Close. A Pin remains bound to its name; the chip side
// keeps whatever configuration the last operation set.
type Pin struct {
	id     string
	number int
	bank   uint8
	mask   uint8
	regs   *registerSet
	dev    *Dev

	// done is closed when this handle is closed, unblocking WaitForEdge.
	done chan struct{}

	// Guarded by dev.mu.
	edge gpio.Edge
	cbs  []*callback
}

func (p *Pin) String() string {
	return p.Name()
}

// Halt reverts the pin to a high impedance input with edge detection off.
func (p *Pin) Halt() error {
	return p.In(gpio.Float, gpio.NoEdge)
}

func (p *Pin) Name() string {
	return p.dev.name + "_" + p.id
}

func (p *Pin) Number() int {
	return p.number
}

func (p *Pin) Function() string {
	return string(p.Func())
}

// In configures the pin as an input. The chip only has internal pull-ups, so
// gpio.PullDown is rejected. Any edge other than gpio.NoEdge arms
// interrupt-on-change detection for the pin; changes are then picked up by
// the device poll loop and delivered to registered callbacks and WaitForEdge.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull == gpio.PullDown {
		return errors.New("mcp23017: PullDown is not supported")
	}
	if err := p.dev.setDirection(p, dirIn); err != nil {
		return err
	}
	if err := p.dev.setPullUp(p, pull); err != nil {
		return err
	}
	return p.dev.setEdge(p, edge)
}

// Read returns the current pin state. Errors are logged and read as
// gpio.Low; use ReadValue when the transport error matters.
func (p *Pin) Read() gpio.Level {
	l, err := p.ReadValue()
	if err != nil {
		log.Println(err)
	}
	return l
}

// ReadValue returns the current pin state from the port register.
func (p *Pin) ReadValue() (gpio.Level, error) {
	return p.dev.getValue(p)
}

// WaitForEdge blocks until the poll loop reports an interrupt for this pin,
// the timeout expires, or the pin or device is closed. A negative timeout
// waits forever. Returns true only for a detected edge. The pin must have
// been configured with an edge via In or SetEdge for this to ever fire.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	ch := make(chan gpio.Level, 1)
	release := p.RegisterCallback(func(_ *Pin, l gpio.Level) {
		select {
		case ch <- l:
		default:
		}
	})
	defer release()
	if timeout < 0 {
		select {
		case <-ch:
			return true
		case <-p.done:
			return false
		case <-p.dev.done:
			return false
		}
	}
	select {
	case <-ch:
		return true
	case <-p.done:
		return false
	case <-p.dev.done:
		return false
	case <-time.After(timeout):
		return false
	}
}

// Pull reports whether the internal pull-up is enabled. The chip has no
// pull-downs. gpio.PullNoChange is returned when the register read fails.
func (p *Pin) Pull() gpio.Pull {
	v, err := p.dev.getBit(p.regs.gppu, p.mask)
	if err != nil {
		return gpio.PullNoChange
	}
	if v {
		return gpio.PullUp
	}
	return gpio.Float
}

func (p *Pin) DefaultPull() gpio.Pull {
	return gpio.Float
}

// Out configures the pin as an output driving the given level. The direction
// register is written before the port register so the pin never drives a
// stale level.
func (p *Pin) Out(l gpio.Level) error {
	if l == gpio.High {
		return p.dev.setDirection(p, dirOutHigh)
	}
	return p.dev.setDirection(p, dirOutLow)
}

// SetValue changes the level of a pin that is already configured as an
// output, without touching the direction register.
func (p *Pin) SetValue(l gpio.Level) error {
	return p.dev.setValue(p, l)
}

func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return errors.New("mcp23017: PWM is not supported")
}

func (p *Pin) Func() pin.Func {
	v, err := p.dev.getBit(p.regs.iodir, p.mask)
	if err != nil {
		return pin.FuncNone
	}
	if v {
		return gpio.IN
	}
	return gpio.OUT
}

func (p *Pin) SupportedFuncs() []pin.Func {
	return supportedFuncs[:]
}

func (p *Pin) SetFunc(f pin.Func) error {
	switch f {
	case gpio.IN:
		return p.dev.setDirection(p, dirIn)
	case gpio.OUT:
		return p.dev.setDirection(p, dirOutLow)
	default:
		return errors.New("mcp23017: Function not supported: " + string(f))
	}
}

// SetPolarityInverted controls the input polarity register. When inverted,
// the port register reports the opposite of the pin's electrical state.
func (p *Pin) SetPolarityInverted(inverted bool) error {
	return p.dev.setActiveType(p, inverted)
}

// IsPolarityInverted returns whether the pin reads inverted.
func (p *Pin) IsPolarityInverted() (bool, error) {
	return p.dev.getBit(p.regs.ipol, p.mask)
}

// SetEdge changes the interrupt-on-change trigger without reconfiguring
// direction or pull-up. gpio.NoEdge disarms detection for the pin.
func (p *Pin) SetEdge(edge gpio.Edge) error {
	return p.dev.setEdge(p, edge)
}

// RegisterCallback adds cb to the pin's interrupt callbacks and returns a
// function that removes it again. Callbacks run on the polling goroutine in
// registration order, each time the pin's level is seen to have changed
// while its interrupt flag was raised.
func (p *Pin) RegisterCallback(cb Callback) (release func()) {
	box := &callback{fn: cb}
	p.dev.mu.Lock()
	p.cbs = append(p.cbs, box)
	p.dev.mu.Unlock()
	return func() { p.releaseCallback(box) }
}

func (p *Pin) releaseCallback(box *callback) {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	for i, b := range p.cbs {
		if b == box {
			p.cbs = append(p.cbs[:i], p.cbs[i+1:]...)
			return
		}
	}
}

// dispatch runs the registered callbacks outside the device lock. The list
// is copied first so a callback may register or release callbacks.
func (p *Pin) dispatch(l gpio.Level) {
	p.dev.mu.Lock()
	cbs := make([]*callback, len(p.cbs))
	copy(cbs, p.cbs)
	p.dev.mu.Unlock()
	for _, b := range cbs {
		b.fn(p, l)
	}
}

// Close releases the pin so its name can be opened again. If the pin had an
// edge trigger armed, its interrupt enable bit is cleared first.
func (p *Pin) Close() error {
	return p.dev.closePin(p)
}

var supportedFuncs = [...]pin.Func{gpio.IN, gpio.OUT}

var _ gpio.PinIO = &Pin{}
var _ pin.PinFunc = &Pin{}
