// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp23017

import "fmt"

// registerSet holds the addresses of the eight registers controlling one
// bank of the expander, using the BANK=0 addressing scheme the chip powers
// up with (registers of the two banks interleaved).
type registerSet struct {
	iodir   uint8 // direction, 1 = input
	ipol    uint8 // input polarity, 1 = inverted
	gpinten uint8 // interrupt-on-change enable
	defval  uint8 // default compare value for interrupts
	intcon  uint8 // interrupt control, 1 = compare against defval
	gppu    uint8 // pull-up enable, 1 = 100kOhm pull-up active
	intf    uint8 // interrupt flag, read-only
	gpio    uint8 // port state
}

var bankRegisters = [2]registerSet{
	{iodir: 0x00, ipol: 0x02, gpinten: 0x04, defval: 0x06, intcon: 0x08, gppu: 0x0c, intf: 0x0e, gpio: 0x12},
	{iodir: 0x01, ipol: 0x03, gpinten: 0x05, defval: 0x07, intcon: 0x09, gppu: 0x0d, intf: 0x0f, gpio: 0x13},
}

// pinLocation ties a pin name to its bank and bit position. The full pin
// table is fixed by the chip package, eight pins per bank.
type pinLocation struct {
	bank uint8
	bit  uint8
}

var pinTable = map[string]pinLocation{
	"A0": {bank: 0, bit: 0},
	"A1": {bank: 0, bit: 1},
	"A2": {bank: 0, bit: 2},
	"A3": {bank: 0, bit: 3},
	"A4": {bank: 0, bit: 4},
	"A5": {bank: 0, bit: 5},
	"A6": {bank: 0, bit: 6},
	"A7": {bank: 0, bit: 7},
	"B0": {bank: 1, bit: 0},
	"B1": {bank: 1, bit: 1},
	"B2": {bank: 1, bit: 2},
	"B3": {bank: 1, bit: 3},
	"B4": {bank: 1, bit: 4},
	"B5": {bank: 1, bit: 5},
	"B6": {bank: 1, bit: 6},
	"B7": {bank: 1, bit: 7},
}

func (d *Dev) readReg(address uint8) (uint8, error) {
	rx := make([]byte, 1)
	if err := d.c.Tx([]byte{address}, rx); err != nil {
		return 0, fmt.Errorf("mcp23017: %w", err)
	}
	return rx[0], nil
}

func (d *Dev) writeReg(address uint8, value uint8) error {
	if err := d.c.Tx([]byte{address, value}, nil); err != nil {
		return fmt.Errorf("mcp23017: %w", err)
	}
	return nil
}

// setBit reads the register, sets or clears only the bits of mask and writes
// the result back. Configuration registers are always changed through this
// sequence so unrelated bits survive untouched.
func (d *Dev) setBit(address uint8, mask uint8, value bool) error {
	v, err := d.readReg(address)
	if err != nil {
		return err
	}
	if value {
		v |= mask
	} else {
		v &= ^mask
	}
	return d.writeReg(address, v)
}

func (d *Dev) getBit(address uint8, mask uint8) (bool, error) {
	v, err := d.readReg(address)
	return v&mask != 0, err
}
