// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mcp23017 provides a driver for the Microchip MCP23017 16-bit I²C
// GPIO expander.
//
// The expander exposes sixteen digital pins, split into two 8-bit banks named
// A and B. Each pin can be configured independently for direction, input
// polarity, pull-up and interrupt-on-change detection. Pins are opened by
// name ("A0" through "A7", "B0" through "B7") and implement gpio.PinIO, so
// they can be used wherever a host GPIO pin would be.
//
// The chip signals interrupt-on-change through its INTA/INTB lines, but those
// lines are not reachable over the I²C bus. The driver instead runs a
// background poll loop that reads the interrupt flag registers and compares
// the port state against a latch kept in memory, invoking the callbacks
// registered on each input pin when its level changed. The polling interval
// defaults to 10ms and can be changed at runtime.
//
// The device is addressable from 0x20 to 0x27 depending on the wiring of its
// A0..A2 address pins.
//
// # Datasheet
//
// https://ww1.microchip.com/downloads/en/DeviceDoc/20001952C.pdf
package mcp23017
