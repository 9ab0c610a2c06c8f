// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mcp23017_test

import (
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/mcp23017"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	// Open default I²C bus.
	bus, err := i2creg.Open("")
	if err != nil {
		log.Fatalf("failed to open I²C: %v", err)
	}

	// Create a new I2C IO extender. The device takes ownership of the bus.
	d, err := mcp23017.NewI2C(bus, mcp23017.DefaultAddress, nil)
	if err != nil {
		log.Fatalln(err)
	}
	defer d.Close()

	// Drive a relay from port B.
	relay, err := d.OpenPin("B0")
	if err != nil {
		log.Fatalln(err)
	}
	if err := relay.Out(gpio.High); err != nil {
		log.Fatalln(err)
	}

	// Watch a push button on port A. The poll loop reports each press
	// through the callback.
	button, err := d.OpenPin("A0")
	if err != nil {
		log.Fatalln(err)
	}
	if err := button.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		log.Fatalln(err)
	}
	release := button.RegisterCallback(func(p *mcp23017.Pin, l gpio.Level) {
		fmt.Printf("%s: %s\n", p, l)
	})
	defer release()

	// Wait up to a minute for the first press.
	if !button.WaitForEdge(time.Minute) {
		fmt.Println("no button press seen")
	}
}
