// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// mcp23017-monitor watches input pins of an MCP23017 I²C port expander and
// logs every level change until it is interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/mcp23017"
)

const projectName = "MCP23017 pin monitor"

var (
	projectVersion = "dev"
	projectBuild   = "dev"
)

var allPins = []string{
	"A0", "A1", "A2", "A3", "A4", "A5", "A6", "A7",
	"B0", "B1", "B2", "B3", "B4", "B5", "B6", "B7",
}

func main() {
	var levelFlag string
	var busName string
	var address uint16
	var pinNames []string
	var interval time.Duration
	var snapshot time.Duration
	var pullUp bool

	pflag.StringVarP(&levelFlag, "level", "l", "debug", "Set log level")
	pflag.StringVarP(&busName, "bus", "b", "", "I²C bus to use, empty for the first available")
	pflag.Uint16VarP(&address, "address", "a", mcp23017.DefaultAddress, "I²C address of the expander (0x20-0x27)")
	pflag.StringSliceVarP(&pinNames, "pins", "p", []string{"all"}, "Pins to watch (A0..A7, B0..B7 or all)")
	pflag.DurationVarP(&interval, "interval", "i", 10*time.Millisecond, "Pause between two interrupt scans")
	pflag.DurationVarP(&snapshot, "snapshot", "s", 0, "Log a snapshot of all watched pins this often, 0 to disable")
	pflag.BoolVar(&pullUp, "pullup", false, "Enable the internal pull-up on the watched pins")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(levelFlag)
	if err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	}
	logger = logger.Level(lvl)

	if _, err := host.Init(); err != nil {
		Exitf("Failed to initialize periph: %v\n", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		Exitf("Failed to open I²C bus: %v\n", err)
	}
	dev, err := mcp23017.NewI2C(bus, address, &mcp23017.Opts{PollInterval: interval})
	if err != nil {
		Exitf("Failed to initialize MCP23017: %v\n", err)
	}

	pull := gpio.Float
	if pullUp {
		pull = gpio.PullUp
	}
	pins, err := openPins(dev, pinNames)
	if err != nil {
		Exitf("Failed to open pins: %v\n", err)
	}
	for _, p := range pins {
		if err := p.In(pull, gpio.BothEdges); err != nil {
			Exitf("Failed to configure %s: %v\n", p, err)
		}
		p.RegisterCallback(func(p *mcp23017.Pin, l gpio.Level) {
			logger.Info().Str("pin", p.Name()).Str("level", l.String()).Msg("edge")
		})
		logger.Debug().Str("pin", p.Name()).Msg("watching")
	}

	// Prepare to shutdown in a controlled manner
	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return dev.Close()
	})
	if snapshot > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(snapshot)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					logSnapshot(logger, pins)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		Exitf("Monitor run failed: %#v", err)
	}
}

// openPins resolves the --pins flag, expanding "all" to the full pin set.
func openPins(dev *mcp23017.Dev, names []string) ([]*mcp23017.Pin, error) {
	if len(names) == 1 && strings.EqualFold(names[0], "all") {
		names = allPins
	}
	pins := make([]*mcp23017.Pin, 0, len(names))
	for _, name := range names {
		p, err := dev.OpenPin(strings.ToUpper(name))
		if err != nil {
			return nil, err
		}
		pins = append(pins, p)
	}
	return pins, nil
}

func logSnapshot(logger zerolog.Logger, pins []*mcp23017.Pin) {
	e := logger.Info()
	for _, p := range pins {
		l, err := p.ReadValue()
		if err != nil {
			logger.Warn().Err(err).Str("pin", p.Name()).Msg("read failed")
			continue
		}
		e = e.Str(p.Name(), l.String())
	}
	e.Msg("snapshot")
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
