// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// This package provides a driver for the AOSONG DHT22 (AM2302)
// Temperature/Humidity Sensor. The sensor talks a proprietary single-wire
// protocol, unrelated to Dallas 1-wire, where bits are encoded in the width
// of high pulses. The driver generates and samples it in software on a GPIO.
//
// # Datasheet
//
// https://cdn-shop.adafruit.com/datasheets/Digital+humidity+and+temperature+sensor+AM2302.pdf
package dht22

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/towersense/bitbang"
	"github.com/GermanBionicSystems/towersense/common"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// Pull is applied when the line is released. Modules usually carry their
	// own pull-up resistor, in which case use gpio.Float.
	Pull gpio.Pull
	// Clock performs the microsecond delays. Leave nil for bitbang.Spin.
	Clock bitbang.Clock
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Pull: gpio.Float,
}

// MinInterval is the time the sensor needs between two measurements.
const MinInterval = 2 * time.Second

// Timings in microseconds. Polling budgets count 1µs polls.
const (
	tStartLow  = 20000 // host start signal
	tStartHigh = 40    // host release before switching to input

	syncBudget     = 100 // each of the three response preamble phases
	bitStartBudget = 100 // low gap before each data bit
	pulseBudget    = 100 // high pulse carrying the bit
	oneThreshold   = 40  // high pulses longer than this are a 1
)

// Reading is one decoded measurement.
type Reading struct {
	Temperature physic.Temperature
	Humidity    physic.RelativeHumidity
}

func (r Reading) String() string {
	return fmt.Sprintf("%s %s", r.Temperature, r.Humidity)
}

// Dev represents a DHT22 temperature/humidity sensor.
type Dev struct {
	line     bitbang.Line
	clock    bitbang.Clock
	mu       sync.Mutex
	shutdown chan struct{}
}

// New returns a DHT22 on pin. The pin is released so the line idles high.
func New(pin gpio.PinIO, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{line: bitbang.Line{Pin: pin, Pull: opts.Pull}, clock: opts.Clock}
	if d.clock == nil {
		d.clock = bitbang.Spin
	}
	if err := d.line.Release(); err != nil {
		return nil, fmt.Errorf("dht22: %w", err)
	}
	return d, nil
}

// Halt interrupts a running SenseContinuous() operation.
func (dev *Dev) Halt() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.shutdown != nil {
		close(dev.shutdown)
		dev.shutdown = nil
	}
	return nil
}

// Read performs a complete exchange with the sensor and returns the decoded
// measurement.
//
// Every call sends a new start signal. The sensor must not be read more than
// once every MinInterval; Read does not enforce it.
//
// A sensor that does not answer the start signal yields an error matching
// common.ErrNoDevice, a line that stops toggling mid-frame
// common.ErrBusTimeout and a bad checksum common.ErrCorruptFrame.
func (dev *Dev) Read() (Reading, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	frame, err := dev.readFrame()
	if err != nil {
		return Reading{}, err
	}
	return Decode(frame)
}

// Decode validates and decodes a 5 byte frame: humidity and temperature, big
// endian in tenths, then the low byte of the sum of the first four bytes.
//
// The temperature is sign-magnitude: bit 15 is the sign.
func Decode(frame [5]byte) (Reading, error) {
	if sum := common.Sum8(frame[:4]); sum != frame[4] {
		return Reading{}, fmt.Errorf("dht22: checksum %#02x, expected %#02x: %w", frame[4], sum, common.ErrCorruptFrame)
	}
	h := uint16(frame[0])<<8 | uint16(frame[1])
	raw := uint16(frame[2])<<8 | uint16(frame[3])
	t := physic.Temperature(raw & 0x7fff)
	if raw&0x8000 != 0 {
		t = -t
	}
	return Reading{
		Temperature: physic.ZeroCelsius + (physic.Celsius/10)*t,
		Humidity:    physic.RelativeHumidity(h) * physic.MilliRH,
	}, nil
}

// readFrame sends the start signal and samples the 40 bits of the answer.
func (dev *Dev) readFrame() ([5]byte, error) {
	var frame [5]byte
	if err := dev.line.Drive(gpio.Low); err != nil {
		return frame, fmt.Errorf("dht22: %w", err)
	}
	dev.clock.Delay(tStartLow)
	if err := dev.line.Drive(gpio.High); err != nil {
		return frame, fmt.Errorf("dht22: %w", err)
	}
	dev.clock.Delay(tStartHigh)
	if err := dev.line.Release(); err != nil {
		return frame, fmt.Errorf("dht22: %w", err)
	}

	// The sensor pulls the line low 80µs then high 80µs, then starts the
	// first bit with a low gap.
	preamble := []struct {
		phase string
		level gpio.Level
	}{
		{"response start", gpio.High},
		{"response low", gpio.Low},
		{"response high", gpio.High},
	}
	for _, p := range preamble {
		if _, ok := bitbang.WaitWhile(&dev.line, dev.clock, p.level, syncBudget); !ok {
			return frame, fmt.Errorf("dht22: %w", &common.TimeoutError{Phase: p.phase, Bit: -1, Sync: true})
		}
	}

	for i := range 8 * len(frame) {
		if _, ok := bitbang.WaitWhile(&dev.line, dev.clock, gpio.Low, bitStartBudget); !ok {
			return frame, fmt.Errorf("dht22: %w", &common.TimeoutError{Phase: "low gap", Bit: i})
		}
		n, ok := bitbang.WaitWhile(&dev.line, dev.clock, gpio.High, pulseBudget)
		if !ok {
			return frame, fmt.Errorf("dht22: %w", &common.TimeoutError{Phase: "high pulse", Bit: i})
		}
		frame[i/8] <<= 1
		if n > oneThreshold {
			frame[i/8] |= 1
		}
	}
	return frame, nil
}

// Sense queries the sensor for the current temperature and humidity.
func (dev *Dev) Sense(env *physic.Env) error {
	env.Temperature = 0
	env.Pressure = 0
	env.Humidity = 0

	r, err := dev.Read()
	if err != nil {
		return err
	}
	env.Temperature = r.Temperature
	env.Humidity = r.Humidity
	return nil
}

// SenseContinuous returns a channel that can be read to return values from
// the sensor. The minimum value for interval is MinInterval. Failed reads
// are skipped. To end the read, call Halt()
func (dev *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if interval < MinInterval {
		return nil, errors.New("dht22: invalid duration. minimum 2 seconds")
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.shutdown != nil {
		return nil, errors.New("dht22: sense continuous already running")
	}

	stop := make(chan struct{})
	dev.shutdown = stop
	ch := make(chan physic.Env, 16)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(ch)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				e := physic.Env{}
				if err := dev.Sense(&e); err == nil {
					select {
					case ch <- e:
					case <-stop:
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

func (dev *Dev) String() string {
	return fmt.Sprintf("DHT22{%s}", &dev.line)
}

// Precision returns the resolution of the device for it's measured parameters.
func (dev *Dev) Precision(env *physic.Env) {
	env.Temperature = physic.Celsius / 10
	env.Pressure = 0
	env.Humidity = physic.MilliRH
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
