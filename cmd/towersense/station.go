// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/GermanBionicSystems/towersense/dht22"
	"github.com/GermanBionicSystems/towersense/ds1302"
	"github.com/GermanBionicSystems/towersense/ds18b20"
	"github.com/GermanBionicSystems/towersense/onewiregpio"
	"github.com/GermanBionicSystems/towersense/termgauge"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

type hygrometer interface {
	Read() (dht22.Reading, error)
}

type rtc interface {
	Now() (time.Time, error)
	Set(t time.Time) error
}

// station is the set of sensors of one tower.
type station struct {
	temperature func() (physic.Temperature, error)
	climate     hygrometer
	rtc         rtc
	out         io.Writer
	// gauges are nil unless display.color is set.
	water, humidity *termgauge.Dev
	devs            []conn.Resource
}

func lookup(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("no pin %q", name)
	}
	return p, nil
}

// openStation initializes the host and the three drivers.
func openStation(cfg *config, out io.Writer) (*station, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host")
	}
	var pins [5]gpio.PinIO
	for i, name := range []string{cfg.OneWirePin, cfg.DHTPin, cfg.RTCClk, cfg.RTCDat, cfg.RTCCE} {
		p, err := lookup(name)
		if err != nil {
			return nil, err
		}
		pins[i] = p
	}
	return newStation(cfg, pins, out)
}

// newStation opens the drivers on pins: 1-wire, DHT22, then the DS1302 clock,
// data and chip enable lines. On failure the drivers already opened are
// halted.
func newStation(cfg *config, pins [5]gpio.PinIO, out io.Writer) (_ *station, err error) {
	var devs []conn.Resource
	defer func() {
		if err != nil {
			haltAll(devs)
		}
	}()

	bus, err := onewiregpio.New(pins[0], nil)
	if err != nil {
		return nil, errors.Wrap(err, "onewire")
	}
	devs = append(devs, bus)
	climate, err := dht22.New(pins[1], nil)
	if err != nil {
		return nil, errors.Wrap(err, "dht22")
	}
	devs = append(devs, climate)
	clock, err := ds1302.New(pins[2], pins[3], pins[4], nil)
	if err != nil {
		return nil, errors.Wrap(err, "ds1302")
	}
	devs = append(devs, clock)
	if err := clock.Init(); err != nil {
		return nil, errors.Wrap(err, "ds1302")
	}
	log.WithFields(log.Fields{"bus": bus, "climate": climate, "clock": clock}).Debug("station opened")

	s := &station{
		temperature: func() (physic.Temperature, error) {
			if err := ds18b20.RequestConversion(bus); err != nil {
				return 0, err
			}
			time.Sleep(cfg.Wait)
			return ds18b20.ReadTemperature(bus, 0)
		},
		climate: climate,
		rtc:     clock,
		out:     out,
		devs:    devs,
	}
	if cfg.Color {
		s.water = termgauge.New(&termgauge.Opts{X: 20, Min: 0, Max: 40, W: out})
		s.humidity = termgauge.New(&termgauge.Opts{X: 20, Min: 0, Max: 100, W: out})
	}
	return s, nil
}

func (s *station) halt() {
	haltAll(s.devs)
}

// haltAll halts every device, logging the ones that fail.
func haltAll(devs []conn.Resource) {
	for _, d := range devs {
		if err := d.Halt(); err != nil {
			log.WithError(err).WithField("dev", d).Warn("halt failed")
		}
	}
}

func (s *station) printTemperature() error {
	t, err := s.temperature()
	if err != nil {
		return errors.Wrap(err, "temperature")
	}
	if s.water != nil {
		if err := s.water.Temperature(t); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(s.out, "water %s\n", t)
	return err
}

func (s *station) printClimate() error {
	r, err := s.climate.Read()
	if err != nil {
		return errors.Wrap(err, "climate")
	}
	if s.humidity != nil {
		if err := s.humidity.Humidity(r.Humidity); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(s.out, "air %s humidity %s\n", r.Temperature, r.Humidity)
	return err
}

// sample reads the clock, the water thermometer and the air sensor, in that
// order. A failed sensor is printed as n/a and does not stop the others.
func (s *station) sample() (string, error) {
	var result *multierror.Error
	parts := make([]string, 0, 4)

	if now, err := s.rtc.Now(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "clock"))
		parts = append(parts, "time=n/a")
	} else {
		parts = append(parts, "time="+now.Format(time.RFC3339))
	}

	if t, err := s.temperature(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "temperature"))
		parts = append(parts, "water=n/a")
	} else {
		parts = append(parts, "water="+t.String())
	}

	if r, err := s.climate.Read(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "climate"))
		parts = append(parts, "air=n/a", "humidity=n/a")
	} else {
		parts = append(parts, "air="+r.Temperature.String(), "humidity="+r.Humidity.String())
	}
	return strings.Join(parts, " "), result.ErrorOrNil()
}

// seedTime returns the time to seed the clock with: the build timestamp if
// one was linked in, else now().
func seedTime(build string, now func() time.Time) (time.Time, string, error) {
	if build == "" {
		return now(), "host clock", nil
	}
	t, err := time.Parse(time.RFC3339, build)
	if err != nil {
		return time.Time{}, "", errors.Wrap(err, "build time")
	}
	return t, "build time", nil
}
