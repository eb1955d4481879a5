// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bitbang contains the timing and pin primitives shared by the
// drivers that implement serial protocols directly on GPIO pins.
//
// A protocol driver only ever switches a pin between output and input, drives
// a level, samples a level and waits a number of microseconds. Everything
// else is protocol logic and lives in the driver packages, which makes those
// drivers testable against a simulated pin (see package bitbangtest).
//
// The drivers assume the goroutine is not preempted for longer than the
// smallest timing tolerance of the protocol, a few microseconds. Callers
// should call runtime.LockOSThread and run the process with real-time
// priority when reliability matters.
package bitbang

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Clock blocks the calling goroutine for a number of microseconds.
type Clock interface {
	Delay(us int)
}

// Spin is the Clock used on real hardware. It busy-waits on the monotonic
// clock; time.Sleep granularity is far too coarse for bit timing.
var Spin Clock = spin{}

type spin struct{}

func (spin) Delay(us int) {
	if us <= 0 {
		return
	}
	end := time.Now().Add(time.Duration(us) * time.Microsecond)
	for time.Now().Before(end) {
	}
}

// Line is a GPIO used as an open-drain data line with an external pull-up.
type Line struct {
	Pin  gpio.PinIO
	Pull gpio.Pull
}

// Drive switches the line to output and drives it at level l.
func (l *Line) Drive(level gpio.Level) error {
	if err := l.Pin.Out(level); err != nil {
		return fmt.Errorf("bitbang: drive %s %s: %w", l.Pin, level, err)
	}
	return nil
}

// Release switches the line to input, letting the pull-up or the device
// determine its level.
func (l *Line) Release() error {
	if err := l.Pin.In(l.Pull, gpio.NoEdge); err != nil {
		return fmt.Errorf("bitbang: release %s: %w", l.Pin, err)
	}
	return nil
}

// Sample returns the current level of the line.
func (l *Line) Sample() gpio.Level {
	return l.Pin.Read()
}

func (l *Line) String() string {
	return l.Pin.String()
}

// WaitWhile polls the line once per microsecond for as long as it reads
// level, at most budget times.
//
// It returns the number of polls that saw level and false if the budget was
// exhausted before the line changed.
func WaitWhile(l *Line, c Clock, level gpio.Level, budget int) (int, bool) {
	n := 0
	for l.Sample() == level {
		if n >= budget {
			return n, false
		}
		c.Delay(1)
		n++
	}
	return n, true
}
