// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package termgauge renders sensor readings as a bar of coloured blocks on a
// terminal using ANSI 256 colour codes.
//
// Dev is a 1D display.Drawer, so anything that draws on a LED strip can draw
// on it too. Gauge, Temperature and Humidity fill the bar proportionally
// from cold blue to hot red.
package termgauge

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/physic"
)

// Opts represents the options available for this display.
type Opts struct {
	// X is the number of blocks.
	X       int
	Palette *ansi256.Palette
	// Min and Max is the range covered by Gauge. The zero value is 0..100.
	Min, Max float64
	// W defaults to a colorable stdout.
	W io.Writer

	_ struct{}
}

// DefaultOpts is a 20 block gauge covering 0 to 100.
var DefaultOpts = Opts{X: 20, Max: 100}

// Dev is a 1D bar of blocks printed on a terminal.
type Dev struct {
	w        io.Writer
	l        int
	palette  ansi256.Palette
	min, max float64

	pixels []byte
	buf    bytes.Buffer
}

var off = color.NRGBA{0x20, 0x20, 0x20, 255}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	d := &Dev{
		w:       opts.W,
		l:       opts.X,
		palette: *p,
		min:     opts.Min,
		max:     opts.Max,
		pixels:  make([]byte, 3*opts.X),
	}
	if d.w == nil {
		d.w = colorable.NewColorableStdout()
	}
	if d.min == 0 && d.max == 0 {
		d.max = 100
	}
	return d
}

func (d *Dev) String() string {
	return fmt.Sprintf("TermGauge{%d}", d.l)
}

// Halt implements conn.Resource.
//
// It resets the terminal attributes and ends the line.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}

// Write accepts a stream of raw RGB pixels and writes it to the console.
func (d *Dev) Write(pixels []byte) (int, error) {
	if len(pixels)%3 != 0 {
		return 0, errors.New("termgauge: invalid RGB stream length")
	}
	copy(d.pixels, pixels)
	return d.refresh()
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return color.NRGBAModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: d.l, Y: 1}}
}

// Draw implements display.Drawer.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	if dY := r.Dy(); dY < srcR.Dy() {
		srcR.Max.Y = srcR.Min.Y + dY
	}
	deltaX3 := 3 * (r.Min.X - srcR.Min.X)
	for sX := srcR.Min.X; sX < srcR.Max.X; sX++ {
		r16, g16, b16, _ := src.At(sX, srcR.Min.Y).RGBA()
		dX3 := 3*sX + deltaX3
		d.pixels[dX3] = byte(r16 >> 8)
		d.pixels[dX3+1] = byte(g16 >> 8)
		d.pixels[dX3+2] = byte(b16 >> 8)
	}
	_, err := d.refresh()
	return err
}

// Gauge lights the fraction of the blocks that v represents in the range of
// the gauge. Values outside the range are clamped, NaN lights nothing.
func (d *Dev) Gauge(v float64) error {
	n := d.Lit(v)
	for i := range d.l {
		c := off
		if i < n {
			c = Heat(float64(i) / float64(max(d.l-1, 1)))
		}
		d.pixels[3*i] = c.R
		d.pixels[3*i+1] = c.G
		d.pixels[3*i+2] = c.B
	}
	_, err := d.refresh()
	return err
}

// Lit returns the number of blocks Gauge lights for v.
func (d *Dev) Lit(v float64) int {
	if math.IsNaN(v) || d.max <= d.min {
		return 0
	}
	f := (v - d.min) / (d.max - d.min)
	f = math.Min(math.Max(f, 0), 1)
	return int(math.Round(f * float64(d.l)))
}

// Temperature shows t in °C.
func (d *Dev) Temperature(t physic.Temperature) error {
	return d.Gauge(float64(t-physic.ZeroCelsius) / float64(physic.Celsius))
}

// Humidity shows h in %rH.
func (d *Dev) Humidity(h physic.RelativeHumidity) error {
	return d.Gauge(float64(h) / float64(physic.PercentRH))
}

// Heat returns the colour of f in 0..1, from blue through green to red.
func Heat(f float64) color.NRGBA {
	f = math.Min(math.Max(f, 0), 1)
	if f < 0.5 {
		g := byte(math.Round(f * 2 * 255))
		return color.NRGBA{0, g, 255 - g, 255}
	}
	r := byte(math.Round((f - 0.5) * 2 * 255))
	return color.NRGBA{r, 255 - r, 0, 255}
}

func (d *Dev) refresh() (int, error) {
	// This code is designed to minimize the amount of memory allocated per call.
	d.buf.Reset()
	_, _ = d.buf.WriteString("\r\033[0m")
	for i := 0; i < len(d.pixels)/3; i++ {
		c := color.NRGBA{d.pixels[3*i], d.pixels[3*i+1], d.pixels[3*i+2], 255}
		_, _ = io.WriteString(&d.buf, d.palette.Block(c))
	}
	_, _ = d.buf.WriteString("\033[0m ")
	_, err := d.buf.WriteTo(d.w)
	return len(d.pixels), err
}

var _ display.Drawer = &Dev{}
var _ fmt.Stringer = &Dev{}
