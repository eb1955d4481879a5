// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// towersense reads the sensors of a hydroponic tower: a DS18B20 in the water
// tank, a DHT22 for the air and a DS1302 real time clock.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// buildTime is set with -ldflags "-X main.buildTime=2025-01-02T15:04:05Z".
var buildTime string

var cfg *config

func main() {
	app := cli.NewApp()

	// base application info
	app.Name = "towersense"
	app.Usage = "read the sensors of a hydroponic tower"
	app.Version = "0.1.0"

	// flags
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "./configs/towersense.toml",
			Usage: "load configuration from `FILE`",
		},
	}
	app.Before = setup

	app.Commands = []cli.Command{
		{
			Name:   "temperature",
			Usage:  "read the water temperature",
			Action: withStation(func(s *station, _ *cli.Context) error { return s.printTemperature() }),
		},
		{
			Name:   "climate",
			Usage:  "read the air temperature and humidity",
			Action: withStation(func(s *station, _ *cli.Context) error { return s.printClimate() }),
		},
		{
			Name:  "clock",
			Usage: "real time clock",
			Subcommands: []cli.Command{
				{
					Name:   "get",
					Usage:  "print the time",
					Action: withStation(clockGet),
				},
				{
					Name:      "set",
					Usage:     "set the time",
					ArgsUsage: "<RFC3339 time>",
					Action:    withStation(clockSet),
				},
				{
					Name:   "seed",
					Usage:  "set the time to the build time, or to the host time",
					Action: withStation(clockSeed),
				},
			},
		},
		{
			Name:   "sample",
			Usage:  "read every sensor and print one line",
			Action: withStation(sample),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup(c *cli.Context) error {
	var err error
	if cfg, err = loadConfig(c.String("config")); err != nil {
		return err
	}
	log.SetOutput(colorable.NewColorableStderr())
	log.SetFormatter(&log.TextFormatter{DisableColors: !cfg.Color, FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func withStation(f func(s *station, c *cli.Context) error) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		s, err := openStation(cfg, colorable.NewColorableStdout())
		if err != nil {
			return err
		}
		defer s.halt()
		return f(s, c)
	}
}

func clockGet(s *station, _ *cli.Context) error {
	now, err := s.rtc.Now()
	if err != nil {
		return errors.Wrap(err, "clock")
	}
	_, err = fmt.Fprintln(s.out, now.Format(time.RFC3339))
	return err
}

func clockSet(s *station, c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("clock set takes one RFC3339 time")
	}
	t, err := time.Parse(time.RFC3339, c.Args().First())
	if err != nil {
		return errors.Wrap(err, "clock set")
	}
	if err := s.rtc.Set(t); err != nil {
		return errors.Wrap(err, "clock set")
	}
	log.WithField("time", t).Info("clock set")
	return nil
}

func clockSeed(s *station, _ *cli.Context) error {
	t, source, err := seedTime(buildTime, time.Now)
	if err != nil {
		return err
	}
	if err := s.rtc.Set(t); err != nil {
		return errors.Wrap(err, "clock seed")
	}
	log.WithFields(log.Fields{"time": t, "source": source}).Info("clock seeded")
	return nil
}

func sample(s *station, _ *cli.Context) error {
	line, err := s.sample()
	if _, werr := fmt.Fprintln(s.out, line); werr != nil {
		return werr
	}
	if err != nil {
		log.WithError(err).Warn("some sensors failed")
	}
	return err
}
