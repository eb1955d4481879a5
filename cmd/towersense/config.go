// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// config is the content of the TOML configuration file.
type config struct {
	OneWirePin string
	DHTPin     string
	RTCClk     string
	RTCDat     string
	RTCCE      string
	// Wait is the conversion time of the thermometer at 12 bits.
	Wait  time.Duration
	Debug bool
	Color bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("onewire.pin", "GPIO2")
	v.SetDefault("dht.pin", "GPIO4")
	v.SetDefault("rtc.clk", "GPIO12")
	v.SetDefault("rtc.dat", "GPIO14")
	v.SetDefault("rtc.ce", "GPIO27")
	v.SetDefault("ds18b20.wait", 750*time.Millisecond)
	v.SetDefault("core.debug", false)
	v.SetDefault("display.color", false)
}

// loadConfig reads the file at path. A missing file is not an error, the
// defaults are used instead.
func loadConfig(path string) (*config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "config %s", path)
		}
		log.WithField("path", path).Debug("no config file, using defaults")
	}
	c := &config{
		OneWirePin: v.GetString("onewire.pin"),
		DHTPin:     v.GetString("dht.pin"),
		RTCClk:     v.GetString("rtc.clk"),
		RTCDat:     v.GetString("rtc.dat"),
		RTCCE:      v.GetString("rtc.ce"),
		Wait:       v.GetDuration("ds18b20.wait"),
		Debug:      v.GetBool("core.debug"),
		Color:      v.GetBool("display.color"),
	}
	if c.Wait <= 0 {
		return nil, errors.Errorf("config %s: ds18b20.wait must be positive", path)
	}
	return c, nil
}
