// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dht22_test

import (
	"fmt"
	"log"

	"github.com/GermanBionicSystems/towersense/dht22"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

func Example() {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	p := gpioreg.ByName("GPIO4")
	if p == nil {
		log.Fatal("failed to find GPIO4")
	}

	d, err := dht22.New(p, nil) // nil for default options or &dht22.DefaultOpts
	if err != nil {
		log.Fatalf("failed to initialize DHT22: %v", err)
	}

	// The sensor needs dht22.MinInterval between two reads.
	r, err := d.Read()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%8s %9s\n", r.Temperature, r.Humidity)
}
