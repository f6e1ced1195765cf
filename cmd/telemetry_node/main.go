// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"log"
	"os"

	"github.com/relabs-tech/telemetry_node/internal/app"
	"github.com/relabs-tech/telemetry_node/internal/config"
)

func main() {
	log.Println("starting telemetry node (GPS + BLE → uplink)")

	configPath := "telemetry_config.txt"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := config.InitGlobal(configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunNode(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
