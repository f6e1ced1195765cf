package main

import (
	"log"
	"os"

	"github.com/relabs-tech/telemetry_node/internal/app"
	"github.com/relabs-tech/telemetry_node/internal/config"
)

func main() {
	log.Println("starting telemetry console (MQTT subscriber)")

	configPath := "telemetry_config.txt"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	if err := config.InitGlobal(configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
