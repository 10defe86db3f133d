package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/lexgo-dev/lexgo"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile  = flag.String("config", getEnv("CONFIG_FILE", "config/lexgo.yaml"), "Server configuration file")
	httpPort    = flag.Int("http-port", getEnvInt("PORT", 0), "Metrics/health port (overrides config, 0 = config value)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("lexgo %s\n", Version)
		return
	}

	log.Printf("Starting lexgo coordination server v%s", Version)
	log.Printf("Config: %s", *configFile)

	loader := lexgo.NewConfigLoader(&lexgo.OSFileReader{})
	config, err := loader.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if config.Server.Version == "dev" {
		config.Server.Version = Version
	}
	if *httpPort > 0 {
		config.Observability.Port = *httpPort
	}

	if err := lexgo.RunWithConfig(config); err != nil {
		log.Fatalf("Error: %v", err)
	}
	log.Println("Server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
