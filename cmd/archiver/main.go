/*
main.go - Application entry point

PURPOSE:
  Starts the ledger archiver CLI. Loads .env, builds the configuration,
  initializes logging, then hands over to the cobra commands.

COMMANDS:
  serve               HTTP API plus in-process scheduler
  run <job> [--date]  Invoke one job and print its manifest
  runs [--job]        List recent run records

ENVIRONMENT:
  See config/config.go for the full list. A .env file in the working
  directory is loaded first when present.

SEE ALSO:
  - root.go: Command tree
  - serve.go: Server startup and graceful shutdown
*/
package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/agencyops/ledger-archive/config"
	"github.com/agencyops/ledger-archive/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	c, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := logger.Setup(c.GetLoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	cfg = c

	Execute()
}
