package main

import (
	"os"

	"github.com/joho/godotenv"
	"pospay.backend/internal/cli"
	"pospay.backend/pkg/logger"
)

var version = "dev"

func main() {
	// POS_SERVER_URL and POS_TOKEN may come from a local .env
	_ = godotenv.Load()
	defer logger.Sync()

	if err := cli.Execute(version); err != nil {
		logger.Sync()
		os.Exit(1)
	}
}
