package main

import (
	"os"

	"github.com/iTrooz/offline-cache-proxy/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
