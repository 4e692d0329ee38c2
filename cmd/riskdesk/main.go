package main

import (
	"context"
	"os"

	"github.com/g960059/riskdesk/internal/cli"
	"github.com/g960059/riskdesk/internal/config"
)

func main() {
	cfg := config.DefaultConfig()
	if v := os.Getenv("RISKDESK_SOCKET"); v != "" {
		cfg.SocketPath = v
	}
	r := cli.NewRunner(cfg.SocketPath, os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), os.Args[1:]))
}
