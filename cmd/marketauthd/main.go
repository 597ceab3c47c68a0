// Command marketauthd serves the marketauth engine over HTTP.
//
// Engine settings come from MARKETAUTH_* variables (see
// marketauth.LoadConfigFromEnv); daemon settings from the variables and
// flags described by server.ParseConfig.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/marketauth/internal/server"
)

func main() {
	cfg, err := server.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "marketauthd: %v\n", err)
		os.Exit(2)
	}
	logger := server.NewLogger(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Error("marketauthd: exited", "error", err)
		os.Exit(1)
	}
}
