// Command relay-login signs in through an oauth-relay the way a native game
// client does and prints the delivered session as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dzerik/oauth-relay/pkg/logger"
	"github.com/dzerik/oauth-relay/pkg/loopback"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("relay-login", flag.ContinueOnError)
	relayURL := fs.String("relay", os.Getenv("OAUTH_RELAY_URL"), "Relay base URL including base path, e.g. https://relay.example.com/api")
	port := fs.Int("port", 0, "Loopback port (0 picks a free one)")
	noBrowser := fs.Bool("no-browser", false, "Print the login URL instead of opening a browser")
	timeout := fs.Duration("timeout", 5*time.Minute, "How long to wait for the session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logCfg := logger.DefaultConfig()
	logCfg.Format = "console"
	logCfg.OutputPaths = []string{"stderr"}
	if err := logger.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	session, err := loopback.Login(ctx, loopback.Config{
		RelayURL:    *relayURL,
		Port:        *port,
		SkipBrowser: *noBrowser,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(session)
}
