// Command qs-rendezvousd runs the discovery/relay service the
// Endpoint Adapter talks to (SPEC_FULL.md §2.5). It is out of scope as
// a protocol primitive per spec.md §1 -- the core only ever consumes
// it through internal/endpoint -- but the binary must exist for the
// module to be runnable end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rendezvousconfig "github.com/qstransfer/qs/internal/config"
	"github.com/qstransfer/qs/internal/logger"
	"github.com/qstransfer/qs/internal/rendezvous"
	"github.com/qstransfer/qs/internal/semver"
)

// buildVersion is set at build time via -ldflags "-X main.buildVersion=...".
var buildVersion = "0.1.0"

func main() {
	cfg := rendezvousconfig.Server{Port: rendezvousconfig.DefaultPort, Version: buildVersion}
	flag.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on")
	flag.Parse()

	lgr := logger.New()
	defer lgr.Sync()

	ver, err := semver.Local(fmt.Sprintf("v%s", cfg.Version))
	if err != nil {
		fmt.Fprintf(os.Stderr, "qs-rendezvousd: parsing version %q: %v\n", cfg.Version, err)
		os.Exit(1)
	}

	srv := rendezvous.NewServer(cfg.Port, ver, lgr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "qs-rendezvousd: %v\n", err)
		os.Exit(1)
	}
}
