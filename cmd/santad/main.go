// Command santad is the daemon entrypoint: it loads configuration, wires
// every component via internal/engine, and runs until told to shut down
// (grounded on strongdm-leash's leashd daemon main, internal/leashd/darwin_main.go).
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/northpolesec/santa-sub009/internal/config"
	"github.com/northpolesec/santa-sub009/internal/engine"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "/var/db/santad/santad.toml", "path to the daemon's TOML configuration")
	printVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("santad version %s (%s)\n", version, commit)
		return
	}

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// No codesign.Extractor is wired here: resolving a created binary's
	// hash for transitive allowlisting requires host code-signing
	// extraction, which is out-of-scope host integration (internal/codesign).
	e, err := engine.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer e.Close()

	e.DaemonLog.Info("santad", "started in %s mode, rules=%s spool=%s", cfg.Mode, cfg.RuleStorePath, cfg.SpoolDir)

	feedStop := make(chan struct{})
	go e.Run(feedStop)
	defer close(feedStop)

	if cfg.AdminFeedListenAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.AdminFeedListenAddr, e.AdminFeed); err != nil {
				e.DaemonLog.Error("santad", "admin feed listener: %v", err)
			}
		}()
	}

	// Power-event draining (spec §5, SUPPLEMENTED FEATURES): SIGTSTP/SIGCONT
	// stand in for the host sleep/wake notification this daemon never
	// receives directly outside its real Endpoint Security host integration.
	powerCh := make(chan os.Signal, 1)
	signal.Notify(powerCh, syscall.SIGTSTP, syscall.SIGCONT)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case sig := <-powerCh:
			switch sig {
			case syscall.SIGTSTP:
				e.Suspend()
			case syscall.SIGCONT:
				e.Resume()
			}
		case sig := <-shutdownCh:
			e.DaemonLog.Info("santad", "shutting down on signal %s", sig.String())
			return nil
		}
	}
}
