// Command console runs the LED daemon headless: the runner, the program
// store and the HTTP control plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/tliron/commonlog/simple"

	"ledvm/pkg/config"
	"ledvm/pkg/daemon"
)

func main() {
	configPath := flag.String("config", config.FileName, "configuration file (defaults are used if it does not exist)")
	listen := flag.String("listen", "", "override server.listen")
	verbosity := flag.Int("v", -1, "override log.verbosity")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *listen, *verbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	daemon.ConfigureLogging(cfg.Log)

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "daemon failed: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path, listen string, verbosity int) (*config.Config, error) {
	cfg, err := config.LoadIfExists(path)
	if err != nil {
		return nil, err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if verbosity >= 0 {
		cfg.Log.Verbosity = verbosity
	}
	return cfg, nil
}
